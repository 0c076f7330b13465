package store

import (
	"context"
	"database/sql"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"forge/internal/chatmodel"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_summary_update INTEGER NOT NULL DEFAULT 0,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	summary_json TEXT
);

CREATE TABLE IF NOT EXISTS records (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	turn_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	type TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	tool_call_id TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL DEFAULT '',
	arguments_json TEXT NOT NULL DEFAULT '',
	reasoning_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	duration_ms INTEGER
);

CREATE INDEX IF NOT EXISTS idx_records_conversation_created
	ON records (conversation_id, created_at);
`

// SQLiteRepository is a Repository backed by modernc.org/sqlite, the
// pure-Go CGO-free driver the rest of the pack's examples depend on
// transitively for local durable storage. Preferred over MemoryRepository
// whenever a process restart must not lose conversation history.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLiteRepository opens (creating if necessary) a SQLite database file
// at path and ensures its schema exists.
func OpenSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open sqlite database %q: %w", path, err)
	}
	// modernc.org/sqlite does not support concurrent writers on one
	// connection; serialize access the way database/sql recommends for
	// SQLite by capping the pool to one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to initialise schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) CreateConversation(ctx context.Context, conv Conversation) error {
	metadataJSON, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("store: failed to marshal metadata: %w", err)
	}

	var summaryJSON any
	if conv.Summary != nil {
		b, err := json.Marshal(conv.Summary)
		if err != nil {
			return fmt.Errorf("store: failed to marshal summary: %w", err)
		}
		summaryJSON = string(b)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, created_at, updated_at, last_summary_update, metadata_json, summary_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			updated_at = excluded.updated_at
	`, conv.ID, conv.UserID, conv.CreatedAt, conv.UpdatedAt, conv.LastSummaryUpdate, string(metadataJSON), summaryJSON)
	if err != nil {
		return fmt.Errorf("store: failed to create conversation %q: %w", conv.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetConversation(ctx context.Context, id string) (Conversation, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, created_at, updated_at, last_summary_update, metadata_json, summary_json
		FROM conversations WHERE id = ?
	`, id)

	var conv Conversation
	conv.ID = id
	var metadataJSON string
	var summaryJSON sql.NullString

	if err := row.Scan(&conv.UserID, &conv.CreatedAt, &conv.UpdatedAt, &conv.LastSummaryUpdate, &metadataJSON, &summaryJSON); err != nil {
		if err == sql.ErrNoRows {
			return Conversation{}, false, nil
		}
		return Conversation{}, false, fmt.Errorf("store: failed to load conversation %q: %w", id, err)
	}

	if err := json.Unmarshal([]byte(metadataJSON), &conv.Metadata); err != nil {
		return Conversation{}, false, fmt.Errorf("store: failed to unmarshal metadata: %w", err)
	}
	if summaryJSON.Valid && summaryJSON.String != "" {
		var s chatmodel.Summary
		if err := json.Unmarshal([]byte(summaryJSON.String), &s); err != nil {
			return Conversation{}, false, fmt.Errorf("store: failed to unmarshal summary: %w", err)
		}
		conv.Summary = &s
	}

	return conv, true, nil
}

func (r *SQLiteRepository) DeleteConversation(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("store: failed to delete records for %q: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: failed to delete conversation %q: %w", id, err)
	}
	return tx.Commit()
}

func (r *SQLiteRepository) AppendRecords(ctx context.Context, conversationID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin append transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (id, conversation_id, turn_id, user_id, role, type, text, tool_call_id, tool_name, arguments_json, reasoning_id, created_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var durationMs any
		if rec.DurationMs != nil {
			durationMs = *rec.DurationMs
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID, conversationID, rec.TurnID, rec.UserID, string(rec.Role), string(rec.Type), rec.Text,
			rec.ToolCallID, rec.ToolName, rec.ArgumentsJSON, rec.ReasoningID, rec.CreatedAt, durationMs,
		); err != nil {
			return fmt.Errorf("store: failed to insert record %q: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) GetAfter(ctx context.Context, conversationID string, sinceCreatedAt int64) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, turn_id, user_id, role, type, text, tool_call_id, tool_name, arguments_json, reasoning_id, created_at, duration_ms
		FROM records
		WHERE conversation_id = ? AND created_at > ?
		ORDER BY created_at ASC
	`, conversationID, sinceCreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var role, recType string
		var durationMs sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.TurnID, &rec.UserID, &role, &recType, &rec.Text, &rec.ToolCallID, &rec.ToolName, &rec.ArgumentsJSON, &rec.ReasoningID, &rec.CreatedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("store: failed to scan record: %w", err)
		}
		rec.ConversationID = conversationID
		rec.Role = chatmodel.Role(role)
		rec.Type = RecordType(recType)
		if durationMs.Valid {
			d := durationMs.Int64
			rec.DurationMs = &d
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetSummary(ctx context.Context, conversationID string) (*chatmodel.Summary, error) {
	conv, ok, err := r.GetConversation(ctx, conversationID)
	if err != nil || !ok {
		return nil, err
	}
	return conv.Summary, nil
}

func (r *SQLiteRepository) SetSummary(ctx context.Context, conversationID string, summary chatmodel.Summary) error {
	b, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("store: failed to marshal summary: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET summary_json = ?, last_summary_update = ? WHERE id = ?
	`, string(b), summary.GeneratedAt, conversationID)
	if err != nil {
		return fmt.Errorf("store: failed to set summary for %q: %w", conversationID, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("store: cannot set summary, conversation %q does not exist", conversationID)
	}
	return nil
}
