package store

import (
	"context"
	"path/filepath"
	"testing"

	"forge/internal/chatmodel"
)

func openTestSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.db")
	repo, err := OpenSQLiteRepository(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLiteRepository failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepositoryCreateAndGetConversation(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()

	conv := Conversation{
		ID:        "c1",
		UserID:    "u1",
		CreatedAt: 100,
		UpdatedAt: 100,
		Metadata:  ConversationMetadata{Title: "first chat", Tags: []string{"support"}},
	}
	if err := repo.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	got, ok, err := repo.GetConversation(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("expected conversation, ok=%v err=%v", ok, err)
	}
	if got.Metadata.Title != "first chat" || len(got.Metadata.Tags) != 1 {
		t.Fatalf("unexpected metadata round trip: %+v", got.Metadata)
	}
}

func TestSQLiteRepositoryAppendAndGetAfter(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()
	repo.CreateConversation(ctx, Conversation{ID: "c1", CreatedAt: 1, UpdatedAt: 1})

	records := []Record{
		{ID: "r1", Role: chatmodel.RoleUser, Type: RecordTypeMessage, Text: "hi", CreatedAt: 10},
		{ID: "r2", Role: chatmodel.RoleAssistant, Type: RecordTypeMessage, Text: "hello", CreatedAt: 20},
	}
	if err := repo.AppendRecords(ctx, "c1", records); err != nil {
		t.Fatalf("AppendRecords failed: %v", err)
	}

	after, err := repo.GetAfter(ctx, "c1", 5)
	if err != nil {
		t.Fatalf("GetAfter failed: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(after), after)
	}
	if after[0].Text != "hi" || after[1].Text != "hello" {
		t.Fatalf("unexpected order/content: %+v", after)
	}
}

func TestSQLiteRepositorySummaryRoundTrip(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()
	repo.CreateConversation(ctx, Conversation{ID: "c1", CreatedAt: 1, UpdatedAt: 1})

	summary := chatmodel.Summary{Text: "recap of the last 60 turns", GeneratedAt: 999, ReplacedTurnsCount: 60, TokensAtGeneration: 4000}
	if err := repo.SetSummary(ctx, "c1", summary); err != nil {
		t.Fatalf("SetSummary failed: %v", err)
	}

	got, err := repo.GetSummary(ctx, "c1")
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if got == nil || got.Text != summary.Text || got.ReplacedTurnsCount != 60 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestSQLiteRepositoryDeleteConversationCascadesRecords(t *testing.T) {
	repo := openTestSQLite(t)
	ctx := context.Background()
	repo.CreateConversation(ctx, Conversation{ID: "c1", CreatedAt: 1, UpdatedAt: 1})
	repo.AppendRecords(ctx, "c1", []Record{{ID: "r1", CreatedAt: 1, Type: RecordTypeMessage}})

	if err := repo.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	_, ok, err := repo.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if ok {
		t.Fatal("expected conversation to be gone")
	}

	after, err := repo.GetAfter(ctx, "c1", 0)
	if err != nil {
		t.Fatalf("GetAfter failed: %v", err)
	}
	if len(after) != 0 {
		t.Fatalf("expected no surviving records, got %+v", after)
	}
}

func TestSQLiteRepositorySetSummaryOnMissingConversationErrors(t *testing.T) {
	repo := openTestSQLite(t)
	err := repo.SetSummary(context.Background(), "does-not-exist", chatmodel.Summary{Text: "x", GeneratedAt: 1})
	if err == nil {
		t.Fatal("expected an error setting summary on a missing conversation")
	}
}
