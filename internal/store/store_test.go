package store

import (
	"context"
	"testing"

	"forge/internal/chatmodel"
)

func TestMemoryRepositoryCreateAndGetConversation(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	conv := Conversation{ID: "c1", UserID: "u1", CreatedAt: 100, UpdatedAt: 100}
	if err := repo.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	got, ok, err := repo.GetConversation(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("expected conversation to be found, ok=%v err=%v", ok, err)
	}
	if got.UserID != "u1" {
		t.Fatalf("unexpected user id: %+v", got)
	}
}

func TestMemoryRepositoryGetAfterFiltersByTimestamp(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	repo.CreateConversation(ctx, Conversation{ID: "c1"})

	records := []Record{
		{ID: "r1", CreatedAt: 10, Type: RecordTypeMessage, Text: "a"},
		{ID: "r2", CreatedAt: 20, Type: RecordTypeMessage, Text: "b"},
		{ID: "r3", CreatedAt: 30, Type: RecordTypeMessage, Text: "c"},
	}
	if err := repo.AppendRecords(ctx, "c1", records); err != nil {
		t.Fatalf("AppendRecords failed: %v", err)
	}

	after, err := repo.GetAfter(ctx, "c1", 15)
	if err != nil {
		t.Fatalf("GetAfter failed: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("expected 2 records after ts=15, got %d: %+v", len(after), after)
	}
	if after[0].ID != "r2" || after[1].ID != "r3" {
		t.Fatalf("unexpected records: %+v", after)
	}
}

func TestMemoryRepositorySummaryRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	repo.CreateConversation(ctx, Conversation{ID: "c1"})

	summary := chatmodel.Summary{Text: "recap", GeneratedAt: 500, ReplacedTurnsCount: 10}
	if err := repo.SetSummary(ctx, "c1", summary); err != nil {
		t.Fatalf("SetSummary failed: %v", err)
	}

	got, err := repo.GetSummary(ctx, "c1")
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if got == nil || got.Text != "recap" {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestMemoryRepositoryDeleteConversationRemovesRecords(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	repo.CreateConversation(ctx, Conversation{ID: "c1"})
	repo.AppendRecords(ctx, "c1", []Record{{ID: "r1", CreatedAt: 1}})

	if err := repo.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	_, ok, _ := repo.GetConversation(ctx, "c1")
	if ok {
		t.Fatal("expected conversation to be gone")
	}
	after, _ := repo.GetAfter(ctx, "c1", 0)
	if len(after) != 0 {
		t.Fatalf("expected no records after delete, got %+v", after)
	}
}

func TestMemoryRepositoryGetSummaryWithNoneReturnsNil(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	repo.CreateConversation(ctx, Conversation{ID: "c1"})

	got, err := repo.GetSummary(ctx, "c1")
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil summary, got %+v", got)
	}
}
