package history

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := NewStore(dbPath, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	recs := []domain.RelayRecord{
		{Channel: "slack", ChatID: "C123", ThreadID: "1700000000.0001", SenderID: "U42", Outcome: "reply", Reply: "hi there", LatencyMS: 230},
		{Channel: "telegram", ChatID: "-100987", ThreadID: "55", SenderID: "777", Outcome: "error", Error: "inference timed out", HadAttachment: true, LatencyMS: 30015},
	}
	for _, rec := range recs {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	// Newest first.
	if got[0].Channel != "telegram" {
		t.Errorf("expected telegram first, got %s", got[0].Channel)
	}
	if got[0].Outcome != "error" || got[0].Error != "inference timed out" {
		t.Errorf("error record round-trip: %+v", got[0])
	}
	if !got[0].HadAttachment {
		t.Error("had_attachment lost")
	}
	if got[1].Reply != "hi there" {
		t.Errorf("reply record round-trip: %+v", got[1])
	}
	if got[1].CreatedAt.IsZero() {
		t.Error("created_at should be populated")
	}
}

func TestRecentLimit(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Record(ctx, domain.RelayRecord{Channel: "slack", ChatID: "C1", Outcome: "reply"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 records, got %d", len(got))
	}
}

func TestPrune(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	old := domain.RelayRecord{Channel: "slack", ChatID: "C1", Outcome: "reply", CreatedAt: time.Now().UTC().AddDate(0, 0, -40)}
	fresh := domain.RelayRecord{Channel: "slack", ChatID: "C1", Outcome: "reply"}
	if err := store.Record(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := store.Record(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	removed, err := store.Prune(ctx, 30)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 pruned, got %d", removed)
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 record after prune, got %d", len(got))
	}
}

func TestPruneDisabled(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, domain.RelayRecord{Channel: "slack", ChatID: "C1", Outcome: "reply", CreatedAt: time.Now().UTC().AddDate(0, 0, -400)}); err != nil {
		t.Fatal(err)
	}
	removed, err := store.Prune(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Errorf("retention 0 should keep everything, pruned %d", removed)
	}
}
