package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/domain"

	_ "modernc.org/sqlite"
)

// Store is an append-only SQLite transcript of relay outcomes. Nothing in
// the relay pipeline reads it back; it exists for operators.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS relay_log (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		channel        TEXT NOT NULL,
		chat_id        TEXT NOT NULL,
		thread_id      TEXT,
		sender_id      TEXT,
		outcome        TEXT NOT NULL,
		reply          TEXT,
		error          TEXT,
		had_attachment INTEGER NOT NULL DEFAULT 0,
		latency_ms     INTEGER NOT NULL DEFAULT 0,
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_relay_log_created ON relay_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_relay_log_channel ON relay_log(channel, chat_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one relay outcome.
func (s *Store) Record(ctx context.Context, rec domain.RelayRecord) error {
	hadAttachment := 0
	if rec.HadAttachment {
		hadAttachment = 1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_log (channel, chat_id, thread_id, sender_id, outcome, reply, error, had_attachment, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Channel, rec.ChatID, rec.ThreadID, rec.SenderID,
		rec.Outcome, rec.Reply, rec.Error, hadAttachment, rec.LatencyMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record relay outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.RelayRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, chat_id, thread_id, sender_id, outcome, reply, error, had_attachment, latency_ms, created_at
		FROM relay_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query relay log: %w", err)
	}
	defer rows.Close()

	var recs []domain.RelayRecord
	for rows.Next() {
		var rec domain.RelayRecord
		var hadAttachment int
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.ChatID, &rec.ThreadID, &rec.SenderID,
			&rec.Outcome, &rec.Reply, &rec.Error, &hadAttachment, &rec.LatencyMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan relay record: %w", err)
		}
		rec.HadAttachment = hadAttachment != 0
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Prune deletes records older than retentionDays. A non-positive retention
// keeps everything.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM relay_log WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune relay log: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned relay log", "removed", n, "retention_days", retentionDays)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
