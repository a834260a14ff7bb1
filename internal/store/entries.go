package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entry is a journal entry.
type Entry struct {
	ID               string
	Content          string
	CreatedAt        time.Time
	AudioKey         string
	AudioDurationSec int
}

type entryRow struct {
	ID               string         `db:"id"`
	Content          string         `db:"content"`
	CreatedAt        int64          `db:"created_at"`
	AudioKey         sql.NullString `db:"audio_key"`
	AudioDurationSec sql.NullInt64  `db:"audio_duration_sec"`
}

func (r entryRow) entry() Entry {
	return Entry{
		ID:               r.ID,
		Content:          r.Content,
		CreatedAt:        time.UnixMilli(r.CreatedAt).UTC(),
		AudioKey:         r.AudioKey.String,
		AudioDurationSec: int(r.AudioDurationSec.Int64),
	}
}

// CreateEntry inserts a new entry.
func (s *Store) CreateEntry(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (id, content, created_at, audio_key, audio_duration_sec)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Content, e.CreatedAt.UnixMilli(),
		sql.NullString{String: e.AudioKey, Valid: e.AudioKey != ""},
		sql.NullInt64{Int64: int64(e.AudioDurationSec), Valid: e.AudioKey != ""},
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// ListEntries returns up to limit entries, newest first.
func (s *Store) ListEntries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []entryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, content, created_at, audio_key, audio_duration_sec
		FROM entries
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}
