package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uveral/diario/internal/deadman"
)

type settingsRow struct {
	CheckInHours      int           `db:"check_in_hours"`
	WarningHours      int           `db:"warning_hours"`
	LastCheckIn       int64         `db:"last_check_in_ts"`
	OwnerEmail        string        `db:"owner_email"`
	NotifyEmails      string        `db:"notify_emails"`
	LastNotifiedStage int           `db:"last_notified_stage"`
	LastNotifiedAt    sql.NullInt64 `db:"last_notified_ts"`
}

func (r settingsRow) settings() deadman.Settings {
	s := deadman.Settings{
		CheckInHours:      r.CheckInHours,
		WarningHours:      r.WarningHours,
		LastCheckIn:       time.UnixMilli(r.LastCheckIn).UTC(),
		OwnerEmail:        r.OwnerEmail,
		NotifyEmails:      deadman.ParseEmails(r.NotifyEmails),
		LastNotifiedStage: r.LastNotifiedStage,
	}
	if r.LastNotifiedAt.Valid {
		at := time.UnixMilli(r.LastNotifiedAt.Int64).UTC()
		s.LastNotifiedAt = &at
	}
	return s
}

// Settings returns the dead man's switch record, creating the default row
// when it is missing.
func (s *Store) Settings(ctx context.Context) (deadman.Settings, error) {
	if err := s.seedSettings(ctx); err != nil {
		return deadman.Settings{}, err
	}

	var row settingsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT check_in_hours, warning_hours, last_check_in_ts, owner_email,
		       notify_emails, last_notified_stage, last_notified_ts
		FROM deadman_settings WHERE id = 1`)
	if err != nil {
		return deadman.Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return row.settings(), nil
}

// SaveConfiguration writes the present fields of c; absent fields keep
// their stored values.
func (s *Store) SaveConfiguration(ctx context.Context, c deadman.ConfigChange) error {
	if err := s.seedSettings(ctx); err != nil {
		return err
	}

	var emails sql.NullString
	if c.NotifyEmails != nil {
		emails = sql.NullString{String: deadman.JoinEmails(c.NotifyEmails), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE deadman_settings
		SET check_in_hours = COALESCE(?, check_in_hours),
		    warning_hours  = COALESCE(?, warning_hours),
		    owner_email    = COALESCE(?, owner_email),
		    notify_emails  = COALESCE(?, notify_emails)
		WHERE id = 1`,
		nullInt(c.CheckInHours), nullInt(c.WarningHours), nullString(c.OwnerEmail), emails)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// CheckIn sets the check-in time and clears the watermark in one statement.
func (s *Store) CheckIn(ctx context.Context, at time.Time) error {
	if err := s.seedSettings(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE deadman_settings
		SET last_check_in_ts = ?, last_notified_stage = 0, last_notified_ts = NULL
		WHERE id = 1`, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to check in: %w", err)
	}
	return nil
}

// AdvanceStage moves the watermark to stage only if it still matches from.
func (s *Store) AdvanceStage(ctx context.Context, from deadman.Watermark, stage int, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE deadman_settings
		SET last_notified_stage = ?, last_notified_ts = ?
		WHERE id = 1
		  AND last_notified_stage = ?
		  AND last_check_in_ts = ?
		  AND last_notified_stage < ?`,
		stage, at.UnixMilli(), from.Stage, from.LastCheckIn.UnixMilli(), stage)
	if err != nil {
		return false, fmt.Errorf("failed to advance stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to advance stage: %w", err)
	}
	return n == 1, nil
}

// RecordNotification stamps the last notification time.
func (s *Store) RecordNotification(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deadman_settings SET last_notified_ts = ? WHERE id = 1`, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

func (s *Store) seedSettings(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deadman_settings (id, last_check_in_ts) VALUES (1, ?)`,
		s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	return nil
}

var _ deadman.Store = (*Store)(nil)
