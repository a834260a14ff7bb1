package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uveral/diario/internal/deadman"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "diario.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_CreatesSchema(t *testing.T) {
	store := newTestStore(t)

	for _, table := range []string{"entries", "deadman_settings", "meta"} {
		var count int
		err := store.db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	version, err := store.schemaVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, version)

	var rows int
	require.NoError(t, store.db.Get(&rows, "SELECT COUNT(*) FROM deadman_settings"))
	assert.Equal(t, 1, rows)

	require.NoError(t, store.Ping(context.Background()))
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diario.db")

	first, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, first.CheckIn(ctx, at))
	require.NoError(t, first.Close())

	second, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()

	s, err := second.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, s.LastCheckIn.Equal(at))
}

func TestNew_UpgradesLegacySettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	legacy, err := sqlx.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = legacy.Exec(`
		CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);
		INSERT INTO meta(key, value) VALUES ('schema_version', '1');
		CREATE TABLE entries (id TEXT PRIMARY KEY, content TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL, audio_key TEXT, audio_duration_sec INTEGER);
		CREATE TABLE deadman_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			check_in_hours INTEGER NOT NULL DEFAULT 720,
			warning_hours INTEGER NOT NULL DEFAULT 168,
			last_check_in_ts INTEGER NOT NULL,
			owner_email TEXT NOT NULL DEFAULT '',
			notify_emails TEXT NOT NULL DEFAULT '',
			last_notified_ts INTEGER
		);
		INSERT INTO deadman_settings (id, check_in_hours, last_check_in_ts, owner_email)
		VALUES (1, 48, 1700000000000, 'owner@example.com');
	`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	s, err := store.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 48, s.CheckInHours)
	assert.Equal(t, "owner@example.com", s.OwnerEmail)
	assert.Equal(t, 0, s.LastNotifiedStage)
	assert.Equal(t, int64(1700000000000), s.LastCheckIn.UnixMilli())
}

func TestNew_UpgradesEarliestSettingsShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "earliest.db")

	legacy, err := sqlx.Open("sqlite", "file:"+path)
	require.NoError(t, err)
	_, err = legacy.Exec(`
		CREATE TABLE deadman_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			check_in_hours INTEGER NOT NULL DEFAULT 720,
			warning_hours INTEGER NOT NULL DEFAULT 168,
			last_check_in_ts INTEGER NOT NULL,
			notify_emails TEXT NOT NULL DEFAULT ''
		);
		INSERT INTO deadman_settings (id, check_in_hours, last_check_in_ts, notify_emails)
		VALUES (1, 96, 1700000000000, 'a@example.com,b@example.com');
	`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	s, err := store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 96, s.CheckInHours)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, s.NotifyEmails)
	assert.Empty(t, s.OwnerEmail)
	assert.Equal(t, 0, s.LastNotifiedStage)
	assert.Nil(t, s.LastNotifiedAt)

	ok, err := store.AdvanceStage(ctx, s.Watermark(), 1, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSettings_Defaults(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	// The row seeded at open is replaced by one stamped with the test clock.
	_, err := store.db.Exec("DELETE FROM deadman_settings")
	require.NoError(t, err)

	s, err := store.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deadman.DefaultCheckInHours, s.CheckInHours)
	assert.Equal(t, deadman.DefaultWarningHours, s.WarningHours)
	assert.True(t, s.LastCheckIn.Equal(now))
	assert.Empty(t, s.OwnerEmail)
	assert.Empty(t, s.NotifyEmails)
	assert.Equal(t, 0, s.LastNotifiedStage)
	assert.Nil(t, s.LastNotifiedAt)
}

func TestSaveConfiguration_LeavesWatermark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	before, err := store.Settings(ctx)
	require.NoError(t, err)
	ok, err := store.AdvanceStage(ctx, before.Watermark(), 2, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	checkIn, warning, owner := 48, 12, "owner@example.com"
	require.NoError(t, store.SaveConfiguration(ctx, deadman.ConfigChange{
		CheckInHours: &checkIn,
		WarningHours: &warning,
		OwnerEmail:   &owner,
		NotifyEmails: []string{"a@example.com", "b@example.com", "a@example.com"},
	}))

	after, err := store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 48, after.CheckInHours)
	assert.Equal(t, 12, after.WarningHours)
	assert.Equal(t, "owner@example.com", after.OwnerEmail)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, after.NotifyEmails)
	assert.Equal(t, 2, after.LastNotifiedStage)
	assert.True(t, after.LastCheckIn.Equal(before.LastCheckIn))
}

func TestSaveConfiguration_OnlyPresentFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner := "owner@example.com"
	require.NoError(t, store.SaveConfiguration(ctx, deadman.ConfigChange{OwnerEmail: &owner}))
	require.NoError(t, store.SaveConfiguration(ctx, deadman.ConfigChange{
		NotifyEmails: []string{"heir@example.com"},
	}))

	s, err := store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", s.OwnerEmail)
	assert.Equal(t, []string{"heir@example.com"}, s.NotifyEmails)
	assert.Equal(t, deadman.DefaultCheckInHours, s.CheckInHours)
	assert.Equal(t, deadman.DefaultWarningHours, s.WarningHours)

	require.NoError(t, store.SaveConfiguration(ctx, deadman.ConfigChange{NotifyEmails: []string{}}))
	s, err = store.Settings(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.NotifyEmails)
	assert.Equal(t, "owner@example.com", s.OwnerEmail)
}

func TestCheckIn_ResetsWatermark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s, err := store.Settings(ctx)
	require.NoError(t, err)
	ok, err := store.AdvanceStage(ctx, s.Watermark(), 3, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	at := time.Now().Add(time.Minute).Truncate(time.Millisecond)
	require.NoError(t, store.CheckIn(ctx, at))

	s, err = store.Settings(ctx)
	require.NoError(t, err)
	assert.True(t, s.LastCheckIn.Equal(at))
	assert.Equal(t, 0, s.LastNotifiedStage)
	assert.Nil(t, s.LastNotifiedAt)
}

func TestAdvanceStage_Conditional(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	s, err := store.Settings(ctx)
	require.NoError(t, err)
	stale := s.Watermark()

	ok, err := store.AdvanceStage(ctx, stale, 1, at)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same observation again: the stored stage has moved on.
	ok, err = store.AdvanceStage(ctx, stale, 2, at)
	require.NoError(t, err)
	assert.False(t, ok)

	// Stage never moves backwards.
	s, err = store.Settings(ctx)
	require.NoError(t, err)
	ok, err = store.AdvanceStage(ctx, s.Watermark(), 1, at)
	require.NoError(t, err)
	assert.False(t, ok)

	// A check-in between read and write fences the advance.
	observed := s.Watermark()
	require.NoError(t, store.CheckIn(ctx, at.Add(time.Hour)))
	ok, err = store.AdvanceStage(ctx, observed, 2, at)
	require.NoError(t, err)
	assert.False(t, ok)

	s, err = store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.LastNotifiedStage)
	assert.Nil(t, s.LastNotifiedAt)
}

func TestAdvanceStage_RecordsTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)

	s, err := store.Settings(ctx)
	require.NoError(t, err)
	ok, err := store.AdvanceStage(ctx, s.Watermark(), 6, at)
	require.NoError(t, err)
	require.True(t, ok)

	s, err = store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, s.LastNotifiedStage)
	require.NotNil(t, s.LastNotifiedAt)
	assert.True(t, s.LastNotifiedAt.Equal(at))
}

func TestRecordNotification(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordNotification(ctx, at))

	s, err := store.Settings(ctx)
	require.NoError(t, err)
	require.NotNil(t, s.LastNotifiedAt)
	assert.True(t, s.LastNotifiedAt.Equal(at))
	assert.Equal(t, 0, s.LastNotifiedStage)
}

func TestSettings_SingleRow(t *testing.T) {
	store := newTestStore(t)
	_, err := store.db.Exec("INSERT INTO deadman_settings (id, last_check_in_ts) VALUES (2, 0)")
	assert.Error(t, err)
}

func TestEntries_CreateAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateEntry(ctx, Entry{ID: "e1", Content: "first", CreatedAt: base}))
	require.NoError(t, store.CreateEntry(ctx, Entry{
		ID:               "e2",
		CreatedAt:        base.Add(time.Hour),
		AudioKey:         "audio/2026-01-01/x.webm",
		AudioDurationSec: 42,
	}))
	require.NoError(t, store.CreateEntry(ctx, Entry{ID: "e3", Content: "third", CreatedAt: base.Add(2 * time.Hour)}))

	entries, err := store.ListEntries(ctx, 200)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"e3", "e2", "e1"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, "audio/2026-01-01/x.webm", entries[1].AudioKey)
	assert.Equal(t, 42, entries[1].AudioDurationSec)
	assert.Equal(t, "", entries[2].AudioKey)
	assert.True(t, entries[2].CreatedAt.Equal(base))

	limited, err := store.ListEntries(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestEntries_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateEntry(ctx, Entry{ID: "dup", Content: "a"}))
	assert.Error(t, store.CreateEntry(ctx, Entry{ID: "dup", Content: "b"}))
}
