package deadman

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uveral/diario/internal/mail"
)

type memStore struct {
	mu       sync.Mutex
	settings Settings
	readErr  error

	// beforeAdvance runs inside AdvanceStage before the watermark check.
	beforeAdvance func(s *Settings)
	// beforeSave runs inside SaveConfiguration before the write.
	beforeSave func(s *Settings)
}

func newMemStore(s Settings) *memStore {
	return &memStore{settings: s}
}

func (m *memStore) Settings(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return Settings{}, m.readErr
	}
	s := m.settings
	s.NotifyEmails = append([]string(nil), m.settings.NotifyEmails...)
	return s, nil
}

func (m *memStore) SaveConfiguration(_ context.Context, c ConfigChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeSave != nil {
		m.beforeSave(&m.settings)
	}
	if c.CheckInHours != nil {
		m.settings.CheckInHours = *c.CheckInHours
	}
	if c.WarningHours != nil {
		m.settings.WarningHours = *c.WarningHours
	}
	if c.OwnerEmail != nil {
		m.settings.OwnerEmail = *c.OwnerEmail
	}
	if c.NotifyEmails != nil {
		m.settings.NotifyEmails = append([]string{}, c.NotifyEmails...)
	}
	return nil
}

func (m *memStore) CheckIn(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.LastCheckIn = at
	m.settings.LastNotifiedStage = 0
	m.settings.LastNotifiedAt = nil
	return nil
}

func (m *memStore) AdvanceStage(_ context.Context, from Watermark, stage int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeAdvance != nil {
		m.beforeAdvance(&m.settings)
	}
	if m.settings.LastNotifiedStage != from.Stage || !m.settings.LastCheckIn.Equal(from.LastCheckIn) {
		return false, nil
	}
	m.settings.LastNotifiedStage = stage
	m.settings.LastNotifiedAt = &at
	return true, nil
}

func (m *memStore) RecordNotification(_ context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.LastNotifiedAt = &at
	return nil
}

func (m *memStore) snapshot() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mail.Message(nil), f.sent...)
}

type runRecord struct {
	mode, outcome string
}

type fakeRecorder struct {
	mu    sync.Mutex
	runs  []runRecord
	sends map[string]int
	stage int
}

func (r *fakeRecorder) RecordRun(mode, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, runRecord{mode, outcome})
}

func (r *fakeRecorder) RecordNotification(_ int, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sends == nil {
		r.sends = map[string]int{}
	}
	r.sends[result]++
}

func (r *fakeRecorder) SetStage(stage int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = stage
}

var errBoom = errors.New("boom")
