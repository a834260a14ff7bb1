package deadman

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Report is the settings record together with its derived status.
type Report struct {
	Status   Status
	Settings Settings
}

// SettingsUpdate is a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	OwnerEmail   *string
	NotifyEmails *[]string
	CheckInHours *float64
	WarningHours *float64
}

// Service exposes the owner-facing operations on the switch.
type Service struct {
	store  Store
	opts   options
	logger zerolog.Logger
}

// NewService creates a Service.
func NewService(store Store, logger zerolog.Logger, opts ...Option) *Service {
	return &Service{
		store:  store,
		opts:   buildOptions(opts),
		logger: logger.With().Str("component", "deadman_service").Logger(),
	}
}

// Status returns the settings and the state derived from them.
func (s *Service) Status(ctx context.Context) (Report, error) {
	settings, err := s.store.Settings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read settings: %w", err)
	}
	status := Evaluate(s.opts.now(), settings.LastCheckIn, settings.CheckInHours, settings.WarningHours)
	return Report{Status: status, Settings: settings}, nil
}

// CheckIn resets the inactivity clock and the notification watermark,
// ending any escalation in progress. It returns the new check-in time.
func (s *Service) CheckIn(ctx context.Context) (time.Time, error) {
	now := s.opts.now().Truncate(time.Millisecond)
	if err := s.store.CheckIn(ctx, now); err != nil {
		return time.Time{}, fmt.Errorf("check in: %w", err)
	}
	s.logger.Info().Time("last_check_in", now).Msg("checked in")
	return now, nil
}

// UpdateSettings applies a partial update to thresholds and recipients.
// Only the fields present in u are written, so concurrent updates of
// different fields do not overwrite each other.
func (s *Service) UpdateSettings(ctx context.Context, u SettingsUpdate) (Settings, error) {
	var change ConfigChange
	if u.OwnerEmail != nil {
		owner := strings.TrimSpace(*u.OwnerEmail)
		change.OwnerEmail = &owner
	}
	if u.NotifyEmails != nil {
		change.NotifyEmails = MergeEmails(*u.NotifyEmails)
	}
	if u.CheckInHours != nil {
		h := NormalizeHours(*u.CheckInHours)
		change.CheckInHours = &h
	}
	if u.WarningHours != nil {
		h := NormalizeHours(*u.WarningHours)
		change.WarningHours = &h
	}

	if err := s.store.SaveConfiguration(ctx, change); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}

	settings, err := s.store.Settings(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	s.logger.Info().
		Bool("owner_email_set", settings.OwnerEmail != "").
		Int("notify_emails", len(settings.NotifyEmails)).
		Int("check_in_hours", settings.CheckInHours).
		Int("warning_hours", settings.WarningHours).
		Msg("settings updated")

	return settings, nil
}

// NormalizeHours floors a threshold and clamps it to [1, MaxInt32].
func NormalizeHours(v float64) int {
	if math.IsNaN(v) || v < 1 {
		return 1
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(v))
}
