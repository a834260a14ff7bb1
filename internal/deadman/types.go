// Package deadman implements the inactivity switch: state evaluation, the
// monthly escalation stages, check-in and the notifiers that email the owner
// and, finally, the designated recipients.
package deadman

import (
	"context"
	"strings"
	"time"

	"github.com/uveral/diario/internal/mail"
)

// State is the user-facing status of the switch.
type State string

const (
	StateArmed     State = "armed"
	StateWarning   State = "warning"
	StateTriggered State = "triggered"
)

// Outcome states reported by a notifier run.
const (
	OutcomeArmed           = "armed"
	OutcomeWarning         = "warning"
	OutcomeAlreadyNotified = "already_notified"
	OutcomeNotified        = "notified"
	OutcomeSuperseded      = "superseded"
)

// Defaults for a freshly created settings record.
const (
	DefaultCheckInHours = 720
	DefaultWarningHours = 168
)

// Settings is the singleton configuration and watermark record.
type Settings struct {
	CheckInHours      int
	WarningHours      int
	LastCheckIn       time.Time
	OwnerEmail        string
	NotifyEmails      []string
	LastNotifiedStage int
	LastNotifiedAt    *time.Time
}

// DefaultSettings returns the record created on first read.
func DefaultSettings(now time.Time) Settings {
	return Settings{
		CheckInHours: DefaultCheckInHours,
		WarningHours: DefaultWarningHours,
		LastCheckIn:  now,
	}
}

// Watermark identifies the inactivity episode and notification progress a
// notifier observed. Stage advances are conditional on it being unchanged.
type Watermark struct {
	Stage       int
	LastCheckIn time.Time
}

// Watermark returns the watermark of s.
func (s Settings) Watermark() Watermark {
	return Watermark{Stage: s.LastNotifiedStage, LastCheckIn: s.LastCheckIn}
}

// ConfigChange is a normalised partial write of the configuration columns.
// Nil fields are left unchanged.
type ConfigChange struct {
	OwnerEmail   *string
	NotifyEmails []string // nil means unchanged; empty clears the list
	CheckInHours *int
	WarningHours *int
}

// Store persists the settings record.
type Store interface {
	// Settings returns the record, creating it with defaults when absent.
	Settings(ctx context.Context) (Settings, error)

	// SaveConfiguration writes the present fields of c in one statement,
	// leaving absent ones as stored. It never touches the check-in
	// timestamp or the watermark.
	SaveConfiguration(ctx context.Context, c ConfigChange) error

	// CheckIn sets the check-in time and resets the watermark in one write.
	CheckIn(ctx context.Context, at time.Time) error

	// AdvanceStage records a sent notification for stage if the stored
	// watermark still equals from. It reports whether the row changed.
	AdvanceStage(ctx context.Context, from Watermark, stage int, at time.Time) (bool, error)

	// RecordNotification stamps last_notified_ts without moving the stage.
	RecordNotification(ctx context.Context, at time.Time) error
}

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// Recorder receives notifier metrics.
type Recorder interface {
	RecordRun(mode, outcome string)
	RecordNotification(stage int, result string)
	SetStage(stage int)
}

type nopRecorder struct{}

func (nopRecorder) RecordRun(string, string)       {}
func (nopRecorder) RecordNotification(int, string) {}
func (nopRecorder) SetStage(int)                   {}

// Outcome is the result of a notifier run.
type Outcome struct {
	State      string `json:"state"`
	Stage      int    `json:"stage,omitempty"`
	Recipients int    `json:"recipients,omitempty"`
}

// Runner is implemented by both notifier policies.
type Runner interface {
	Run(ctx context.Context) (Outcome, error)
	Mode() string
}

// ParseEmails splits a stored comma-joined list, trimming blanks and dropping
// empty and duplicate addresses.
func ParseEmails(raw string) []string {
	return MergeEmails(strings.Split(raw, ","))
}

// MergeEmails concatenates lists into one deduplicated list, keeping the
// order of first occurrence.
func MergeEmails(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, e := range list {
			e = strings.TrimSpace(e)
			if e == "" {
				continue
			}
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// JoinEmails is the storage form of a recipient list.
func JoinEmails(emails []string) string {
	return strings.Join(MergeEmails(emails), ",")
}
