package deadman

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	derrors "github.com/uveral/diario/internal/errors"
	"github.com/uveral/diario/internal/mail"
)

// Notifier policies.
const (
	ModeStaged = "staged"
	ModeBinary = "binary"
)

// ErrDelivery marks a failed send. The watermark is left untouched so the
// next trigger retries.
var ErrDelivery = errors.New("notification delivery failed")

// NotifierConfig holds the deployment-level notifier settings.
type NotifierConfig struct {
	From               string
	AppURL             string
	FallbackRecipients []string
}

type options struct {
	recorder Recorder
	now      func() time.Time
}

// Option configures a notifier or service.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func buildOptions(opts []Option) options {
	o := options{recorder: nopRecorder{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewRunner returns the notifier for mode. A nil sender means no email
// provider is configured; runs that need to send report a ConfigError.
func NewRunner(mode string, store Store, sender Sender, cfg NotifierConfig, logger zerolog.Logger, opts ...Option) (Runner, error) {
	switch mode {
	case ModeStaged, "":
		return NewStagedNotifier(store, sender, cfg, logger, opts...), nil
	case ModeBinary:
		return NewBinaryNotifier(store, sender, cfg, logger, opts...), nil
	default:
		return nil, fmt.Errorf("unknown notifier mode %q", mode)
	}
}

// StagedNotifier escalates through the monthly stages, sending at most one
// notification per stage per inactivity episode.
type StagedNotifier struct {
	store  Store
	sender Sender
	cfg    NotifierConfig
	opts   options
	logger zerolog.Logger

	// Serialises runs within this process. Runs in other processes are
	// fenced by the conditional stage advance.
	mu sync.Mutex
}

// NewStagedNotifier creates the escalation notifier.
func NewStagedNotifier(store Store, sender Sender, cfg NotifierConfig, logger zerolog.Logger, opts ...Option) *StagedNotifier {
	return &StagedNotifier{
		store:  store,
		sender: sender,
		cfg:    cfg,
		opts:   buildOptions(opts),
		logger: logger.With().Str("component", "deadman_notifier").Str("mode", ModeStaged).Logger(),
	}
}

// Mode implements Runner.
func (n *StagedNotifier) Mode() string { return ModeStaged }

// Run evaluates the current stage and sends its notification if it has not
// been sent yet in this episode.
func (n *StagedNotifier) Run(ctx context.Context) (Outcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	out, err := n.run(ctx)
	n.opts.recorder.RecordRun(ModeStaged, runLabel(out, err))
	return out, err
}

func (n *StagedNotifier) run(ctx context.Context) (Outcome, error) {
	settings, err := n.store.Settings(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read settings: %w", err)
	}

	now := n.opts.now()
	stage := StageFor(now, settings.LastCheckIn)
	n.opts.recorder.SetStage(stage)

	logger := n.logger.With().
		Int("stage", stage).
		Int("last_notified_stage", settings.LastNotifiedStage).
		Logger()

	if stage < 1 {
		return Outcome{State: OutcomeArmed}, nil
	}
	if stage <= settings.LastNotifiedStage {
		logger.Debug().Msg("stage already notified")
		return Outcome{State: OutcomeAlreadyNotified, Stage: stage}, nil
	}

	if n.sender == nil || n.cfg.From == "" {
		return Outcome{Stage: stage}, derrors.NewConfigError(derrors.ReasonMissingEmailProvider,
			"email provider credentials or sender address are not configured")
	}

	spec := Stages[stage]
	to, err := n.recipients(spec, settings)
	if err != nil {
		return Outcome{Stage: stage}, err
	}

	subject, html, err := spec.Compose(n.cfg.AppURL)
	if err != nil {
		return Outcome{Stage: stage}, err
	}

	msg := mail.Message{From: n.cfg.From, To: to, Subject: subject, HTML: html}
	if err := n.sender.Send(ctx, msg); err != nil {
		n.opts.recorder.RecordNotification(stage, "failed")
		logger.Error().Err(err).Str("audience", spec.Audience.String()).Msg("stage notification failed")
		return Outcome{Stage: stage}, fmt.Errorf("%w: stage %d: %w", ErrDelivery, stage, err)
	}
	n.opts.recorder.RecordNotification(stage, "sent")

	advanced, err := n.store.AdvanceStage(ctx, settings.Watermark(), stage, now)
	if err != nil {
		// The mail went out; the next run will send it again.
		return Outcome{Stage: stage}, fmt.Errorf("record stage %d: %w", stage, err)
	}
	if !advanced {
		logger.Warn().Msg("watermark changed during run; stage not recorded")
		return Outcome{State: OutcomeSuperseded, Stage: stage, Recipients: len(to)}, nil
	}

	logger.Info().
		Str("audience", spec.Audience.String()).
		Int("recipients", len(to)).
		Bool("final", spec.Final).
		Msg("stage notification sent")

	return Outcome{State: OutcomeNotified, Stage: stage, Recipients: len(to)}, nil
}

func (n *StagedNotifier) recipients(spec StageSpec, s Settings) ([]string, error) {
	if spec.Audience == AudienceOwner {
		owner := MergeEmails([]string{s.OwnerEmail})
		if len(owner) == 0 {
			return nil, derrors.NewConfigError(derrors.ReasonMissingOwnerEmail,
				fmt.Sprintf("set the owner email to receive the month %d reminder", spec.Stage))
		}
		return owner, nil
	}

	to := MergeEmails(s.NotifyEmails, n.cfg.FallbackRecipients)
	if len(to) == 0 {
		return nil, derrors.NewConfigError(derrors.ReasonMissingRecipients,
			fmt.Sprintf("no recipients configured for month %d", spec.Stage))
	}
	return to, nil
}

// BinaryNotifier is the single-threshold policy: once the check-in deadline
// passes, every run emails the recipient list until the owner checks in.
type BinaryNotifier struct {
	store  Store
	sender Sender
	cfg    NotifierConfig
	opts   options
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewBinaryNotifier creates the single-threshold notifier.
func NewBinaryNotifier(store Store, sender Sender, cfg NotifierConfig, logger zerolog.Logger, opts ...Option) *BinaryNotifier {
	return &BinaryNotifier{
		store:  store,
		sender: sender,
		cfg:    cfg,
		opts:   buildOptions(opts),
		logger: logger.With().Str("component", "deadman_notifier").Str("mode", ModeBinary).Logger(),
	}
}

// Mode implements Runner.
func (n *BinaryNotifier) Mode() string { return ModeBinary }

// Run sends the triggered notice when the deadline has passed.
func (n *BinaryNotifier) Run(ctx context.Context) (Outcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	out, err := n.run(ctx)
	n.opts.recorder.RecordRun(ModeBinary, runLabel(out, err))
	return out, err
}

func (n *BinaryNotifier) run(ctx context.Context) (Outcome, error) {
	settings, err := n.store.Settings(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read settings: %w", err)
	}

	now := n.opts.now()
	status := Evaluate(now, settings.LastCheckIn, settings.CheckInHours, settings.WarningHours)
	switch status.State {
	case StateArmed:
		return Outcome{State: OutcomeArmed}, nil
	case StateWarning:
		return Outcome{State: OutcomeWarning}, nil
	}

	if n.sender == nil || n.cfg.From == "" {
		return Outcome{}, derrors.NewConfigError(derrors.ReasonMissingEmailProvider,
			"email provider credentials or sender address are not configured")
	}

	to := MergeEmails(settings.NotifyEmails, n.cfg.FallbackRecipients)
	if len(to) == 0 {
		return Outcome{}, derrors.NewConfigError(derrors.ReasonMissingRecipients,
			"no recipients configured for the triggered notice")
	}

	subject, html, err := composeTriggered(n.cfg.AppURL, settings.CheckInHours)
	if err != nil {
		return Outcome{}, err
	}

	if err := n.sender.Send(ctx, mail.Message{From: n.cfg.From, To: to, Subject: subject, HTML: html}); err != nil {
		n.opts.recorder.RecordNotification(0, "failed")
		return Outcome{}, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	n.opts.recorder.RecordNotification(0, "sent")

	if err := n.store.RecordNotification(ctx, now); err != nil {
		return Outcome{}, fmt.Errorf("record notification: %w", err)
	}

	n.logger.Info().Int("recipients", len(to)).Msg("triggered notice sent")
	return Outcome{State: OutcomeNotified, Recipients: len(to)}, nil
}

func runLabel(out Outcome, err error) string {
	if err == nil {
		return out.State
	}
	if _, ok := derrors.AsConfigError(err); ok {
		return "config_error"
	}
	if errors.Is(err, ErrDelivery) {
		return "delivery_error"
	}
	return "error"
}
