package cli

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/uveral/diario/internal/blob"
	"github.com/uveral/diario/internal/config"
	"github.com/uveral/diario/internal/deadman"
	"github.com/uveral/diario/internal/health"
	"github.com/uveral/diario/internal/journal"
	"github.com/uveral/diario/internal/mail"
	"github.com/uveral/diario/internal/metrics"
	"github.com/uveral/diario/internal/store"
	"github.com/uveral/diario/internal/transcribe"
)

// app holds the wired components shared by the commands.
type app struct {
	store   *store.Store
	audio   *blob.Store
	metrics *metrics.Metrics
	checker *health.Checker
	deadman *deadman.Service
	runner  deadman.Runner
	journal *journal.Service
}

func newApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	audio, err := blob.New(cfg.AudioDir, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open audio store: %w", err)
	}

	m := metrics.New()

	// A nil sender is valid; runs that need to send report missing_email_provider.
	var sender deadman.Sender
	s, err := mail.New(cfg, logger)
	switch {
	case err == nil:
		sender = s
		logger.Info().Str("provider", cfg.EmailProvider()).Msg("email provider configured")
	case errors.Is(err, mail.ErrNoProvider):
		logger.Warn().Msg("no email provider configured; notifications will fail")
	default:
		st.Close()
		return nil, err
	}

	runner, err := deadman.NewRunner(cfg.DeadmanMode, st, sender, deadman.NotifierConfig{
		From:               cfg.FromAddress(),
		AppURL:             cfg.AppURL,
		FallbackRecipients: cfg.NotifyEmailList(),
	}, logger, deadman.WithRecorder(m))
	if err != nil {
		st.Close()
		return nil, err
	}

	journalOpts := []journal.Option{journal.WithRecorder(m)}
	if cfg.TranscriptionEnabled() {
		journalOpts = append(journalOpts, journal.WithTranscriber(transcribe.New(transcribe.Config{
			AccountID: cfg.CFAccountID,
			APIToken:  cfg.CFAPIToken,
			BaseURL:   cfg.CFBaseURL,
			Model:     cfg.CFWhisperModel,
			Language:  cfg.TranscribeLanguage,
		}, logger), audio))
		logger.Info().Str("model", cfg.CFWhisperModel).Msg("transcription enabled")
	}

	checker := health.NewChecker(logger)
	checker.Register("database", health.Ping(st.Ping))
	checker.Register("audio", health.Ping(audio.Ping))
	checker.Register("email", health.Configured(sender != nil))

	return &app{
		store:   st,
		audio:   audio,
		metrics: m,
		checker: checker,
		deadman: deadman.NewService(st, logger),
		runner:  runner,
		journal: journal.NewService(st, logger, journalOpts...),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
