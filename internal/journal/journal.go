// Package journal creates and lists diary entries.
package journal

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/uveral/diario/internal/blob"
	derrors "github.com/uveral/diario/internal/errors"
	"github.com/uveral/diario/internal/store"
	"github.com/uveral/diario/internal/transcribe"
)

// Entry kinds, used as a metrics label.
const (
	KindText        = "text"
	KindAudio       = "audio"
	KindTranscribed = "transcribed"
)

// DefaultListLimit is the number of entries returned by List.
const DefaultListLimit = 200

// EntryStore persists entries.
type EntryStore interface {
	CreateEntry(ctx context.Context, e store.Entry) error
	ListEntries(ctx context.Context, limit int) ([]store.Entry, error)
}

// AudioReader loads stored audio for transcription.
type AudioReader interface {
	ReadAll(ctx context.Context, key string) ([]byte, blob.Meta, error)
}

// Recorder counts created entries.
type Recorder interface {
	RecordEntry(kind string)
}

// NewEntry is the input for Create.
type NewEntry struct {
	Content          string
	AudioKey         string
	AudioDurationSec *float64
}

// Service implements the journal operations.
type Service struct {
	entries     EntryStore
	audio       AudioReader
	transcriber transcribe.Transcriber
	recorder    Recorder
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTranscriber enables transcription of audio-only entries.
func WithTranscriber(t transcribe.Transcriber, audio AudioReader) Option {
	return func(s *Service) {
		s.transcriber = t
		s.audio = audio
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a journal service.
func NewService(entries EntryStore, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		entries: entries,
		now:     time.Now,
		logger:  logger.With().Str("component", "journal").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores a new entry.
func (s *Service) Create(ctx context.Context, in NewEntry) (store.Entry, error) {
	content := strings.TrimSpace(in.Content)
	audioKey := strings.TrimSpace(in.AudioKey)
	if content == "" && audioKey == "" {
		return store.Entry{}, fmt.Errorf("%w: an entry needs text or audio", derrors.ErrInvalidInput)
	}
	if audioKey != "" {
		if err := blob.ValidateKey(audioKey); err != nil {
			return store.Entry{}, err
		}
	}

	kind := KindText
	if audioKey != "" {
		kind = KindAudio
	}
	if content == "" && s.transcriber != nil {
		if text := s.transcribe(ctx, audioKey); text != "" {
			content = text
			kind = KindTranscribed
		}
	}

	e := store.Entry{
		ID:               uuid.NewString(),
		Content:          content,
		CreatedAt:        s.now().Truncate(time.Millisecond),
		AudioKey:         audioKey,
		AudioDurationSec: duration(in.AudioDurationSec),
	}
	if err := s.entries.CreateEntry(ctx, e); err != nil {
		return store.Entry{}, err
	}

	if s.recorder != nil {
		s.recorder.RecordEntry(kind)
	}
	s.logger.Info().Str("entry_id", e.ID).Str("kind", kind).Msg("entry created")
	return e, nil
}

// List returns the most recent entries, newest first.
func (s *Service) List(ctx context.Context) ([]store.Entry, error) {
	return s.entries.ListEntries(ctx, DefaultListLimit)
}

// transcribe is best effort: any failure leaves the entry without text.
func (s *Service) transcribe(ctx context.Context, key string) string {
	data, _, err := s.audio.ReadAll(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("audio_key", key).Msg("audio unavailable for transcription")
		return ""
	}
	text, err := s.transcriber.Transcribe(ctx, data)
	if err != nil {
		s.logger.Warn().Err(err).Str("audio_key", key).Msg("transcription failed")
		return ""
	}
	return text
}

func duration(v *float64) int {
	if v == nil || math.IsNaN(*v) || *v <= 0 {
		return 0
	}
	if *v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(*v))
}
