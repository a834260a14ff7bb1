// Package transcribe converts recorded audio to text with Cloudflare
// Workers AI.
package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	derrors "github.com/uveral/diario/internal/errors"
	"github.com/uveral/diario/internal/retry"
)

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Config configures the Workers AI client.
type Config struct {
	AccountID string
	APIToken  string
	BaseURL   string
	Model     string
	Language  string
	Timeout   time.Duration
	Retry     retry.Config
}

// Client calls the Workers AI speech-to-text model over REST.
type Client struct {
	cfg    Config
	client *http.Client
	logger zerolog.Logger
}

type runRequest struct {
	Audio    string `json:"audio"`
	Language string `json:"language,omitempty"`
	Task     string `json:"task"`
}

type runResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Text string `json:"text"`
	} `json:"result"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// New creates a Workers AI client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cloudflare.com/client/v4"
	}
	if cfg.Model == "" {
		cfg.Model = "@cf/openai/whisper"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	logger = logger.With().Str("component", "transcribe").Logger()
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying transcription")
		}
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Transcribe sends audio to the model and returns the trimmed transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio", derrors.ErrInvalidInput)
	}

	body, err := json.Marshal(runRequest{
		Audio:    base64.StdEncoding.EncodeToString(audio),
		Language: c.cfg.Language,
		Task:     "transcribe",
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var text string
	err = retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		var err error
		text, err = c.run(ctx, body)
		return err
	})
	if err != nil {
		return "", err
	}

	c.logger.Debug().Int("audio_bytes", len(audio)).Int("chars", len(text)).Msg("transcribed audio")
	return text, nil
}

func (c *Client) run(ctx context.Context, body []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/ai/run/%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.AccountID), c.cfg.Model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: workers ai: %v", derrors.ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: workers ai: %v", derrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", derrors.FromResponse("workers-ai", resp, raw)
	}

	var out runResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !out.Success && len(out.Errors) > 0 {
		return "", derrors.NewAPIError("workers-ai", resp.StatusCode, out.Errors[0].Message)
	}
	return strings.TrimSpace(out.Result.Text), nil
}
