package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/uveral/diario/internal/deadman"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DB_PATH", filepath.Join(dir, "diario.db"))
	t.Setenv("AUDIO_DIR", filepath.Join(dir, "audio"))
	t.Setenv("RESEND_API_KEY", "")
	t.Setenv("SMTP_HOST", "")
	t.Setenv("CF_ACCOUNT_ID", "")
	t.Setenv("DEADMAN_MODE", "staged")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCheckInAndStatus(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "check-in")
	require.NoError(t, err)
	assert.Contains(t, out, "Checked in at")

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "State:         armed")
	assert.Contains(t, out, "Mode:          staged")
	assert.Contains(t, out, "Owner:         (not set)")
}

func TestNotify_Armed(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "notify")
	require.NoError(t, err)

	var resp struct {
		OK      bool            `json:"ok"`
		Mode    string          `json:"mode"`
		Outcome deadman.Outcome `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal([]byte(out[strings.Index(out, "{"):]), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, deadman.ModeStaged, resp.Mode)
	assert.Equal(t, deadman.OutcomeArmed, resp.Outcome.State)
}

func TestUnknownMode(t *testing.T) {
	setupEnv(t)
	t.Setenv("DEADMAN_MODE", "sometimes")

	_, err := execute(t, "status")
	assert.Error(t, err)
}

func sampleReport(now time.Time) deadman.Report {
	last := now.Add(-800 * time.Hour)
	return deadman.Report{
		Status: deadman.Evaluate(now, last, 720, 168),
		Settings: deadman.Settings{
			CheckInHours: 720,
			WarningHours: 168,
			LastCheckIn:  last,
			OwnerEmail:   "me@example.com",
			NotifyEmails: []string{"a@example.com", "b@example.com"},
		},
	}
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report := sampleReport(now)

	var buf bytes.Buffer
	printStatus(&buf, deadman.ModeStaged, report, now)
	out := buf.String()

	assert.Contains(t, out, "State:         triggered")
	assert.Contains(t, out, "Stage:         1 (last notified 0)")
	assert.Contains(t, out, "Owner:         me@example.com")
	assert.Contains(t, out, "Recipients:    2")
}

func TestWriteStatus_YAML(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, writeStatus(&buf, "yaml", deadman.ModeStaged, sampleReport(now), now))

	var view statusView
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, "triggered", view.State)
	assert.Equal(t, 1, view.Stage)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, view.NotifyEmails)
	assert.Contains(t, buf.String(), "owner_email: me@example.com")
}

func TestWriteStatus_UnknownFormat(t *testing.T) {
	now := time.Now()
	err := writeStatus(&bytes.Buffer{}, "xml", deadman.ModeStaged, sampleReport(now), now)
	assert.Error(t, err)
}
