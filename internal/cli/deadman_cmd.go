package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/uveral/diario/internal/deadman"
	derrors "github.com/uveral/diario/internal/errors"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Run the dead man's switch notifier once",
	Long: `Evaluate the switch and send the notification for the current stage if
it has not been sent yet. Intended for a crontab entry in place of the HTTP
trigger. Exits non-zero on configuration or delivery errors.`,
	RunE: runNotify,
}

var checkInCmd = &cobra.Command{
	Use:   "check-in",
	Short: "Record owner activity and reset the switch",
	RunE:  runCheckIn,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the switch state and settings",
	RunE:  runStatus,
}

var statusOutput string

// statusView is the machine-readable form printed by status -o json|yaml.
type statusView struct {
	Mode              string   `json:"mode" yaml:"mode"`
	State             string   `json:"state" yaml:"state"`
	RemainingHours    float64  `json:"remainingHours" yaml:"remaining_hours"`
	Stage             int      `json:"stage" yaml:"stage"`
	LastNotifiedStage int      `json:"lastNotifiedStage" yaml:"last_notified_stage"`
	LastCheckIn       string   `json:"lastCheckIn" yaml:"last_check_in"`
	CheckInHours      int      `json:"checkInHours" yaml:"check_in_hours"`
	WarningHours      int      `json:"warningHours" yaml:"warning_hours"`
	OwnerEmail        string   `json:"ownerEmail" yaml:"owner_email"`
	NotifyEmails      []string `json:"notifyEmails" yaml:"notify_emails"`
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: text, json or yaml")
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(checkInCmd)
	rootCmd.AddCommand(statusCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.runner.Run(cmd.Context())
	if cfgErr, ok := derrors.AsConfigError(err); ok {
		_ = writeJSON(cmd.OutOrStdout(), map[string]any{
			"ok":     false,
			"mode":   a.runner.Mode(),
			"error":  cfgErr.Reason,
			"detail": cfgErr.Detail,
		})
		return err
	}
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"ok":      true,
		"mode":    a.runner.Mode(),
		"outcome": out,
	})
}

func runCheckIn(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	at, err := a.deadman.CheckIn(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Checked in at %s\n", at.UTC().Format(time.RFC3339))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.deadman.Status(cmd.Context())
	if err != nil {
		return err
	}
	return writeStatus(cmd.OutOrStdout(), statusOutput, a.runner.Mode(), report, time.Now())
}

func writeStatus(w io.Writer, format, mode string, r deadman.Report, now time.Time) error {
	switch format {
	case "text", "":
		printStatus(w, mode, r, now)
		return nil
	case "json":
		return writeJSON(w, newStatusView(mode, r, now))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newStatusView(mode, r, now)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newStatusView(mode string, r deadman.Report, now time.Time) statusView {
	s := r.Settings
	emails := s.NotifyEmails
	if emails == nil {
		emails = []string{}
	}
	return statusView{
		Mode:              mode,
		State:             string(r.Status.State),
		RemainingHours:    r.Status.RemainingHours,
		Stage:             deadman.StageFor(now, s.LastCheckIn),
		LastNotifiedStage: s.LastNotifiedStage,
		LastCheckIn:       s.LastCheckIn.UTC().Format(time.RFC3339),
		CheckInHours:      s.CheckInHours,
		WarningHours:      s.WarningHours,
		OwnerEmail:        s.OwnerEmail,
		NotifyEmails:      emails,
	}
}

func printStatus(w io.Writer, mode string, r deadman.Report, now time.Time) {
	s := r.Settings
	fmt.Fprintf(w, "Mode:          %s\n", mode)
	fmt.Fprintf(w, "State:         %s\n", r.Status.State)
	fmt.Fprintf(w, "Remaining:     %.1fh\n", r.Status.RemainingHours)
	fmt.Fprintf(w, "Stage:         %d (last notified %d)\n", deadman.StageFor(now, s.LastCheckIn), s.LastNotifiedStage)
	fmt.Fprintf(w, "Last check-in: %s\n", s.LastCheckIn.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Thresholds:    check-in %dh, warning %dh\n", s.CheckInHours, s.WarningHours)
	owner := s.OwnerEmail
	if owner == "" {
		owner = "(not set)"
	}
	fmt.Fprintf(w, "Owner:         %s\n", owner)
	fmt.Fprintf(w, "Recipients:    %d\n", len(s.NotifyEmails))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
