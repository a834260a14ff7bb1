// Package cli implements the diario command line: the API server and the
// one-shot dead man's switch commands used from cron or a shell.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/uveral/diario/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "diario",
	Short: "Private journal with a dead man's switch",
	Long: `diario stores text and voice journal entries and watches for owner
inactivity. After a month without a check-in it emails the owner a monthly
reminder, and after six months it sends the journal link to the designated
recipients.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger = newLogger(cfg)
		return nil
	},
}

// Execute runs the CLI.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func newLogger(c *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	l := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	if c.Environment == "development" {
		l = l.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(c.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = l
	return l
}
