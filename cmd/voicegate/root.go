package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MrEthical07/voiceGate/internal/settings"
	"github.com/spf13/cobra"
)

type cli struct {
	cfgFile  string
	settings *settings.Settings
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "voicegate",
		Short:         "Voice-challenge gate for transfers, deposits and withdrawals",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := settings.Load(c.cfgFile)
			if err != nil {
				return err
			}
			c.settings = s
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file (default: ./.env when present)")

	root.AddCommand(newServeCmd(c))
	root.AddCommand(newMigrateCmd(c))
	root.AddCommand(newUserCmd(c))
	root.AddCommand(newHistoryCmd(c))

	return root
}

// newLogger builds the process logger: JSON in production, text otherwise.
func newLogger(s *settings.Settings) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(s.LogLevel)}
	if s.Production() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
