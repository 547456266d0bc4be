package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ostin-pil/lesca/internal/config"
	"github.com/ostin-pil/lesca/pkg/version"
)

var (
	flagConfigFile  string
	flagLogLevel    string
	flagSessionsDir string
	flagBaseURL     string

	cfg    *config.Config
	theApp *app
)

// newRootCmd builds the lesca command tree. Persistent flags override the
// environment/YAML-derived Config the same way the teacher's
// cmd/flaresolverr/main.go lets a CLI flag win over config — here cobra
// owns flag parsing and Config remains the single source of truth other
// packages read from, rather than introducing a flag-binding framework
// (viper) this module's dependency set never carried.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lesca",
		Short:         "Content-extraction toolchain for a problem-hosting website",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flagConfigFile)
			if err != nil {
				return &usageError{err: fmt.Errorf("load config: %w", err)}
			}
			if flagLogLevel != "" {
				loaded.LogLevel = flagLogLevel
			}
			if flagSessionsDir != "" {
				loaded.SessionsDir = flagSessionsDir
			}
			if flagBaseURL != "" {
				loaded.BaseURL = flagBaseURL
			}
			loaded.Validate()
			setupLogging(loaded)

			cfg = loaded
			if cmd.Name() == "init" {
				return nil
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			theApp = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if theApp == nil {
				return nil
			}
			return theApp.close()
		},
	}

	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override LESCA_LOG_LEVEL (trace|debug|info|warn|error|fatal)")
	root.PersistentFlags().StringVar(&flagSessionsDir, "sessions-dir", "", "override LESCA_SESSIONS_DIR")
	root.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "override LESCA_BASE_URL")

	root.AddCommand(
		newInitCmd(),
		newScrapeCmd(),
		newSessionCmd(),
		newMetricsCmd(),
	)
	return root
}

// setupLogging mirrors the teacher's cmd/flaresolverr/main.go console
// setup (zerolog.ConsoleWriter to stdout, RFC3339 timestamps), adding an
// optional lumberjack rotation sink when LogFile is set (the pack's
// muqo16-vg-hitbot log-rotation idiom).
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if cfg.LogFile == "" {
		log.Logger = log.Output(console)
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(console, rotator))
}
