package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ostin-pil/lesca/internal/config"
)

// newInitCmd implements `lesca init`: writes a starter YAML config
// overlay and creates the sessions/cache directories it names, using
// env-derived defaults as the starting point (so a freshly-init'd config
// documents every tunable the environment would otherwise supply
// silently).
func newInitCmd() *cobra.Command {
	var outPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file and create sessions/cache directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, err := config.Load("")
			if err != nil {
				return &usageError{err: err}
			}

			if _, err := os.Stat(outPath); err == nil && !force {
				return &usageError{err: fmt.Errorf("%s already exists (use --force to overwrite)", outPath)}
			}

			data, err := yaml.Marshal(defaults)
			if err != nil {
				return fmt.Errorf("marshal default config: %w", err)
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}

			if err := os.MkdirAll(defaults.SessionsDir, 0o700); err != nil {
				return fmt.Errorf("create sessions dir: %w", err)
			}
			if err := os.MkdirAll(defaults.CacheDir, 0o700); err != nil {
				return fmt.Errorf("create cache dir: %w", err)
			}

			log.Info().Str("config", outPath).Str("sessions", defaults.SessionsDir).Str("cache", defaults.CacheDir).
				Msg("lesca: initialised")
			fmt.Printf("wrote %s\nsessions dir: %s\ncache dir: %s\n", outPath, defaults.SessionsDir, defaults.CacheDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "lesca.yaml", "path to write the starter config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
