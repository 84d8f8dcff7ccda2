package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const (
	appName = "tradecore"
	version = "v1.4.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Automated trading decision core",
		Version: version,
		Long: `tradecore runs the witness panel, claim aggregation, risk gating,
and per-user execution fan-out as one decision loop.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the decision loop",
		Long:  "Loads the configuration, wires every subsystem, and runs the decision loop until interrupted.",
		RunE:  runLoop,
	}
	runCmd.Flags().String("config", "config/tradecore.yaml", "Path to the YAML configuration")
	runCmd.Flags().String("log-level", "", "Override the configured log level (trace|debug|info|warn|error)")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Query a running instance's health endpoint",
		RunE:  runHealth,
	}
	healthCmd.Flags().String("addr", "http://localhost:8080", "Base URL of the ops server")

	// Accept snake_case spellings of every flag.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func applyLogLevel(level string) {
	if level == "" {
		return
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, keeping default")
		return
	}
	zerolog.SetGlobalLevel(parsed)
}
