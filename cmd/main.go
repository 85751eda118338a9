package main

import (
	"os"
	"strings"

	"github.com/httprunner/bizlogic/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bizlogic",
	Short: "Build business logic request URLs for compliance suites",
	Long: `bizlogic collects device facts over adb, matches them against the suite's dynamic config
and prints the business logic service request URL for each device.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(rootLogLevel)))
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		if path := env.LoadedPath(); path != "" {
			log.Debug().Str("dotenv", path).Msg("environment loaded")
		}
		return nil
	},
	SilenceUsage: true,
}

var rootLogLevel string

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(
		newURLCmd(),
		newFactsCmd(),
		newHistoryCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("bizlogic command failed")
	}
}
