package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sedsim/sedsim/internal/version"
)

var (
	flagConfig   string
	flagScript   string
	flagDuration int
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:     "sedsim",
	Short:   "Procedural-sedation training simulator",
	Version: version.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if flagVerbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scenario headless, answering questions from stdin",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(flagConfig, flagScript, flagDuration)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	runCmd.Flags().StringVarP(&flagConfig, "config", "c", "session.yaml", "session config file")
	runCmd.Flags().StringVarP(&flagScript, "script", "s", "", "scenario script JSON (required)")
	runCmd.Flags().IntVarP(&flagDuration, "duration", "d", 0, "stop after N simulated seconds (0 = run until signal)")
	_ = runCmd.MarkFlagRequired("script")
	rootCmd.AddCommand(runCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
