package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	bpu "github.com/D-Robotics/x5-kernel-sub005"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configURL    string
	scenarioPath string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "bpusim",
	Short: "Run a scheduling scenario against a simulated accelerator pool",
	Long: `bpusim drives sessions of tasks through the core pool scheduler backed by
an in-memory hardware simulation and prints a YAML report of the task
counters and the state of every core.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logrus.New()
		logger.SetOutput(os.Stderr)
		logger.SetLevel(logrus.WarnLevel)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		}

		scenario, err := Load(scenarioPath)
		if err != nil {
			return fmt.Errorf("failed to load scenario: %w", err)
		}
		var config *bpu.Config
		if configURL != "" {
			if config, err = bpu.LoadConfig(cmd.Context(), configURL); err != nil {
				return err
			}
		}
		return run(cmd.Context(), scenario, config, logger, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configURL, "config", "", "Pool configuration URL (file path or any afs scheme)")
	rootCmd.PersistentFlags().StringVar(&scenarioPath, "scenario", "", "Scenario file path, defaults only when empty")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
