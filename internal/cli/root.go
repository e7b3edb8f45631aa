package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/app"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/config"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/logging"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub000/internal/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "corridorwatch",
	Short: "Aggregate Stellar payment corridors and attest snapshots on Soroban",
	Long: `corridorwatch reads payments from Horizon, folds them into hourly
corridor metrics, scores corridors and anchors, and attests canonical
analytics snapshots on a Soroban contract.

Settings come from --config (YAML) and CORRIDORWATCH_* environment
variables, for example CORRIDORWATCH_HORIZON_URL or
CORRIDORWATCH_CONTRACT_SECRET_KEY.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd == versionCmd {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := applyLogOverrides(&cfg.Logging); err != nil {
			return err
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		appHandle.Out = cmd.OutOrStdout()
		return nil
	},
}

// applyLogOverrides applies --log-level and --log-format and rejects
// values the logger cannot honour.
func applyLogOverrides(cfg *logging.Config) error {
	if logLevel != "" {
		cfg.Level = logLevel
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
	return cfg.Validate()
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file (CORRIDORWATCH_* env vars override it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides logging.level)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json or console (overrides logging.format)")
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("corridorwatch: app not loaded; command ran without the root pre-run hook")
	}
	return appHandle
}
