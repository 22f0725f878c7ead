package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/internal/engine"
	"github.com/tapsucode/stealthfleet/internal/observability"
	"github.com/tapsucode/stealthfleet/internal/service"
)

var launchFlags struct {
	group       string
	concurrency int
	headless    bool
	timeout     time.Duration
}

var launchCmd = &cobra.Command{
	Use:   "launch [profile-id...]",
	Short: "Open interactive browser sessions for one or more profiles.",
	Long: `Launch opens a fingerprint-applied, proxy-wired browser session per
profile. Sessions stay open until the configured interactive lifetime
expires or the process receives an interrupt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && launchFlags.group == "" {
			return fmt.Errorf("pass profile IDs or --group")
		}
		logger := observability.GetLogger()

		ctx := cmd.Context()
		components, err := service.Build(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer components.Shutdown(ctx)

		opts := engine.Options{
			Headless:    launchFlags.headless,
			Concurrency: launchFlags.concurrency,
			Timeout:     launchFlags.timeout,
		}

		var summary *engine.LaunchSummary
		if launchFlags.group != "" {
			summary, err = components.Engine.LaunchConcurrentForGroup(ctx, launchFlags.group, opts)
		} else {
			summary, err = components.Engine.LaunchConcurrent(ctx, args, opts)
		}
		if err != nil {
			return err
		}

		logger.Info("Launch batch finished",
			zap.Int("succeeded", summary.SuccessCount),
			zap.Int("failed", summary.FailureCount),
		)
		for _, d := range summary.Details {
			if !d.Success {
				logger.Warn("Profile failed to launch",
					zap.String("profile_id", d.ProfileID),
					zap.String("error", d.Error))
			}
		}
		if summary.SuccessCount == 0 {
			return fmt.Errorf("no profile launched")
		}

		waitForInterrupt(logger)
		return components.Engine.ReleaseAll(ctx)
	},
}

func waitForInterrupt(logger *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	logger.Info("Sessions open. Press Ctrl+C to release them and exit.")
	<-sig
	logger.Info("Interrupt received, releasing sessions.")
}

func init() {
	launchCmd.Flags().StringVarP(&launchFlags.group, "group", "g", "", "launch every profile in a group")
	launchCmd.Flags().IntVarP(&launchFlags.concurrency, "concurrency", "n", 0, "parallel launches (0 = configured default)")
	launchCmd.Flags().BoolVar(&launchFlags.headless, "headless", false, "run browsers headless")
	launchCmd.Flags().DurationVar(&launchFlags.timeout, "timeout", 0, "per-launch timeout (0 = configured default)")
	rootCmd.AddCommand(launchCmd)
}
