package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
	"github.com/tapsucode/stealthfleet/internal/engine"
	"github.com/tapsucode/stealthfleet/internal/observability"
	"github.com/tapsucode/stealthfleet/internal/service"
)

var runFlags struct {
	workflow    string
	group       string
	user        string
	concurrency int
	headless    bool
	timeout     time.Duration
	retry       bool
	maxRetries  int
	variables   map[string]string
}

var runCmd = &cobra.Command{
	Use:   "run --workflow <workflow-id> [profile-id...]",
	Short: "Execute a workflow across one or more profiles.",
	Long: `Run executes a stored workflow graph against each named profile under
a bounded worker pool. Individual profile failures are recorded in the
execution results without aborting the batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runFlags.workflow == "" {
			return fmt.Errorf("--workflow is required")
		}
		if len(args) == 0 && runFlags.group == "" {
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
			Headless:    runFlags.headless,
			Concurrency: runFlags.concurrency,
			Timeout:     runFlags.timeout,
			RetryOnFail: runFlags.retry,
			MaxRetries:  runFlags.maxRetries,
			Variables:   runFlags.variables,
		}

		var ex *schemas.WorkflowExecution
		if runFlags.group != "" {
			ex, err = components.Engine.ExecuteWorkflowForGroup(ctx, runFlags.workflow, runFlags.group, runFlags.user, opts)
		} else {
			ex, err = components.Engine.ExecuteWorkflowForMany(ctx, runFlags.workflow, args, runFlags.user, opts)
		}
		if err != nil {
			return err
		}

		logger.Info("Execution finished",
			zap.String("execution_id", ex.ID),
			zap.String("status", string(ex.Status)),
			zap.Int("succeeded", ex.Results.SuccessCount),
			zap.Int("failed", ex.Results.FailureCount),
		)
		for _, d := range ex.Results.Details {
			if !d.Success {
				logger.Warn("Profile task failed",
					zap.String("profile_id", d.ProfileID),
					zap.String("error", d.Error))
			}
		}
		if ex.Results.FailureCount > 0 && ex.Results.SuccessCount == 0 {
			return fmt.Errorf("workflow failed on every profile")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.workflow, "workflow", "w", "", "workflow ID to execute (required)")
	runCmd.Flags().StringVarP(&runFlags.group, "group", "g", "", "run against every profile in a group")
	runCmd.Flags().StringVarP(&runFlags.user, "user", "u", "", "user ID recorded on the execution")
	runCmd.Flags().IntVarP(&runFlags.concurrency, "concurrency", "n", 0, "parallel profile tasks (0 = configured default)")
	runCmd.Flags().BoolVar(&runFlags.headless, "headless", true, "run browsers headless")
	runCmd.Flags().DurationVar(&runFlags.timeout, "timeout", 0, "per-task timeout (0 = configured default)")
	runCmd.Flags().BoolVar(&runFlags.retry, "retry", false, "retry failed profile tasks")
	runCmd.Flags().IntVar(&runFlags.maxRetries, "max-retries", 1, "extra attempts per failed task when --retry is set")
	runCmd.Flags().StringToStringVar(&runFlags.variables, "var", nil, "workflow variables as key=value")
	rootCmd.AddCommand(runCmd)
}
