package cmd

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/tapsucode/stealthfleet/internal/observability"
	"github.com/tapsucode/stealthfleet/internal/service"
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Inspect and control workflow executions.",
}

var execStatusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Print an execution record as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		components, err := service.Build(ctx, appCfg, observability.GetLogger())
		if err != nil {
			return err
		}
		defer components.Shutdown(ctx)

		ex, err := components.Engine.GetExecution(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(ex, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var execStopCmd = &cobra.Command{
	Use:   "stop <execution-id>",
	Short: "Stop a running execution.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		components, err := service.Build(ctx, appCfg, observability.GetLogger())
		if err != nil {
			return err
		}
		defer components.Shutdown(ctx)

		if err := components.Engine.Stop(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "execution %s stopped\n", args[0])
		return nil
	},
}

func init() {
	execCmd.AddCommand(execStatusCmd, execStopCmd)
	rootCmd.AddCommand(execCmd)
}
