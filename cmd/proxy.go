package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tapsucode/stealthfleet/internal/observability"
	"github.com/tapsucode/stealthfleet/internal/proxy"
	"github.com/tapsucode/stealthfleet/internal/service"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Proxy management helpers.",
}

var proxyCheckCmd = &cobra.Command{
	Use:   "check <host:port[:user[:pass]]> | <proxy-id>",
	Short: "Probe a proxy and record its health.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		ctx := cmd.Context()

		components, err := service.Build(ctx, appCfg, logger)
		if err != nil {
			return err
		}
		defer components.Shutdown(ctx)

		// Accept either a raw address or a stored proxy ID.
		target := args[0]
		p, err := components.Store.FindProxyByID(ctx, target)
		if err != nil {
			if _, parseErr := proxy.ParseAddress(target); parseErr != nil {
				return fmt.Errorf("%s is neither a known proxy ID nor a proxy address", target)
			}
			if p, err = components.Assigner.AssignExplicit(ctx, target); err != nil {
				return err
			}
		}

		status, err := components.Checker.Check(ctx, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.Address(), status)
		return nil
	},
}

func init() {
	proxyCmd.AddCommand(proxyCheckCmd)
	rootCmd.AddCommand(proxyCmd)
}
