// Command billingctl is the operator tool for the billing service: it sends signed test
// webhooks, applies migrations and runs maintenance passes by hand.
package main

import (
	"fmt"
	"os"

	"github.com/md-rashed-zaman/paywall/libs/config"
	"github.com/md-rashed-zaman/paywall/libs/runtime"
	"github.com/spf13/cobra"
)

func main() {
	_ = config.LoadDotEnv()
	ctx, stop := runtime.SignalContext()
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Billing service operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSimulateCmd(),
		newMigrateCmd(),
		newIdempotencyCmd(),
		newLinkagesCmd(),
		newAccessCmd(),
	)
	return root
}
