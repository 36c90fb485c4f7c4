package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "creditmeter",
		Short:        "Usage metering and quota service",
		Long:         `creditmeter records metered usage in credits, enforces monthly tier quotas and reconciles subscriptions with the payment provider.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSeedTiersCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
