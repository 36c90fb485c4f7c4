package main

import (
	"context"

	"github.com/smallbiznis/creditmeter/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newSeedTiersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-tiers",
		Short: "Insert or refresh the subscription tier catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(
				subscription.Module,
				fx.Invoke(func(subs subscriptiondomain.Service, log *zap.Logger) error {
					if err := subs.SeedTiers(context.Background()); err != nil {
						return err
					}
					log.Info("tier catalog seeded", zap.Int("tiers", len(subscriptiondomain.DefaultTiers())))
					return nil
				}),
			)
		},
	}
}
