package payment

import (
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/payment/adapters"
	"github.com/smallbiznis/creditmeter/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	"github.com/smallbiznis/creditmeter/internal/payment/repository"
	paymentservice "github.com/smallbiznis/creditmeter/internal/payment/service"
	"github.com/smallbiznis/creditmeter/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(stripe.NewVerifier(cfg))
	}),
	fx.Provide(stripe.NewGateway),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(s *paymentservice.Service) paymentdomain.CheckoutService { return s }),
	fx.Provide(webhook.NewService),
)
