package payment

import (
	"github.com/smallbiznis/lanes/internal/payment/adapters"
	"github.com/smallbiznis/lanes/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	"github.com/smallbiznis/lanes/internal/payment/repository"
	paymentservice "github.com/smallbiznis/lanes/internal/payment/service"
	"github.com/smallbiznis/lanes/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(stripe.NewFactory())
	}),
	fx.Provide(fx.Annotate(stripe.NewGateway, fx.As(new(paymentdomain.Gateway)))),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
