package payment_service_fx

import (
	"log/slog"

	"go.uber.org/fx"
	"payledger/internal/infra"
	"payledger/internal/services"
)

var Module = fx.Provide(
	provideGatewayRegistry,
	services.NewTransactionService,
	services.NewOrderService,
	services.NewPaymentService,
)

func provideGatewayRegistry(cfg *infra.Config, configs []services.GatewayConfig) *services.GatewayRegistry {
	registry := services.NewSimulatedGatewayRegistry(configs, cfg.GatewaySeed)
	slog.Info("payment gateways registered", "active", registry.Active())
	return registry
}
