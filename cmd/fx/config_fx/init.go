package config_fx

import (
	"fmt"

	"go.uber.org/fx"
	"payledger/internal/infra"
	"payledger/internal/services"
)

var Module = fx.Provide(
	infra.LoadConfig,
	provideLedgerSettings,
	provideSchedulerConfig,
	provideGatewayConfigs,
)

func provideLedgerSettings(cfg *infra.Config) (services.LedgerSettings, error) {
	settings := services.LedgerSettings{
		GatewayTimeout:    cfg.GatewayTimeout,
		LeaseTTL:          cfg.LeaseTTL,
		StaleWriteRetries: cfg.StaleWriteRetries,
		Currency:          cfg.Currency,
	}
	if err := settings.Validate(); err != nil {
		return services.LedgerSettings{}, fmt.Errorf("LEASE_TTL/GATEWAY_TIMEOUT: %w", err)
	}
	return settings, nil
}

func provideSchedulerConfig(cfg *infra.Config) services.SchedulerConfig {
	return services.SchedulerConfig{
		Interval:       cfg.BillingInterval,
		ReminderWindow: cfg.ReminderWindow,
		Workers:        cfg.SchedulerWorkers,
	}
}

func provideGatewayConfigs(cfg *infra.Config) []services.GatewayConfig {
	enabled := map[services.GatewayKind]bool{
		services.GatewayStripe:       cfg.StripeEnabled,
		services.GatewayPayPal:       cfg.PayPalEnabled,
		services.GatewayBankTransfer: cfg.BankTransferEnabled,
	}
	configs := services.DefaultGatewayConfigs()
	for i := range configs {
		configs[i].Enabled = enabled[configs[i].Kind]
		configs[i].Latency = cfg.GatewayLatency
	}
	return configs
}
