package report_fx

import (
	"go.uber.org/fx"
	"payledger/internal/infra"
	"payledger/internal/repositories"
	"payledger/internal/services"
)

var Module = fx.Provide(
	provideReportService,
	services.NewReconciliationService,
)

func provideReportService(store repositories.LedgerStore, cfg *infra.Config) services.ReportService {
	return services.NewReportService(store, cfg.SuspiciousAmount)
}
