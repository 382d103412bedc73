package db_fx

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"payledger/internal/infra"
	"payledger/internal/repositories"
)

var Module = fx.Provide(provideLedgerStore)

// provideLedgerStore picks the store named by LEDGER_STORE. The memory store
// is for local runs; nothing survives a restart.
func provideLedgerStore(lc fx.Lifecycle, cfg *infra.Config) (repositories.LedgerStore, error) {
	if cfg.LedgerStore == "memory" {
		slog.Warn("using in-memory ledger store")
		return repositories.NewMemoryLedgerStore(), nil
	}

	db, err := infra.InitPostgresql(cfg)
	if err != nil {
		return nil, err
	}
	if err := infra.Migrate(db); err != nil {
		infra.ClosePostgresql(db)
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			infra.ClosePostgresql(db)
			return nil
		},
	})
	return repositories.NewGormLedgerStore(db), nil
}
