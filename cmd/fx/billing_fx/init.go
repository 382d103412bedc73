package billing_fx

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"payledger/internal/infra"
	"payledger/internal/services"
)

var Module = fx.Options(
	fx.Provide(services.NewBillingScheduler),
	fx.Invoke(startScheduler),
)

func startScheduler(lc fx.Lifecycle, cfg *infra.Config, scheduler services.BillingScheduler) {
	if !cfg.SchedulerEnabled {
		return
	}

	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			wg.Add(1)
			go func() {
				defer wg.Done()
				scheduler.Start(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			wg.Wait()
			return nil
		},
	})
}
