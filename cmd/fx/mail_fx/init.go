package mail_fx

import (
	"context"
	"time"

	"go.uber.org/fx"
	"payledger/internal/infra"
	"payledger/internal/repositories"
	"payledger/internal/services"
)

var Module = fx.Provide(provideNotificationSink)

// provideNotificationSink mails through SMTP when a host is configured and
// otherwise only logs.
func provideNotificationSink(lc fx.Lifecycle, cfg *infra.Config, store repositories.LedgerStore) services.NotificationSink {
	if cfg.SMTPHost == "" {
		return services.LogNotificationSink{}
	}

	smtpCfg := services.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		UseSSL:   cfg.SMTPUseSSL,
		AppName:  cfg.AppName,
	}
	async := services.NewAsyncNotificationSink(services.NewSMTPNotificationSink(smtpCfg, store), 30*time.Second)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			async.Wait()
			return nil
		},
	})
	return async
}
