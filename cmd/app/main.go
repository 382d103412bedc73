package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"payledger/cmd/fx/account_fx"
	"payledger/cmd/fx/billing_fx"
	"payledger/cmd/fx/config_fx"
	"payledger/cmd/fx/controllers_fx"
	"payledger/cmd/fx/db_fx"
	"payledger/cmd/fx/mail_fx"
	"payledger/cmd/fx/memcache_fx"
	"payledger/cmd/fx/payment_service_fx"
	"payledger/cmd/fx/report_fx"
	"payledger/internal/api/controllers"
	"payledger/internal/infra"
	"payledger/pkg/middleware"
	"payledger/pkg/utils"
)

func main() {
	app := fx.New(
		config_fx.Module,
		fx.Provide(provideLogger),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger}
		}),

		db_fx.Module,
		memcache_fx.Module,
		mail_fx.Module,
		payment_service_fx.Module,
		report_fx.Module,
		account_fx.Module,
		billing_fx.Module,
		controllers_fx.Module,

		fx.Provide(ProvideRouter),
		fx.Invoke(StartServer),
	)

	app.Run()
}

func provideLogger(cfg *infra.Config) *slog.Logger {
	return utils.InitLogger(cfg.LogLevel)
}

func StartServer(lc fx.Lifecycle, cfg *infra.Config, engine *gin.Engine) {
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				slog.Info("starting HTTP server", "port", cfg.Port)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("HTTP server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			slog.Info("stopping HTTP server")
			return server.Shutdown(ctx)
		},
	})
}

func ProvideRouter(
	cfg *infra.Config,
	orderController *controllers.OrderController,
	paymentController *controllers.PaymentController,
	accountController *controllers.AccountController,
	adminController *controllers.AdminController) (*gin.Engine, error) {

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}

	r := gin.Default()
	r.Use(middleware.TraceIDMiddleware())

	RegisterRoutes(r, []byte(cfg.JWTSecret), orderController, paymentController, accountController, adminController)

	return r, nil
}

func RegisterRoutes(r *gin.Engine,
	secret []byte,
	orderController *controllers.OrderController,
	paymentController *controllers.PaymentController,
	accountController *controllers.AccountController,
	adminController *controllers.AdminController) {

	r.POST("/accounts/register", accountController.Register)

	auth := r.Group("/", middleware.JWTAuthMiddleware(secret))

	accounts := auth.Group("/accounts")
	accounts.GET("/me", accountController.Me)
	accounts.POST("/payment-methods", accountController.AddPaymentMethod)
	accounts.PUT("/payment-methods/:id", accountController.UpdatePaymentMethod)
	accounts.DELETE("/payment-methods/:id", accountController.RemovePaymentMethod)
	accounts.POST("/payment-methods/:id/default", accountController.SetDefaultPaymentMethod)
	accounts.POST("/subscription", accountController.SetupSubscription)
	accounts.DELETE("/subscription", accountController.CancelSubscription)
	accounts.GET("/billing-history", accountController.BillingHistory)

	orders := auth.Group("/orders")
	orders.POST("", orderController.CreateOrder)
	orders.GET("/:id", orderController.GetOrder)
	orders.GET("/:id/transactions", orderController.ListTransactions)
	orders.POST("/:id/charge", orderController.Charge)
	orders.POST("/:id/cancel", orderController.Cancel)

	payments := auth.Group("/payments")
	payments.POST("/manual", paymentController.SubmitManualPayment)
	payments.POST("/:id/evidence", paymentController.AttachEvidence)

	// the reconciliation service checks the admin role itself
	admin := auth.Group("/admin")
	admin.GET("/payments", adminController.ListPayments)
	admin.POST("/payments/:id/confirm", adminController.ConfirmPayment)
	admin.POST("/payments/:id/reject", adminController.RejectPayment)
	admin.POST("/transactions/:id/refund", adminController.IssueRefund)
	admin.POST("/transactions/:id/resolve", adminController.ResolveDispute)
	admin.PATCH("/orders/:id", adminController.AdjustOrder)
	admin.POST("/orders/:id/fulfillment", adminController.AdvanceFulfillment)
	admin.GET("/reports/financial", adminController.FinancialReport)
	admin.GET("/reports/monitor", adminController.Monitor)
	admin.POST("/billing/run", middleware.RoleMiddleware(utils.RoleAdmin), adminController.RunBilling)
}
