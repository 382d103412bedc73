package controllers_fx

import (
	"go.uber.org/fx"
	"payledger/internal/api/controllers"
)

var Module = fx.Options(
	fx.Provide(controllers.NewOrderController),
	fx.Provide(controllers.NewPaymentController),
	fx.Provide(controllers.NewAccountController),
	fx.Provide(controllers.NewAdminController))
