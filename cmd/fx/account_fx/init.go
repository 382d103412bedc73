package account_fx

import (
	"go.uber.org/fx"
	"payledger/internal/services"
)

var Module = fx.Provide(
	services.NewAccountService,
)
