package request_models

import (
	"github.com/shopspring/decimal"
	dbm "payledger/internal/models/db_models"
)

type SignUpRequest struct {
	FullName string `json:"full_name" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
}

type AddPaymentMethodRequest struct {
	Type        dbm.PaymentMethodType `json:"type" binding:"required"`
	Number      string                `json:"number" binding:"required,min=4"`
	MakeDefault bool                  `json:"make_default"`
}

type UpdatePaymentMethodRequest struct {
	Number      *string `json:"number"`
	MakeDefault bool    `json:"make_default"`
}

type SetupSubscriptionRequest struct {
	Plan            dbm.BillingPlan `json:"plan" binding:"required,oneof=monthly yearly"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethodID string          `json:"payment_method_id"`
}
