package request_models

import "github.com/shopspring/decimal"

type ChargeOrderRequest struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
}

type SubmitManualPaymentRequest struct {
	AccountNumber string          `json:"account_number" binding:"required,min=4"`
	Amount        decimal.Decimal `json:"amount"`
	OrderID       *string         `json:"order_id"`
}

type AttachEvidenceRequest struct {
	Evidence string `json:"evidence" binding:"required"`
}
