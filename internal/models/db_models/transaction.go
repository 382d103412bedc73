package db_models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TxnStatusPending   TransactionStatus = "pending"
	TxnStatusCompleted TransactionStatus = "completed"
	TxnStatusFailed    TransactionStatus = "failed"
	TxnStatusRefunded  TransactionStatus = "refunded"
	TxnStatusCancelled TransactionStatus = "cancelled"
)

// TransactionType separates money-in records from refund records. The engine
// refunds in place, so it only ever writes payments; refund rows can still
// arrive from imports and are honoured by reports.
type TransactionType string

const (
	TxnTypePayment TransactionType = "payment"
	TxnTypeRefund  TransactionType = "refund"
)

// PaymentMethodRef describes the instrument a transaction was charged to.
type PaymentMethodRef struct {
	MethodID string            `json:"method_id,omitempty"`
	Type     PaymentMethodType `json:"type"`
	Masked   string            `json:"masked,omitempty"`
}

type Transaction struct {
	BaseModel
	UserID    string  `gorm:"type:varchar(36);index;not null" json:"user_id"`
	OrderID   *string `gorm:"type:varchar(36);index" json:"order_id,omitempty"`
	PaymentID *string `gorm:"type:varchar(36);index" json:"payment_id,omitempty"`

	Amount        decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency      string            `gorm:"size:3" json:"currency"`
	PaymentMethod PaymentMethodRef  `gorm:"serializer:json" json:"payment_method"`
	Type          TransactionType   `gorm:"type:varchar(16);index;not null;default:'payment'" json:"type"`
	Status        TransactionStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	ErrorMessage  string            `json:"error_message,omitempty"`

	Gateway          string `gorm:"index" json:"gateway,omitempty"`
	GatewayReference string `json:"gateway_reference,omitempty"`

	IsRecurring       bool        `gorm:"index" json:"is_recurring"`
	RecurringInterval BillingPlan `gorm:"type:varchar(16)" json:"recurring_interval,omitempty"`
	BillingCycleKey   string      `gorm:"index" json:"billing_cycle_key,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
}

// IsTerminal reports whether no further money-affecting transition is possible.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TxnStatusRefunded || t.Status == TxnStatusCancelled
}

// IsActive reports whether the transaction still blocks a new attempt on its order.
func (t *Transaction) IsActive() bool {
	return t.Status == TxnStatusPending
}
