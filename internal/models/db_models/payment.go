package db_models

import "github.com/shopspring/decimal"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusRejected  PaymentStatus = "rejected"
)

// Payment is a manually evidenced payment (e.g. a bank transfer receipt) that
// waits for an administrator to confirm or reject it.
type Payment struct {
	BaseModel
	UserID        string          `gorm:"type:varchar(36);index;not null" json:"user_id"`
	OrderID       *string         `gorm:"type:varchar(36);index" json:"order_id,omitempty"`
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Evidence      string          `json:"evidence,omitempty"`
	Status        PaymentStatus   `gorm:"type:varchar(16);index;not null" json:"status"`
	TransactionID string          `gorm:"type:varchar(36);index" json:"transaction_id"`
}

// MaskAccountNumber keeps only the last four characters.
func MaskAccountNumber(n string) string {
	if len(n) <= 4 {
		return n
	}
	return "****" + n[len(n)-4:]
}
