package response_models

import (
	"time"

	"github.com/shopspring/decimal"
	dbm "payledger/internal/models/db_models"
)

type TimeRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ReportQuery narrows a report. Zero fields match everything.
type ReportQuery struct {
	UserID      string                `json:"user_id,omitempty"`
	Status      dbm.TransactionStatus `json:"status,omitempty"`
	IsRecurring *bool                 `json:"is_recurring,omitempty"`
	Range       TimeRange             `json:"range"`
}

type StatusBucket struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type FinancialReport struct {
	Query    ReportQuery                            `json:"query"`
	ByStatus map[dbm.TransactionStatus]StatusBucket `json:"by_status"`
	ByType   map[dbm.TransactionType]StatusBucket   `json:"by_type"`

	// TotalAmount is payments minus refund-type records.
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Revenue          decimal.Decimal `json:"revenue"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
	TransactionCount int             `json:"transaction_count"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

type MonitorReport struct {
	Query        ReportQuery       `json:"query"`
	Threshold    decimal.Decimal   `json:"threshold"`
	Transactions []dbm.Transaction `json:"transactions"`
	Suspicious   []dbm.Transaction `json:"suspicious"`
}

// BillingRunSummary is what one scheduler pass did.
type BillingRunSummary struct {
	RunAt     time.Time `json:"run_at"`
	Processed int       `json:"processed"`
	Charged   int       `json:"charged"`
	Failed    int       `json:"failed"`
	Repaired  int       `json:"repaired"`
	Reminded  int       `json:"reminded"`
	Skipped   int       `json:"skipped"`
	Errors    []string  `json:"errors,omitempty"`
}
