package db_models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethodType string

const (
	MethodCreditCard   PaymentMethodType = "credit_card"
	MethodDebitCard    PaymentMethodType = "debit_card"
	MethodBankTransfer PaymentMethodType = "bank_transfer"
	MethodPayPal       PaymentMethodType = "paypal"
)

func (t PaymentMethodType) Valid() bool {
	switch t {
	case MethodCreditCard, MethodDebitCard, MethodBankTransfer, MethodPayPal:
		return true
	default:
		return false
	}
}

type BillingPlan string

const (
	PlanMonthly BillingPlan = "monthly"
	PlanYearly  BillingPlan = "yearly"
)

// Interval is the distance between two billing cycles of the plan.
func (p BillingPlan) Interval() time.Duration {
	if p == PlanYearly {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

type PaymentMethod struct {
	ID        string            `json:"id"`
	Type      PaymentMethodType `json:"type"`
	Masked    string            `json:"masked"`
	IsDefault bool              `json:"is_default"`
	AddedAt   time.Time         `json:"added_at"`
}

func (m PaymentMethod) Ref() PaymentMethodRef {
	return PaymentMethodRef{MethodID: m.ID, Type: m.Type, Masked: m.Masked}
}

type Subscription struct {
	IsActive       bool            `json:"is_active"`
	Plan           BillingPlan     `gorm:"type:varchar(16)" json:"plan"`
	NextChargeDate *time.Time      `gorm:"index" json:"next_charge_date,omitempty"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2)" json:"amount"`
	Currency       string          `gorm:"size:3" json:"currency"`
}

// Account is the User aggregate: it owns payment methods and at most one
// subscription. BillingHistory only references transactions by id.
type Account struct {
	BaseModel
	Email          string          `gorm:"uniqueIndex" json:"email"`
	FullName       string          `json:"full_name"`
	Role           string          `gorm:"default:'customer'" json:"role"`
	PaymentMethods []PaymentMethod `gorm:"serializer:json" json:"payment_methods"`
	Subscription   Subscription    `gorm:"embedded;embeddedPrefix:subscription_" json:"subscription"`
	BillingHistory []string        `gorm:"serializer:json" json:"billing_history"`
}

// DefaultPaymentMethod returns the default method, falling back to the first one.
func (a *Account) DefaultPaymentMethod() (PaymentMethod, bool) {
	for _, m := range a.PaymentMethods {
		if m.IsDefault {
			return m, true
		}
	}
	if len(a.PaymentMethods) > 0 {
		return a.PaymentMethods[0], true
	}
	return PaymentMethod{}, false
}

func (a *Account) FindPaymentMethod(id string) (PaymentMethod, bool) {
	for _, m := range a.PaymentMethods {
		if m.ID == id {
			return m, true
		}
	}
	return PaymentMethod{}, false
}

// SetDefaultPaymentMethod marks id as the only default method.
func (a *Account) SetDefaultPaymentMethod(id string) bool {
	if _, ok := a.FindPaymentMethod(id); !ok {
		return false
	}
	for i := range a.PaymentMethods {
		a.PaymentMethods[i].IsDefault = a.PaymentMethods[i].ID == id
	}
	return true
}

// RecordBilling appends a transaction id to the billing history once.
func (a *Account) RecordBilling(txnID string) {
	for _, id := range a.BillingHistory {
		if id == txnID {
			return
		}
	}
	a.BillingHistory = append(a.BillingHistory, txnID)
}
