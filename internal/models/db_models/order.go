package db_models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// OrderItem is the price snapshot taken at purchase time. It is never updated.
type OrderItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	BaseModel
	UserID        string          `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Items         []OrderItem     `gorm:"serializer:json" json:"items"`
	TotalAmount   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"total_amount"`
	Discount      decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"discount"`
	Tax           decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"tax"`
	ShippingFee   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"shipping_fee"`
	FinalAmount   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"final_amount"`
	Currency      string          `gorm:"size:3" json:"currency"`
	Status        OrderStatus     `gorm:"type:varchar(16);index;not null" json:"status"`
	TransactionID *string         `gorm:"type:varchar(36)" json:"transaction_id,omitempty"`
	PromoCode     string          `json:"promo_code,omitempty"`
}

// ItemsTotal sums the snapshot line items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// RecomputeFinalAmount derives FinalAmount from its components. It is the only
// writer of FinalAmount; any value supplied from outside is overwritten.
func (o *Order) RecomputeFinalAmount() error {
	components := []struct {
		name  string
		value decimal.Decimal
	}{
		{"total amount", o.TotalAmount},
		{"discount", o.Discount},
		{"tax", o.Tax},
		{"shipping fee", o.ShippingFee},
	}
	for _, c := range components {
		if c.value.IsNegative() {
			return fmt.Errorf("%s must not be negative", c.name)
		}
	}
	final := o.TotalAmount.Sub(o.Discount).Add(o.Tax).Add(o.ShippingFee)
	if final.IsNegative() {
		return fmt.Errorf("discount exceeds order value")
	}
	o.FinalAmount = final
	return nil
}

// IsTerminal reports whether the order has left the payment lifecycle for good.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusCancelled || o.Status == OrderStatusRefunded
}
