package request_models

import "github.com/shopspring/decimal"

type OrderItemRequest struct {
	ProductID   string          `json:"product_id" binding:"required"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity" binding:"required,min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type CreateOrderRequest struct {
	Items       []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	Discount    decimal.Decimal    `json:"discount"`
	Tax         decimal.Decimal    `json:"tax"`
	ShippingFee decimal.Decimal    `json:"shipping_fee"`
	PromoCode   string             `json:"promo_code"`
	Currency    string             `json:"currency" binding:"omitempty,len=3"`
}

// AdjustOrderRequest leaves nil fields unchanged.
type AdjustOrderRequest struct {
	Tax         *decimal.Decimal `json:"tax"`
	ShippingFee *decimal.Decimal `json:"shipping_fee"`
	Discount    *decimal.Decimal `json:"discount"`
}

type FulfillmentRequest struct {
	Status string `json:"status" binding:"required,oneof=shipped delivered"`
}

type ResolveDisputeRequest struct {
	Note string `json:"note" binding:"required"`
}
