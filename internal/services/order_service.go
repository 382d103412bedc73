package services

import (
	"context"
	"log/slog"
	"strings"

	dbm "payledger/internal/models/db_models"
	"payledger/internal/models/request_models"
	"payledger/internal/repositories"
	"payledger/pkg/utils"
)

type OrderService interface {
	CreateOrder(ctx context.Context, userID string, req request_models.CreateOrderRequest) (*dbm.Order, error)
	GetOrder(ctx context.Context, id Identity, orderID string) (*dbm.Order, error)
	OrderTransactions(ctx context.Context, id Identity, orderID string) ([]dbm.Transaction, error)
}

type orderService struct {
	store    repositories.LedgerStore
	currency string
}

func NewOrderService(store repositories.LedgerStore, settings LedgerSettings) OrderService {
	return &orderService{store: store, currency: settings.Currency}
}

// CreateOrder snapshots the item prices and derives the totals. Any final
// amount sent by the client is ignored.
func (s *orderService) CreateOrder(ctx context.Context, userID string, req request_models.CreateOrderRequest) (*dbm.Order, error) {
	if len(req.Items) == 0 {
		return nil, utils.NewError(utils.KindInvalidArgument, "order needs at least one item")
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	items := make([]dbm.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, utils.NewError(utils.KindInvalidArgument, "item quantity must be positive")
		}
		if it.UnitPrice.IsNegative() {
			return nil, utils.NewError(utils.KindInvalidArgument, "item price must not be negative")
		}
		items = append(items, dbm.OrderItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.currency
	}
	order := &dbm.Order{
		UserID:      userID,
		Items:       items,
		Discount:    req.Discount,
		Tax:         req.Tax,
		ShippingFee: req.ShippingFee,
		Currency:    currency,
		Status:      dbm.OrderStatusPending,
		PromoCode:   req.PromoCode,
	}
	order.TotalAmount = order.ItemsTotal()
	if err := order.RecomputeFinalAmount(); err != nil {
		return nil, utils.NewError(utils.KindInvalidArgument, "%s", err.Error())
	}

	if err := s.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "order created", "order_id", order.ID, "user_id", userID, "items", len(items))
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, id Identity, orderID string) (*dbm.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != id.UserID && !id.IsAdmin {
		return nil, utils.NewError(utils.KindNotFound, "order not found")
	}
	return order, nil
}

func (s *orderService) OrderTransactions(ctx context.Context, id Identity, orderID string) ([]dbm.Transaction, error) {
	if _, err := s.GetOrder(ctx, id, orderID); err != nil {
		return nil, err
	}
	return s.store.FindTransactionsByOrder(ctx, orderID)
}
