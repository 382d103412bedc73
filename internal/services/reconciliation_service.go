package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	dbm "payledger/internal/models/db_models"
	resp "payledger/internal/models/response_models"
	"payledger/internal/repositories"
	mem "payledger/pkg/memcache"
	"payledger/pkg/utils"
)

const rejectedByAdmin = "payment rejected by administrator"

// OrderAdjustment carries the cost components an administrator may change.
// Nil fields keep their current value.
type OrderAdjustment struct {
	Tax         *decimal.Decimal
	ShippingFee *decimal.Decimal
	Discount    *decimal.Decimal
}

// ReconciliationService holds the administrator operations. Every method
// checks the identity before it reads anything.
type ReconciliationService interface {
	ConfirmPayment(ctx context.Context, id Identity, paymentID string) (*dbm.Payment, error)
	RejectPayment(ctx context.Context, id Identity, paymentID string) (*dbm.Payment, error)
	IssueRefund(ctx context.Context, id Identity, txnID string) (*dbm.Transaction, error)
	ResolveDispute(ctx context.Context, id Identity, txnID, note string) (*dbm.Transaction, error)
	AdjustOrderDetails(ctx context.Context, id Identity, orderID string, adj OrderAdjustment) (*dbm.Order, error)
	AdvanceFulfillment(ctx context.Context, id Identity, orderID string, to dbm.OrderStatus) (*dbm.Order, error)
	GenerateFinancialReport(ctx context.Context, id Identity, q resp.ReportQuery) (*resp.FinancialReport, error)
	MonitorTransactions(ctx context.Context, id Identity, q resp.ReportQuery) (*resp.MonitorReport, error)
	ListPayments(ctx context.Context, id Identity, status dbm.PaymentStatus) ([]dbm.Payment, error)
}

type reconciliationService struct {
	store    repositories.LedgerStore
	txns     TransactionService
	reports  ReportService
	leases   mem.LeaseStore
	sink     NotificationSink
	settings LedgerSettings
	now      func() time.Time
}

func NewReconciliationService(
	store repositories.LedgerStore,
	txns TransactionService,
	reports ReportService,
	leases mem.LeaseStore,
	sink NotificationSink,
	settings LedgerSettings,
) ReconciliationService {
	return &reconciliationService{
		store:    store,
		txns:     txns,
		reports:  reports,
		leases:   leases,
		sink:     sink,
		settings: settings,
		now:      time.Now,
	}
}

func authorize(id Identity) error {
	if !id.IsAdmin {
		return utils.ErrUnauthorized
	}
	return nil
}

func (s *reconciliationService) ConfirmPayment(ctx context.Context, id Identity, paymentID string) (*dbm.Payment, error) {
	if err := authorize(id); err != nil {
		return nil, err
	}

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case dbm.PaymentStatusConfirmed:
		return payment, nil
	case dbm.PaymentStatusRejected:
		return nil, utils.NewError(utils.KindInvalidState, "payment was already rejected")
	}

	// transaction first: a crash before the payment save is repaired by a replay
	err = utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		txn, err := s.store.GetTransaction(ctx, payment.TransactionID)
		if err != nil {
			return err
		}
		if txn.Status == dbm.TxnStatusCompleted {
			return nil
		}
		if !CanTransitionTransaction(txn.Status, dbm.TxnStatusCompleted) {
			return utils.NewError(utils.KindInvalidState, "linked transaction is %s", txn.Status)
		}
		now := s.now()
		txn.Status = dbm.TxnStatusCompleted
		txn.CompletedAt = &now
		return s.store.SaveTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	err = utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		p, err := s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == dbm.PaymentStatusConfirmed {
			payment = p
			return nil
		}
		if p.Status != dbm.PaymentStatusPending {
			return utils.NewError(utils.KindInvalidState, "payment was already rejected")
		}
		p.Status = dbm.PaymentStatusConfirmed
		if err := s.store.SavePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if payment.OrderID != nil {
		if err := s.linkOrder(ctx, *payment.OrderID, payment.TransactionID); err != nil {
			return nil, err
		}
	}
	if err := appendBillingHistory(ctx, s.store, s.settings.StaleWriteRetries, payment.UserID, payment.TransactionID); err != nil {
		slog.ErrorContext(ctx, "billing history update failed", "user_id", payment.UserID, "error", err)
	}

	slog.InfoContext(ctx, "payment confirmed", "payment_id", payment.ID, "admin_id", id.UserID)
	notify(ctx, s.sink, payment.UserID, NotifyPaymentConfirmed, map[string]any{"payment_id": payment.ID})
	return payment, nil
}

// linkOrder moves a still-pending order to processing once its manual payment is confirmed.
func (s *reconciliationService) linkOrder(ctx context.Context, orderID, txnID string) error {
	return utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != dbm.OrderStatusPending {
			return nil
		}
		order.Status = dbm.OrderStatusProcessing
		order.TransactionID = &txnID
		return s.store.SaveOrder(ctx, order)
	})
}

func (s *reconciliationService) RejectPayment(ctx context.Context, id Identity, paymentID string) (*dbm.Payment, error) {
	if err := authorize(id); err != nil {
		return nil, err
	}

	payment, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case dbm.PaymentStatusRejected:
		return payment, nil
	case dbm.PaymentStatusConfirmed:
		return nil, utils.NewError(utils.KindInvalidState, "payment was already confirmed")
	}

	err = utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		txn, err := s.store.GetTransaction(ctx, payment.TransactionID)
		if err != nil {
			return err
		}
		// a cancelled attempt already moves no money; only the payment is left to close
		if txn.Status == dbm.TxnStatusFailed || txn.Status == dbm.TxnStatusCancelled {
			return nil
		}
		if !CanTransitionTransaction(txn.Status, dbm.TxnStatusFailed) {
			return utils.NewError(utils.KindInvalidState, "linked transaction is %s", txn.Status)
		}
		txn.Status = dbm.TxnStatusFailed
		txn.ErrorMessage = rejectedByAdmin
		return s.store.SaveTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	err = utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		p, err := s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == dbm.PaymentStatusRejected {
			payment = p
			return nil
		}
		if p.Status != dbm.PaymentStatusPending {
			return utils.NewError(utils.KindInvalidState, "payment was already confirmed")
		}
		p.Status = dbm.PaymentStatusRejected
		if err := s.store.SavePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "payment rejected", "payment_id", payment.ID, "admin_id", id.UserID)
	notify(ctx, s.sink, payment.UserID, NotifyPaymentRejected, map[string]any{"payment_id": payment.ID})
	return payment, nil
}

func (s *reconciliationService) IssueRefund(ctx context.Context, id Identity, txnID string) (*dbm.Transaction, error) {
	if err := authorize(id); err != nil {
		return nil, err
	}
	return s.txns.Refund(ctx, txnID)
}

func (s *reconciliationService) ResolveDispute(ctx context.Context, id Identity, txnID, note string) (*dbm.Transaction, error) {
	if err := authorize(id); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, utils.NewError(utils.KindInvalidArgument, "resolution note is required")
	}
	suffix := " | Resolution: " + note

	var txn *dbm.Transaction
	err := utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		t, err := s.store.GetTransaction(ctx, txnID)
		if err != nil {
			return err
		}
		if t.Status != dbm.TxnStatusFailed {
			return utils.NewError(utils.KindInvalidState, "only failed transactions can be disputed")
		}
		txn = t
		if strings.HasSuffix(t.ErrorMessage, suffix) {
			return nil
		}
		t.ErrorMessage += suffix
		return s.store.SaveTransaction(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "dispute resolved", "transaction_id", txnID, "admin_id", id.UserID)
	return txn, nil
}

func (s *reconciliationService) AdjustOrderDetails(ctx context.Context, id Identity, orderID string, adj OrderAdjustment) (*dbm.Order, error) {
	if err := authorize(id); err != nil {
		return nil, err
	}

	var order *dbm.Order
	err := withLease(ctx, s.leases, orderLeaseKey(orderID), s.settings.LeaseTTL, func() error {
		return utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
			o, err := s.store.GetOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if o.Status != dbm.OrderStatusPending {
				return utils.NewError(utils.KindInvalidState, "only pending orders can be adjusted")
			}
			before := o.FinalAmount
			changed := false
			apply := func(dst *decimal.Decimal, v *decimal.Decimal) {
				if v != nil && !dst.Equal(*v) {
					*dst = *v
					changed = true
				}
			}
			apply(&o.Tax, adj.Tax)
			apply(&o.ShippingFee, adj.ShippingFee)
			apply(&o.Discount, adj.Discount)
			if err := o.RecomputeFinalAmount(); err != nil {
				return utils.NewError(utils.KindInvalidArgument, "%s", err.Error())
			}
			order = o
			if !changed && before.Equal(o.FinalAmount) {
				return nil
			}
			return s.store.SaveOrder(ctx, o)
		})
	})
	if errors.Is(err, errLeaseHeld) {
		return nil, utils.ErrConflictingTransaction
	}
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "order adjusted", "order_id", orderID, "admin_id", id.UserID)
	return order, nil
}

// AdvanceFulfillment moves a paid order along processing -> shipped -> delivered.
func (s *reconciliationService) AdvanceFulfillment(ctx context.Context, id Identity, orderID string, to dbm.OrderStatus) (*dbm.Order, error) {
	if err := authorize(id); err != nil {
		return nil, err
	}
	if to != dbm.OrderStatusShipped && to != dbm.OrderStatusDelivered {
		return nil, utils.NewError(utils.KindInvalidArgument, "fulfillment status must be shipped or delivered")
	}

	var order *dbm.Order
	err := withLease(ctx, s.leases, orderLeaseKey(orderID), s.settings.LeaseTTL, func() error {
		return utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
			o, err := s.store.GetOrder(ctx, orderID)
			if err != nil {
				return err
			}
			order = o
			if o.Status == to {
				return nil
			}
			if !CanTransitionOrder(o.Status, to) {
				return utils.NewError(utils.KindInvalidTransition, "order in status %s cannot become %s", o.Status, to)
			}
			o.Status = to
			return s.store.SaveOrder(ctx, o)
		})
	})
	if errors.Is(err, errLeaseHeld) {
		return nil, utils.ErrConflictingTransaction
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *reconciliationService) GenerateFinancialReport(ctx context.Context, id Identity, q resp.ReportQuery) (*resp.FinancialReport, error) {
	if err := authorize(id); err != nil {
		return nil, err
	}
	return s.reports.BuildReport(ctx, q)
}

func (s *reconciliationService) MonitorTransactions(ctx context.Context, id Identity, q resp.ReportQuery) (*resp.MonitorReport, error) {
	if err := authorize(id); err != nil {
		return nil, err
	}
	return s.reports.Monitor(ctx, q)
}

// ListPayments is the review queue for manual payments.
func (s *reconciliationService) ListPayments(ctx context.Context, id Identity, status dbm.PaymentStatus) ([]dbm.Payment, error) {
	if err := authorize(id); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, status)
}
