package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dbm "payledger/internal/models/db_models"
	"payledger/internal/repositories"
	mem "payledger/pkg/memcache"
	"payledger/pkg/utils"
)

// LedgerSettings are the tunables shared by the state machine, the
// reconciliation engine and the scheduler.
type LedgerSettings struct {
	GatewayTimeout    time.Duration
	LeaseTTL          time.Duration
	StaleWriteRetries int
	Currency          string
}

func DefaultLedgerSettings() LedgerSettings {
	return LedgerSettings{
		GatewayTimeout:    10 * time.Second,
		LeaseTTL:          time.Minute,
		StaleWriteRetries: 3,
		Currency:          "USD",
	}
}

// Validate rejects settings under which a lease could expire while its
// holder still waits on the gateway.
func (s LedgerSettings) Validate() error {
	if s.GatewayTimeout <= 0 {
		return utils.NewError(utils.KindInvalidArgument, "gateway timeout must be positive")
	}
	if s.LeaseTTL <= s.GatewayTimeout {
		return utils.NewError(utils.KindInvalidArgument, "lease ttl %s must exceed gateway timeout %s", s.LeaseTTL, s.GatewayTimeout)
	}
	return nil
}

// TransactionService is the single authority over (Order, Transaction) status pairs.
type TransactionService interface {
	CreateCharge(ctx context.Context, id Identity, orderID, methodID string) (*dbm.Transaction, error)
	CancelOrder(ctx context.Context, id Identity, orderID string) (*dbm.Order, error)
	Refund(ctx context.Context, txnID string) (*dbm.Transaction, error)
}

type transactionService struct {
	store    repositories.LedgerStore
	gateways *GatewayRegistry
	leases   mem.LeaseStore
	sink     NotificationSink
	settings LedgerSettings
	now      func() time.Time
}

func NewTransactionService(
	store repositories.LedgerStore,
	gateways *GatewayRegistry,
	leases mem.LeaseStore,
	sink NotificationSink,
	settings LedgerSettings,
) TransactionService {
	return &transactionService{
		store:    store,
		gateways: gateways,
		leases:   leases,
		sink:     sink,
		settings: settings,
		now:      time.Now,
	}
}

// CreateCharge attempts to pay a pending order with one of the requester's
// payment methods. On a gateway failure the failed transaction is returned
// together with a GatewayDeclined or GatewayTimeout error.
func (s *transactionService) CreateCharge(ctx context.Context, id Identity, orderID, methodID string) (*dbm.Transaction, error) {
	var txn *dbm.Transaction
	var chargeErr error

	err := withLease(ctx, s.leases, orderLeaseKey(orderID), s.settings.LeaseTTL, func() error {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != id.UserID {
			return utils.NewError(utils.KindNotFound, "order not found")
		}
		if order.Status != dbm.OrderStatusPending {
			return utils.NewError(utils.KindInvalidTransition, "order is not awaiting payment")
		}

		user, err := s.store.GetUser(ctx, id.UserID)
		if err != nil {
			return err
		}
		method, ok := user.FindPaymentMethod(methodID)
		if !ok {
			return utils.NewError(utils.KindNotFound, "payment method not found")
		}

		attempts, err := s.store.FindTransactionsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for i := range attempts {
			if attempts[i].IsActive() {
				return utils.ErrConflictingTransaction
			}
		}

		// Claim the order by bumping its version. A concurrent claimer on
		// another instance loses with StaleWrite even without a shared lease.
		if err := s.store.SaveOrder(ctx, order); err != nil {
			if errors.Is(err, utils.ErrStaleWrite) {
				return utils.ErrConflictingTransaction
			}
			return err
		}

		txn = &dbm.Transaction{
			UserID:        id.UserID,
			OrderID:       &order.ID,
			Amount:        order.FinalAmount,
			Currency:      s.currency(order.Currency),
			PaymentMethod: method.Ref(),
			Type:          dbm.TxnTypePayment,
			Status:        dbm.TxnStatusPending,
			Gateway:       string(GatewayForMethod(method.Type)),
		}
		if err := s.store.SaveTransaction(ctx, txn); err != nil {
			return err
		}

		result := s.gateways.Charge(ctx, s.settings.GatewayTimeout, txn.Amount, txn.PaymentMethod)

		// the charge happened; persist its outcome even if the caller went away
		persistCtx := context.WithoutCancel(ctx)
		if err := settleCharge(persistCtx, s.store, txn, result, s.now()); err != nil {
			return err
		}

		if !result.Succeeded {
			chargeErr = result.Err
			slog.InfoContext(ctx, "charge failed", "order_id", order.ID, "transaction_id", txn.ID, "timed_out", result.TimedOut)
			notify(persistCtx, s.sink, id.UserID, NotifyPaymentFailed, map[string]any{"order_id": order.ID})
			return nil
		}

		if err := s.markOrderPaid(persistCtx, order.ID, txn.ID); err != nil {
			return err
		}
		if err := appendBillingHistory(persistCtx, s.store, s.settings.StaleWriteRetries, id.UserID, txn.ID); err != nil {
			slog.ErrorContext(ctx, "billing history update failed", "user_id", id.UserID, "transaction_id", txn.ID, "error", err)
		}
		slog.InfoContext(ctx, "charge completed", "order_id", order.ID, "transaction_id", txn.ID)
		notify(persistCtx, s.sink, id.UserID, NotifyPaymentSucceeded, map[string]any{
			"order_id": order.ID,
			"amount":   txn.Amount.StringFixed(2),
		})
		return nil
	})
	if errors.Is(err, errLeaseHeld) {
		return nil, utils.ErrConflictingTransaction
	}
	if err != nil {
		return nil, err
	}
	return txn, chargeErr
}

// settleCharge writes the gateway result onto a pending transaction.
func settleCharge(ctx context.Context, store repositories.LedgerStore, txn *dbm.Transaction, result ChargeResult, now time.Time) error {
	if result.Succeeded {
		txn.Status = dbm.TxnStatusCompleted
		txn.GatewayReference = result.Outcome.Reference
		txn.CompletedAt = &now
	} else {
		txn.Status = dbm.TxnStatusFailed
		txn.ErrorMessage = result.Outcome.Error
	}
	return store.SaveTransaction(ctx, txn)
}

func (s *transactionService) markOrderPaid(ctx context.Context, orderID, txnID string) error {
	return utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == dbm.OrderStatusProcessing && order.TransactionID != nil && *order.TransactionID == txnID {
			return nil
		}
		if !CanTransitionOrder(order.Status, dbm.OrderStatusProcessing) {
			return utils.NewError(utils.KindInvalidTransition, "order left pending while payment was in flight")
		}
		order.Status = dbm.OrderStatusProcessing
		order.TransactionID = &txnID
		return s.store.SaveOrder(ctx, order)
	})
}

// appendBillingHistory adds txnID to the user's billing history once.
func appendBillingHistory(ctx context.Context, store repositories.LedgerStore, retries int, userID, txnID string) error {
	return utils.RetryOnStale(ctx, retries, func(ctx context.Context) error {
		user, err := store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		before := len(user.BillingHistory)
		user.RecordBilling(txnID)
		if len(user.BillingHistory) == before {
			return nil
		}
		return store.SaveUser(ctx, user)
	})
}

// CancelOrder stops an order before fulfilment. Pending attempts are
// cancelled; a completed payment has to be refunded instead.
func (s *transactionService) CancelOrder(ctx context.Context, id Identity, orderID string) (*dbm.Order, error) {
	var result *dbm.Order
	cancelled := false

	err := withLease(ctx, s.leases, orderLeaseKey(orderID), s.settings.LeaseTTL, func() error {
		return utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
			order, err := s.store.GetOrder(ctx, orderID)
			if err != nil {
				return err
			}
			if order.UserID != id.UserID && !id.IsAdmin {
				return utils.NewError(utils.KindNotFound, "order not found")
			}
			if order.Status == dbm.OrderStatusCancelled {
				result = order
				return nil
			}
			if !CanTransitionOrder(order.Status, dbm.OrderStatusCancelled) {
				return utils.NewError(utils.KindInvalidTransition, "order in status %s can no longer be cancelled", order.Status)
			}

			attempts, err := s.store.FindTransactionsByOrder(ctx, orderID)
			if err != nil {
				return err
			}
			for i := range attempts {
				if attempts[i].Status == dbm.TxnStatusCompleted {
					return utils.NewError(utils.KindInvalidTransition, "order has a completed payment; refund it instead of cancelling")
				}
			}
			for i := range attempts {
				t := &attempts[i]
				if CanTransitionTransaction(t.Status, dbm.TxnStatusCancelled) {
					t.Status = dbm.TxnStatusCancelled
					if err := s.store.SaveTransaction(ctx, t); err != nil {
						return err
					}
				}
				if t.Status == dbm.TxnStatusCancelled && t.PaymentID != nil {
					if err := s.closeManualPayment(ctx, *t.PaymentID); err != nil {
						return err
					}
				}
			}

			order.Status = dbm.OrderStatusCancelled
			if err := s.store.SaveOrder(ctx, order); err != nil {
				return err
			}
			result = order
			cancelled = true
			return nil
		})
	})
	if errors.Is(err, errLeaseHeld) {
		return nil, utils.ErrConflictingTransaction
	}
	if err != nil {
		return nil, err
	}
	if cancelled {
		slog.InfoContext(ctx, "order cancelled", "order_id", orderID)
		notify(ctx, s.sink, result.UserID, NotifyOrderCancelled, map[string]any{"order_id": orderID})
	}
	return result, nil
}

// closeManualPayment takes a manual payment out of the review queue once the
// order it was meant to pay is gone.
func (s *transactionService) closeManualPayment(ctx context.Context, paymentID string) error {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status != dbm.PaymentStatusPending {
		return nil
	}
	p.Status = dbm.PaymentStatusRejected
	return s.store.SavePayment(ctx, p)
}

// Refund flips a completed transaction and its order to refunded. Replaying it
// on a refunded transaction returns the stored state and moves no money.
func (s *transactionService) Refund(ctx context.Context, txnID string) (*dbm.Transaction, error) {
	var txn *dbm.Transaction
	refunded := false

	err := utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		t, err := s.store.GetTransaction(ctx, txnID)
		if err != nil {
			return err
		}
		txn = t
		if t.Status == dbm.TxnStatusRefunded {
			return nil
		}
		if !CanTransitionTransaction(t.Status, dbm.TxnStatusRefunded) {
			return utils.NewError(utils.KindInvalidTransition, "cannot refund unconfirmed or non-completed payment")
		}
		now := s.now()
		t.Status = dbm.TxnStatusRefunded
		t.RefundedAt = &now
		if err := s.store.SaveTransaction(ctx, t); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	// also repairs the order when a previous refund stopped half-way
	if txn.OrderID != nil {
		if err := s.markOrderRefunded(ctx, *txn.OrderID); err != nil {
			return nil, err
		}
	}

	if refunded {
		slog.InfoContext(ctx, "refund issued", "transaction_id", txn.ID)
		notify(ctx, s.sink, txn.UserID, NotifyRefundIssued, map[string]any{"transaction_id": txn.ID})
	} else {
		slog.InfoContext(ctx, "refund replay ignored", "transaction_id", txn.ID)
	}
	return txn, nil
}

func (s *transactionService) markOrderRefunded(ctx context.Context, orderID string) error {
	return utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == dbm.OrderStatusRefunded {
			return nil
		}
		if !CanTransitionOrder(order.Status, dbm.OrderStatusRefunded) {
			return utils.NewError(utils.KindInvalidTransition, "order in status %s cannot be refunded", order.Status)
		}
		order.Status = dbm.OrderStatusRefunded
		return s.store.SaveOrder(ctx, order)
	})
}

func (s *transactionService) currency(c string) string {
	if c != "" {
		return c
	}
	return s.settings.Currency
}
