package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "payledger/internal/models/db_models"
	"payledger/internal/repositories"
	"payledger/pkg/utils"
)

func TestCreateCharge_CompletesOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approve())
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "100", "10", "5", "5")
	require.True(t, order.FinalAmount.Equal(dec("100")))

	txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)

	assert.Equal(t, dbm.TxnStatusCompleted, txn.Status)
	assert.True(t, txn.Amount.Equal(dec("100")))
	assert.Equal(t, string(GatewayStripe), txn.Gateway)
	assert.Equal(t, "ref_ok", txn.GatewayReference)
	require.NotNil(t, txn.CompletedAt)

	stored := f.order(t, order.ID)
	assert.Equal(t, dbm.OrderStatusProcessing, stored.Status)
	require.NotNil(t, stored.TransactionID)
	assert.Equal(t, txn.ID, *stored.TransactionID)

	assert.Equal(t, []string{txn.ID}, f.user(t, user.ID).BillingHistory)
	assert.Equal(t, 1, f.sink.count(NotifyPaymentSucceeded))
}

func TestCreateCharge_DeclineLeavesOrderPayable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, decline(), approve())
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "40", "0", "0", "0")

	txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrGatewayDeclined))
	require.NotNil(t, txn)
	assert.Equal(t, dbm.TxnStatusFailed, txn.Status)
	assert.Equal(t, "Payment declined by Stripe", txn.ErrorMessage)
	assert.Equal(t, dbm.OrderStatusPending, f.order(t, order.ID).Status)
	assert.Equal(t, 1, f.sink.count(NotifyPaymentFailed))

	retry, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)
	assert.Equal(t, dbm.TxnStatusCompleted, retry.Status)
	assert.NotEqual(t, txn.ID, retry.ID)

	attempts, err := f.store.FindTransactionsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestCreateCharge_GatewayTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approve())
	f.gateway.block = make(chan struct{})
	f.settings.GatewayTimeout = 20 * time.Millisecond
	f.rebuild()

	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "25", "0", "0", "0")

	txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrGatewayTimeout))
	require.NotNil(t, txn)
	assert.Equal(t, dbm.TxnStatusFailed, txn.Status, "a timed out attempt must not stay pending")
	assert.Equal(t, dbm.TxnStatusFailed, f.txn(t, txn.ID).Status)
	assert.Equal(t, dbm.OrderStatusPending, f.order(t, order.ID).Status)
}

func TestCreateCharge_UnavailableGateway(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry = NewGatewayRegistry()
	f.registry.Register(GatewayStripe, f.gateway)
	f.rebuild()

	user := f.seedUser(t, dbm.MethodPayPal)
	order := f.seedOrder(t, user.ID, "10", "0", "0", "0")

	txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrGatewayDeclined))
	assert.Equal(t, dbm.TxnStatusFailed, txn.Status)
	assert.Equal(t, "payment gateway not available", txn.ErrorMessage)
	assert.Equal(t, 0, f.gateway.Calls())
}

func TestCreateCharge_FullyDiscountedOrderCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, decline())
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "50", "50", "0", "0")
	require.True(t, order.FinalAmount.IsZero())

	txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)
	assert.Equal(t, dbm.TxnStatusCompleted, txn.Status)
	assert.Equal(t, 0, f.gateway.Calls())
	assert.Equal(t, dbm.OrderStatusProcessing, f.order(t, order.ID).Status)
}

func TestLedgerSettings_Validate(t *testing.T) {
	tests := []struct {
		name     string
		settings LedgerSettings
		ok       bool
	}{
		{"defaults", DefaultLedgerSettings(), true},
		{"lease shorter than gateway call", LedgerSettings{GatewayTimeout: 10 * time.Second, LeaseTTL: 5 * time.Second}, false},
		{"lease equal to gateway call", LedgerSettings{GatewayTimeout: time.Second, LeaseTTL: time.Second}, false},
		{"no gateway timeout", LedgerSettings{LeaseTTL: time.Minute}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, utils.ErrInvalidArgument))
		})
	}
}

func TestCreateCharge_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.seedUser(t, dbm.MethodCreditCard)
	stranger := f.seedUser(t, dbm.MethodCreditCard)
	pending := f.seedOrder(t, owner.ID, "10", "0", "0", "0")

	cancelled := f.seedOrder(t, owner.ID, "10", "0", "0", "0")
	_, err := f.txns.CancelOrder(ctx, Identity{UserID: owner.ID}, cancelled.ID)
	require.NoError(t, err)

	tests := []struct {
		name    string
		userID  string
		orderID string
		method  string
		want    error
	}{
		{"unknown order", owner.ID, "missing", "pm-1", utils.ErrNotFound},
		{"someone else's order", stranger.ID, pending.ID, "pm-1", utils.ErrNotFound},
		{"unknown payment method", owner.ID, pending.ID, "pm-9", utils.ErrNotFound},
		{"order no longer pending", owner.ID, cancelled.ID, "pm-1", utils.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn, err := f.txns.CreateCharge(ctx, Identity{UserID: tt.userID}, tt.orderID, tt.method)
			require.Error(t, err)
			assert.Nil(t, txn)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Equal(t, 0, f.gateway.Calls())
}

func TestCreateCharge_ConcurrentAttemptConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approve())
	f.gateway.block = make(chan struct{})
	f.gateway.started = make(chan struct{}, 1)

	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "60", "0", "0", "0")

	type result struct {
		txn *dbm.Transaction
		err error
	}
	first := make(chan result, 1)
	go func() {
		txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
		first <- result{txn, err}
	}()

	select {
	case <-f.gateway.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first charge never reached the gateway")
	}

	_, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConflictingTransaction))

	close(f.gateway.block)
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, dbm.TxnStatusCompleted, res.txn.Status)

	attempts, err := f.store.FindTransactionsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 1, f.gateway.Calls())
}

func TestCreateCharge_PendingAttemptBlocksNewCharge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "60", "0", "0", "0")

	// an attempt started by another instance
	require.NoError(t, f.store.SaveTransaction(ctx, &dbm.Transaction{
		UserID:  user.ID,
		OrderID: &order.ID,
		Amount:  order.FinalAmount,
		Type:    dbm.TxnTypePayment,
		Status:  dbm.TxnStatusPending,
	}))

	_, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrConflictingTransaction))
	assert.Equal(t, 0, f.gateway.Calls())
}

func TestRefund_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approve())
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "100", "10", "5", "5")

	txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)

	refunded, err := f.txns.Refund(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.TxnStatusRefunded, refunded.Status)
	require.NotNil(t, refunded.RefundedAt)
	assert.Equal(t, dbm.OrderStatusRefunded, f.order(t, order.ID).Status)

	again, err := f.txns.Refund(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.TxnStatusRefunded, again.Status)
	assert.Equal(t, refunded.Version, again.Version)
	assert.True(t, refunded.RefundedAt.Equal(*again.RefundedAt))
	assert.Equal(t, 1, f.sink.count(NotifyRefundIssued))

	all, err := f.store.ListTransactions(ctx, repositories.TransactionFilter{UserID: user.ID})
	require.NoError(t, err)
	assert.Len(t, all, 1, "refunds happen in place")
}

func TestRefund_RepairsOrderAfterPartialRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approve())
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "30", "0", "0", "0")

	txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)

	// transaction flipped but the order write never happened
	stored := f.txn(t, txn.ID)
	stored.Status = dbm.TxnStatusRefunded
	require.NoError(t, f.store.SaveTransaction(ctx, stored))
	require.Equal(t, dbm.OrderStatusProcessing, f.order(t, order.ID).Status)

	_, err = f.txns.Refund(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.OrderStatusRefunded, f.order(t, order.ID).Status)
}

func TestRefund_RequiresCompletedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t, dbm.MethodCreditCard)

	for _, status := range []dbm.TransactionStatus{dbm.TxnStatusPending, dbm.TxnStatusFailed, dbm.TxnStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			txn := &dbm.Transaction{UserID: user.ID, Amount: dec("10"), Type: dbm.TxnTypePayment, Status: status}
			require.NoError(t, f.store.SaveTransaction(ctx, txn))

			_, err := f.txns.Refund(ctx, txn.ID)
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrInvalidTransition))
			assert.Equal(t, status, f.txn(t, txn.ID).Status)
		})
	}
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pending order is cancelled once", func(t *testing.T) {
		f := newFixture(t)
		user := f.seedUser(t, dbm.MethodCreditCard)
		order := f.seedOrder(t, user.ID, "10", "0", "0", "0")

		got, err := f.txns.CancelOrder(ctx, Identity{UserID: user.ID}, order.ID)
		require.NoError(t, err)
		assert.Equal(t, dbm.OrderStatusCancelled, got.Status)

		again, err := f.txns.CancelOrder(ctx, Identity{UserID: user.ID}, order.ID)
		require.NoError(t, err)
		assert.Equal(t, got.Version, again.Version)
		assert.Equal(t, 1, f.sink.count(NotifyOrderCancelled))
	})

	t.Run("failed attempts are left alone", func(t *testing.T) {
		f := newFixture(t, decline())
		user := f.seedUser(t, dbm.MethodCreditCard)
		order := f.seedOrder(t, user.ID, "10", "0", "0", "0")
		failed, _ := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
		require.NotNil(t, failed)

		_, err := f.txns.CancelOrder(ctx, Identity{UserID: user.ID}, order.ID)
		require.NoError(t, err)
		assert.Equal(t, dbm.TxnStatusFailed, f.txn(t, failed.ID).Status)
	})

	t.Run("paid order needs a refund", func(t *testing.T) {
		f := newFixture(t, approve())
		user := f.seedUser(t, dbm.MethodCreditCard)
		order := f.seedOrder(t, user.ID, "10", "0", "0", "0")
		_, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
		require.NoError(t, err)

		_, err = f.txns.CancelOrder(ctx, Identity{UserID: user.ID}, order.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrInvalidTransition))
		assert.Equal(t, dbm.OrderStatusProcessing, f.order(t, order.ID).Status)
	})

	t.Run("shipped order cannot be cancelled", func(t *testing.T) {
		f := newFixture(t, approve())
		user := f.seedUser(t, dbm.MethodCreditCard)
		order := f.seedOrder(t, user.ID, "10", "0", "0", "0")
		_, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
		require.NoError(t, err)
		_, err = f.recon.AdvanceFulfillment(ctx, f.admin, order.ID, dbm.OrderStatusShipped)
		require.NoError(t, err)

		_, err = f.txns.CancelOrder(ctx, Identity{UserID: user.ID}, order.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrInvalidTransition))
		assert.Equal(t, dbm.OrderStatusShipped, f.order(t, order.ID).Status)
	})

	t.Run("stranger gets not found", func(t *testing.T) {
		f := newFixture(t)
		user := f.seedUser(t, dbm.MethodCreditCard)
		order := f.seedOrder(t, user.ID, "10", "0", "0", "0")

		_, err := f.txns.CancelOrder(ctx, Identity{UserID: "someone-else"}, order.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrNotFound))
	})
}

func TestCreateCharge_NotificationFailureDoesNotUndoPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approve())
	f.sink.failOn = NotifyPaymentSucceeded
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "10", "0", "0", "0")

	txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)
	assert.Equal(t, dbm.TxnStatusCompleted, f.txn(t, txn.ID).Status)
	assert.Equal(t, dbm.OrderStatusProcessing, f.order(t, order.ID).Status)
}
