package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "payledger/internal/models/db_models"
	"payledger/internal/models/request_models"
	resp "payledger/internal/models/response_models"
	"payledger/pkg/utils"
)

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func (f *ledgerFixture) submitManual(t *testing.T, userID string, orderID *string, amount string) *dbm.Payment {
	t.Helper()
	payments := NewPaymentService(f.store, f.leases, f.settings)
	p, err := payments.SubmitManualPayment(context.Background(), userID, request_models.SubmitManualPaymentRequest{
		AccountNumber: "DE89370400440532013000",
		Amount:        dec(amount),
		OrderID:       orderID,
	})
	require.NoError(t, err)
	return p
}

func TestReconciliation_RequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customer := Identity{UserID: "user-1"}

	ops := map[string]func() error{
		"confirm": func() error { _, err := f.recon.ConfirmPayment(ctx, customer, "missing"); return err },
		"reject":  func() error { _, err := f.recon.RejectPayment(ctx, customer, "missing"); return err },
		"refund":  func() error { _, err := f.recon.IssueRefund(ctx, customer, "missing"); return err },
		"resolve": func() error { _, err := f.recon.ResolveDispute(ctx, customer, "missing", "note"); return err },
		"adjust": func() error {
			_, err := f.recon.AdjustOrderDetails(ctx, customer, "missing", OrderAdjustment{Tax: decPtr("1")})
			return err
		},
		"fulfil": func() error {
			_, err := f.recon.AdvanceFulfillment(ctx, customer, "missing", dbm.OrderStatusShipped)
			return err
		},
		"report":   func() error { _, err := f.recon.GenerateFinancialReport(ctx, customer, resp.ReportQuery{}); return err },
		"monitor":  func() error { _, err := f.recon.MonitorTransactions(ctx, customer, resp.ReportQuery{}); return err },
		"payments": func() error { _, err := f.recon.ListPayments(ctx, customer, ""); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			require.Error(t, err)
			// authorization comes before any lookup, so no NotFound leaks
			assert.True(t, errors.Is(err, utils.ErrUnauthorized), "got %v", err)
		})
	}
}

func TestConfirmPayment_CompletesOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t)
	order := f.seedOrder(t, user.ID, "80", "0", "0", "0")
	payment := f.submitManual(t, user.ID, &order.ID, "80")

	assert.Equal(t, "****3000", payment.AccountNumber)
	assert.Equal(t, dbm.TxnStatusPending, f.txn(t, payment.TransactionID).Status)

	got, err := f.recon.ConfirmPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.PaymentStatusConfirmed, got.Status)

	txn := f.txn(t, payment.TransactionID)
	assert.Equal(t, dbm.TxnStatusCompleted, txn.Status)
	require.NotNil(t, txn.CompletedAt)

	stored := f.order(t, order.ID)
	assert.Equal(t, dbm.OrderStatusProcessing, stored.Status)
	require.NotNil(t, stored.TransactionID)
	assert.Equal(t, txn.ID, *stored.TransactionID)
	assert.Equal(t, []string{txn.ID}, f.user(t, user.ID).BillingHistory)

	again, err := f.recon.ConfirmPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)
	assert.Equal(t, 1, f.sink.count(NotifyPaymentConfirmed))

	_, err = f.recon.RejectPayment(ctx, f.admin, payment.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidState))
}

func TestConfirmPayment_RepairsHalfConfirmedPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t)
	payment := f.submitManual(t, user.ID, nil, "15")

	// the transaction was completed but the payment save was lost
	txn := f.txn(t, payment.TransactionID)
	txn.Status = dbm.TxnStatusCompleted
	require.NoError(t, f.store.SaveTransaction(ctx, txn))

	got, err := f.recon.ConfirmPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.PaymentStatusConfirmed, got.Status)
	assert.Equal(t, dbm.TxnStatusCompleted, f.txn(t, payment.TransactionID).Status)
}

func TestRejectPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t)
	order := f.seedOrder(t, user.ID, "20", "0", "0", "0")
	payment := f.submitManual(t, user.ID, &order.ID, "20")

	got, err := f.recon.RejectPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.PaymentStatusRejected, got.Status)

	txn := f.txn(t, payment.TransactionID)
	assert.Equal(t, dbm.TxnStatusFailed, txn.Status)
	assert.Equal(t, rejectedByAdmin, txn.ErrorMessage)
	assert.Equal(t, dbm.OrderStatusPending, f.order(t, order.ID).Status)

	_, err = f.recon.RejectPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sink.count(NotifyPaymentRejected))

	_, err = f.recon.ConfirmPayment(ctx, f.admin, payment.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidState))

	// the order can be paid by card once the transfer is rejected
	user2 := f.user(t, user.ID)
	user2.PaymentMethods = []dbm.PaymentMethod{{ID: "pm-1", Type: dbm.MethodCreditCard, IsDefault: true}}
	require.NoError(t, f.store.SaveUser(ctx, user2))
	_, err = f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)
}

func TestCancelOrder_ClosesPendingManualPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t)
	order := f.seedOrder(t, user.ID, "20", "0", "0", "0")
	payment := f.submitManual(t, user.ID, &order.ID, "20")

	_, err := f.txns.CancelOrder(ctx, Identity{UserID: user.ID}, order.ID)
	require.NoError(t, err)

	assert.Equal(t, dbm.TxnStatusCancelled, f.txn(t, payment.TransactionID).Status)
	stored, err := f.store.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.PaymentStatusRejected, stored.Status)

	pending, err := f.recon.ListPayments(ctx, f.admin, dbm.PaymentStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.recon.ConfirmPayment(ctx, f.admin, payment.ID)
	assert.True(t, errors.Is(err, utils.ErrInvalidState))
}

func TestRejectPayment_ClosesPaymentWithCancelledTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t)
	order := f.seedOrder(t, user.ID, "20", "0", "0", "0")
	payment := f.submitManual(t, user.ID, &order.ID, "20")

	// left behind by a cancellation that did not reach the payment
	txn := f.txn(t, payment.TransactionID)
	txn.Status = dbm.TxnStatusCancelled
	require.NoError(t, f.store.SaveTransaction(ctx, txn))

	got, err := f.recon.RejectPayment(ctx, f.admin, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.PaymentStatusRejected, got.Status)

	txn = f.txn(t, payment.TransactionID)
	assert.Equal(t, dbm.TxnStatusCancelled, txn.Status)
	assert.Empty(t, txn.ErrorMessage)
}

func TestIssueRefund_DelegatesToStateMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approve())
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "50", "0", "0", "0")
	txn, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)

	got, err := f.recon.IssueRefund(ctx, f.admin, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.TxnStatusRefunded, got.Status)
	assert.Equal(t, dbm.OrderStatusRefunded, f.order(t, order.ID).Status)

	_, err = f.recon.IssueRefund(ctx, f.admin, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.sink.count(NotifyRefundIssued))
}

func TestResolveDispute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, decline())
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "50", "0", "0", "0")
	failed, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.Error(t, err)

	got, err := f.recon.ResolveDispute(ctx, f.admin, failed.ID, "  refunded by bank  ")
	require.NoError(t, err)
	assert.Equal(t, "Payment declined by Stripe | Resolution: refunded by bank", got.ErrorMessage)
	assert.Equal(t, dbm.TxnStatusFailed, got.Status)

	again, err := f.recon.ResolveDispute(ctx, f.admin, failed.ID, "refunded by bank")
	require.NoError(t, err)
	assert.Equal(t, got.ErrorMessage, again.ErrorMessage)
	assert.Equal(t, got.Version, again.Version)

	_, err = f.recon.ResolveDispute(ctx, f.admin, failed.ID, "   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidArgument))

	f.gateway.outcomes = []ChargeOutcome{approve()}
	paid, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)
	_, err = f.recon.ResolveDispute(ctx, f.admin, paid.ID, "note")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidState))
}

func TestAdjustOrderDetails(t *testing.T) {
	ctx := context.Background()

	t.Run("recomputes the final amount", func(t *testing.T) {
		f := newFixture(t)
		user := f.seedUser(t)
		order := f.seedOrder(t, user.ID, "100", "10", "5", "5")

		got, err := f.recon.AdjustOrderDetails(ctx, f.admin, order.ID, OrderAdjustment{Tax: decPtr("8"), ShippingFee: decPtr("0")})
		require.NoError(t, err)
		assert.True(t, got.FinalAmount.Equal(dec("98")), "got %s", got.FinalAmount)
		assert.True(t, got.Discount.Equal(dec("10")))

		again, err := f.recon.AdjustOrderDetails(ctx, f.admin, order.ID, OrderAdjustment{Tax: decPtr("8"), ShippingFee: decPtr("0")})
		require.NoError(t, err)
		assert.Equal(t, got.Version, again.Version)
	})

	t.Run("rejects negative components", func(t *testing.T) {
		f := newFixture(t)
		user := f.seedUser(t)
		order := f.seedOrder(t, user.ID, "100", "0", "0", "0")

		_, err := f.recon.AdjustOrderDetails(ctx, f.admin, order.ID, OrderAdjustment{Tax: decPtr("-1")})
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrInvalidArgument))

		_, err = f.recon.AdjustOrderDetails(ctx, f.admin, order.ID, OrderAdjustment{Discount: decPtr("150")})
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrInvalidArgument))
		assert.True(t, f.order(t, order.ID).FinalAmount.Equal(dec("100")))
	})

	t.Run("only pending orders", func(t *testing.T) {
		f := newFixture(t, approve())
		user := f.seedUser(t, dbm.MethodCreditCard)
		order := f.seedOrder(t, user.ID, "100", "0", "0", "0")
		_, err := f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
		require.NoError(t, err)

		_, err = f.recon.AdjustOrderDetails(ctx, f.admin, order.ID, OrderAdjustment{Tax: decPtr("3")})
		require.Error(t, err)
		assert.True(t, errors.Is(err, utils.ErrInvalidState))
	})
}

func TestAdvanceFulfillment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, approve())
	user := f.seedUser(t, dbm.MethodCreditCard)
	order := f.seedOrder(t, user.ID, "100", "0", "0", "0")

	_, err := f.recon.AdvanceFulfillment(ctx, f.admin, order.ID, dbm.OrderStatusShipped)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidTransition), "unpaid orders do not ship")

	_, err = f.txns.CreateCharge(ctx, Identity{UserID: user.ID}, order.ID, "pm-1")
	require.NoError(t, err)

	shipped, err := f.recon.AdvanceFulfillment(ctx, f.admin, order.ID, dbm.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, dbm.OrderStatusShipped, shipped.Status)

	delivered, err := f.recon.AdvanceFulfillment(ctx, f.admin, order.ID, dbm.OrderStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, dbm.OrderStatusDelivered, delivered.Status)

	_, err = f.recon.AdvanceFulfillment(ctx, f.admin, order.ID, dbm.OrderStatusCancelled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrInvalidArgument))
}

func TestListPayments_FiltersByStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.seedUser(t)
	first := f.submitManual(t, user.ID, nil, "10")
	f.submitManual(t, user.ID, nil, "20")

	_, err := f.recon.ConfirmPayment(ctx, f.admin, first.ID)
	require.NoError(t, err)

	all, err := f.recon.ListPayments(ctx, f.admin, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := f.recon.ListPayments(ctx, f.admin, dbm.PaymentStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Amount.Equal(dec("20")))
}
