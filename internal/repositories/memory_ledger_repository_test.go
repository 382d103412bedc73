package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "payledger/internal/models/db_models"
	"payledger/pkg/utils"
)

func TestMemoryLedgerStore_SaveInsertsThenCompareAndSets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()

	order := &dbm.Order{UserID: "u1", Status: dbm.OrderStatusPending, TotalAmount: decimal.NewFromInt(10)}
	require.NoError(t, store.SaveOrder(ctx, order))
	require.NotEmpty(t, order.ID)
	assert.Equal(t, int64(1), order.Version)

	first, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	second, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)

	first.Status = dbm.OrderStatusProcessing
	require.NoError(t, store.SaveOrder(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Status = dbm.OrderStatusCancelled
	err = store.SaveOrder(ctx, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrStaleWrite))
	assert.Equal(t, int64(1), second.Version, "failed save must not bump the caller's version")

	stored, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, dbm.OrderStatusProcessing, stored.Status)
}

func TestMemoryLedgerStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()

	user := &dbm.Account{Email: "a@example.com", BillingHistory: []string{"t1"}}
	require.NoError(t, store.SaveUser(ctx, user))

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	got.BillingHistory[0] = "mutated"

	again, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, again.BillingHistory)
}

func TestMemoryLedgerStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()

	_, err := store.GetTransaction(ctx, "missing")
	assert.Equal(t, utils.KindNotFound, utils.KindOf(err))
	_, err = store.GetOrder(ctx, "missing")
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestMemoryLedgerStore_ListTransactionsFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	orderID := "o1"

	seed := []dbm.Transaction{
		{UserID: "u1", OrderID: &orderID, Status: dbm.TxnStatusCompleted, Type: dbm.TxnTypePayment},
		{UserID: "u1", Status: dbm.TxnStatusFailed, Type: dbm.TxnTypePayment, IsRecurring: true},
		{UserID: "u2", Status: dbm.TxnStatusCompleted, Type: dbm.TxnTypePayment, IsRecurring: true},
	}
	for i := range seed {
		seed[i].CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.SaveTransaction(ctx, &seed[i]))
	}

	recurring := true
	from := base.Add(30 * time.Minute)
	tests := []struct {
		name   string
		filter TransactionFilter
		want   int
	}{
		{"all", TransactionFilter{}, 3},
		{"by user", TransactionFilter{UserID: "u1"}, 2},
		{"by order", TransactionFilter{OrderID: orderID}, 1},
		{"by status", TransactionFilter{Status: dbm.TxnStatusCompleted}, 2},
		{"recurring only", TransactionFilter{IsRecurring: &recurring}, 2},
		{"from time", TransactionFilter{From: &from}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListTransactions(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestMemoryLedgerStore_FindActiveSubscriptions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()

	require.NoError(t, store.SaveUser(ctx, &dbm.Account{Email: "a@example.com", Subscription: dbm.Subscription{IsActive: true}}))
	require.NoError(t, store.SaveUser(ctx, &dbm.Account{Email: "b@example.com"}))

	active, err := store.FindActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a@example.com", active[0].Email)
}
