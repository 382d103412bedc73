package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	dbm "payledger/internal/models/db_models"
	"payledger/internal/repositories"
	mem "payledger/pkg/memcache"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func approve() ChargeOutcome {
	return ChargeOutcome{Success: true, Reference: "ref_ok"}
}

func decline() ChargeOutcome {
	return ChargeOutcome{Error: "Payment declined by Stripe"}
}

// scriptedGateway replays outcomes in order and repeats the last one. With
// block set, each call waits for it to close or for ctx to end.
type scriptedGateway struct {
	mu       sync.Mutex
	outcomes []ChargeOutcome
	calls    int
	block    chan struct{}
	started  chan struct{}
}

func (g *scriptedGateway) Charge(ctx context.Context, _ decimal.Decimal, _ dbm.PaymentMethodRef) (ChargeOutcome, error) {
	g.mu.Lock()
	out := approve()
	if n := len(g.outcomes); n > 0 {
		idx := g.calls
		if idx >= n {
			idx = n - 1
		}
		out = g.outcomes[idx]
	}
	g.calls++
	g.mu.Unlock()

	if g.started != nil {
		select {
		case g.started <- struct{}{}:
		default:
		}
	}
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return ChargeOutcome{}, ctx.Err()
		}
	}
	return out, nil
}

func (g *scriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type sentNotice struct {
	userID  string
	kind    TemplateKind
	payload map[string]any
}

type recordingSink struct {
	mu     sync.Mutex
	notes  []sentNotice
	failOn TemplateKind
}

func (r *recordingSink) Notify(_ context.Context, userID string, kind TemplateKind, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, sentNotice{userID: userID, kind: kind, payload: payload})
	if kind == r.failOn {
		return fmt.Errorf("mailbox unavailable")
	}
	return nil
}

func (r *recordingSink) count(kind TemplateKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.kind == kind {
			n++
		}
	}
	return n
}

type ledgerFixture struct {
	store    repositories.LedgerStore
	leases   *mem.Leases
	gateway  *scriptedGateway
	registry *GatewayRegistry
	sink     *recordingSink
	settings LedgerSettings
	txns     TransactionService
	recon    ReconciliationService
	admin    Identity
}

func newFixture(t *testing.T, outcomes ...ChargeOutcome) *ledgerFixture {
	t.Helper()

	gw := &scriptedGateway{outcomes: outcomes}
	reg := NewGatewayRegistry()
	for _, kind := range []GatewayKind{GatewayStripe, GatewayPayPal, GatewayBankTransfer} {
		reg.Register(kind, gw)
	}

	f := &ledgerFixture{
		store:    repositories.NewMemoryLedgerStore(),
		leases:   mem.NewLeases(),
		gateway:  gw,
		registry: reg,
		sink:     &recordingSink{},
		settings: LedgerSettings{
			GatewayTimeout:    time.Second,
			LeaseTTL:          time.Minute,
			StaleWriteRetries: 3,
			Currency:          "USD",
		},
		admin: Identity{UserID: "admin-1", IsAdmin: true},
	}
	f.rebuild()
	return f
}

// rebuild re-creates the services after a settings change.
func (f *ledgerFixture) rebuild() {
	f.txns = NewTransactionService(f.store, f.registry, f.leases, f.sink, f.settings)
	f.recon = NewReconciliationService(f.store, f.txns, NewReportService(f.store, decimal.Zero), f.leases, f.sink, f.settings)
}

func (f *ledgerFixture) seedUser(t *testing.T, methods ...dbm.PaymentMethodType) *dbm.Account {
	t.Helper()
	user := &dbm.Account{Email: fmt.Sprintf("user%d@example.com", time.Now().UnixNano()), FullName: "Test User"}
	for i, m := range methods {
		user.PaymentMethods = append(user.PaymentMethods, dbm.PaymentMethod{
			ID:        fmt.Sprintf("pm-%d", i+1),
			Type:      m,
			Masked:    "****4242",
			IsDefault: i == 0,
		})
	}
	require.NoError(t, f.store.SaveUser(context.Background(), user))
	return user
}

func (f *ledgerFixture) seedOrder(t *testing.T, userID, total, discount, tax, shipping string) *dbm.Order {
	t.Helper()
	order := &dbm.Order{
		UserID: userID,
		Items: []dbm.OrderItem{
			{ProductID: "sku-1", ProductName: "Widget", Quantity: 1, UnitPrice: dec(total)},
		},
		TotalAmount: dec(total),
		Discount:    dec(discount),
		Tax:         dec(tax),
		ShippingFee: dec(shipping),
		Currency:    "USD",
		Status:      dbm.OrderStatusPending,
	}
	require.NoError(t, order.RecomputeFinalAmount())
	require.NoError(t, f.store.SaveOrder(context.Background(), order))
	return order
}

func (f *ledgerFixture) order(t *testing.T, id string) *dbm.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *ledgerFixture) txn(t *testing.T, id string) *dbm.Transaction {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func (f *ledgerFixture) user(t *testing.T, id string) *dbm.Account {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}
