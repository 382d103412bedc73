package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	dbm "payledger/internal/models/db_models"
	"payledger/pkg/utils"
)

// memoryLedgerStore keeps deep copies of every aggregate so that callers can
// never mutate stored state without going through Save.
type memoryLedgerStore struct {
	mu           sync.RWMutex
	orders       map[string]dbm.Order
	transactions map[string]dbm.Transaction
	users        map[string]dbm.Account
	payments     map[string]dbm.Payment
	now          func() time.Time
}

func NewMemoryLedgerStore() LedgerStore {
	return &memoryLedgerStore{
		orders:       make(map[string]dbm.Order),
		transactions: make(map[string]dbm.Transaction),
		users:        make(map[string]dbm.Account),
		payments:     make(map[string]dbm.Payment),
		now:          time.Now,
	}
}

func (s *memoryLedgerStore) GetOrder(_ context.Context, id string) (*dbm.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, utils.NewError(utils.KindNotFound, "order not found")
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *memoryLedgerStore) GetTransaction(_ context.Context, id string) (*dbm.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, utils.NewError(utils.KindNotFound, "transaction not found")
	}
	c := cloneTransaction(t)
	return &c, nil
}

func (s *memoryLedgerStore) GetUser(_ context.Context, id string) (*dbm.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.users[id]
	if !ok {
		return nil, utils.NewError(utils.KindNotFound, "user not found")
	}
	c := cloneAccount(a)
	return &c, nil
}

func (s *memoryLedgerStore) GetPayment(_ context.Context, id string) (*dbm.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, utils.NewError(utils.KindNotFound, "payment not found")
	}
	c := clonePayment(p)
	return &c, nil
}

func (s *memoryLedgerStore) FindTransactionsByOrder(ctx context.Context, orderID string) ([]dbm.Transaction, error) {
	return s.ListTransactions(ctx, TransactionFilter{OrderID: orderID})
}

func (s *memoryLedgerStore) FindTransactionsByBillingCycle(_ context.Context, cycleKey string) ([]dbm.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []dbm.Transaction
	for _, t := range s.transactions {
		if t.BillingCycleKey == cycleKey {
			out = append(out, cloneTransaction(t))
		}
	}
	sortTransactions(out)
	return out, nil
}

func (s *memoryLedgerStore) FindActiveSubscriptions(_ context.Context) ([]dbm.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []dbm.Account
	for _, a := range s.users {
		if a.Subscription.IsActive {
			out = append(out, cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryLedgerStore) ListTransactions(_ context.Context, f TransactionFilter) ([]dbm.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []dbm.Transaction
	for _, t := range s.transactions {
		if f.Matches(&t) {
			out = append(out, cloneTransaction(t))
		}
	}
	sortTransactions(out)
	return out, nil
}

func (s *memoryLedgerStore) FindUserByEmail(_ context.Context, email string) (*dbm.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.users {
		if strings.EqualFold(a.Email, email) {
			c := cloneAccount(a)
			return &c, nil
		}
	}
	return nil, utils.NewError(utils.KindNotFound, "user not found")
}

func (s *memoryLedgerStore) ListPayments(_ context.Context, status dbm.PaymentStatus) ([]dbm.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []dbm.Payment
	for _, p := range s.payments {
		if status == "" || p.Status == status {
			out = append(out, clonePayment(p))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryLedgerStore) SaveOrder(_ context.Context, order *dbm.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.orders[order.ID]
	if err := s.checkVersion(&order.BaseModel, cur.BaseModel, exists); err != nil {
		return err
	}
	s.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (s *memoryLedgerStore) SaveTransaction(_ context.Context, txn *dbm.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.transactions[txn.ID]
	if err := s.checkVersion(&txn.BaseModel, cur.BaseModel, exists); err != nil {
		return err
	}
	s.transactions[txn.ID] = cloneTransaction(*txn)
	return nil
}

func (s *memoryLedgerStore) SaveUser(_ context.Context, user *dbm.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.users[user.ID]
	if err := s.checkVersion(&user.BaseModel, cur.BaseModel, exists); err != nil {
		return err
	}
	s.users[user.ID] = cloneAccount(*user)
	return nil
}

func (s *memoryLedgerStore) SavePayment(_ context.Context, payment *dbm.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.payments[payment.ID]
	if err := s.checkVersion(&payment.BaseModel, cur.BaseModel, exists); err != nil {
		return err
	}
	s.payments[payment.ID] = clonePayment(*payment)
	return nil
}

// checkVersion applies the insert / compare-and-set rules and, on success,
// bumps the caller's version and timestamps. Callers hold s.mu.
func (s *memoryLedgerStore) checkVersion(next *dbm.BaseModel, stored dbm.BaseModel, exists bool) error {
	now := s.now()
	if next.Version == 0 {
		next.EnsureID()
		if _, dup := s.lookupAny(next.ID); dup {
			return utils.NewError(utils.KindInvalidArgument, "duplicate id")
		}
		next.Version = 1
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		return nil
	}
	if !exists || stored.Version != next.Version {
		return utils.ErrStaleWrite
	}
	next.Version++
	next.UpdatedAt = now
	return nil
}

func (s *memoryLedgerStore) lookupAny(id string) (string, bool) {
	if _, ok := s.orders[id]; ok {
		return "order", true
	}
	if _, ok := s.transactions[id]; ok {
		return "transaction", true
	}
	if _, ok := s.users[id]; ok {
		return "user", true
	}
	if _, ok := s.payments[id]; ok {
		return "payment", true
	}
	return "", false
}

func sortTransactions(txns []dbm.Transaction) {
	sort.SliceStable(txns, func(i, j int) bool {
		if txns[i].CreatedAt.Equal(txns[j].CreatedAt) {
			return txns[i].ID < txns[j].ID
		}
		return txns[i].CreatedAt.Before(txns[j].CreatedAt)
	})
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneOrder(o dbm.Order) dbm.Order {
	o.Items = append([]dbm.OrderItem(nil), o.Items...)
	o.TransactionID = cloneString(o.TransactionID)
	return o
}

func cloneTransaction(t dbm.Transaction) dbm.Transaction {
	t.OrderID = cloneString(t.OrderID)
	t.PaymentID = cloneString(t.PaymentID)
	t.CompletedAt = cloneTime(t.CompletedAt)
	t.RefundedAt = cloneTime(t.RefundedAt)
	return t
}

func cloneAccount(a dbm.Account) dbm.Account {
	a.PaymentMethods = append([]dbm.PaymentMethod(nil), a.PaymentMethods...)
	a.BillingHistory = append([]string(nil), a.BillingHistory...)
	a.Subscription.NextChargeDate = cloneTime(a.Subscription.NextChargeDate)
	return a
}

func clonePayment(p dbm.Payment) dbm.Payment {
	p.OrderID = cloneString(p.OrderID)
	return p
}
