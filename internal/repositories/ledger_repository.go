package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	dbm "payledger/internal/models/db_models"
	"payledger/pkg/utils"
)

// LedgerStore is the only shared mutable resource of the engine. Every Save is
// a read-modify-write on a single aggregate: Version 0 inserts, anything else
// is a compare-and-set on (id, version) that fails with utils.ErrStaleWrite.
type LedgerStore interface {
	GetOrder(ctx context.Context, id string) (*dbm.Order, error)
	GetTransaction(ctx context.Context, id string) (*dbm.Transaction, error)
	GetUser(ctx context.Context, id string) (*dbm.Account, error)
	GetPayment(ctx context.Context, id string) (*dbm.Payment, error)
	FindUserByEmail(ctx context.Context, email string) (*dbm.Account, error)

	FindTransactionsByOrder(ctx context.Context, orderID string) ([]dbm.Transaction, error)
	FindTransactionsByBillingCycle(ctx context.Context, cycleKey string) ([]dbm.Transaction, error)
	FindActiveSubscriptions(ctx context.Context) ([]dbm.Account, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]dbm.Transaction, error)
	ListPayments(ctx context.Context, status dbm.PaymentStatus) ([]dbm.Payment, error)

	SaveOrder(ctx context.Context, order *dbm.Order) error
	SaveTransaction(ctx context.Context, txn *dbm.Transaction) error
	SaveUser(ctx context.Context, user *dbm.Account) error
	SavePayment(ctx context.Context, payment *dbm.Payment) error
}

// TransactionFilter narrows ListTransactions. Zero fields match everything.
type TransactionFilter struct {
	UserID      string
	OrderID     string
	Status      dbm.TransactionStatus
	Type        dbm.TransactionType
	IsRecurring *bool
	From        *time.Time
	To          *time.Time
}

// Matches applies the filter to a single transaction.
func (f TransactionFilter) Matches(t *dbm.Transaction) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.OrderID != "" && (t.OrderID == nil || *t.OrderID != f.OrderID) {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.IsRecurring != nil && t.IsRecurring != *f.IsRecurring {
		return false
	}
	if f.From != nil && t.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && t.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

type gormLedgerStore struct {
	db *gorm.DB
}

func NewGormLedgerStore(db *gorm.DB) LedgerStore {
	return &gormLedgerStore{db: db}
}

func (r *gormLedgerStore) GetOrder(ctx context.Context, id string) (*dbm.Order, error) {
	var order dbm.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err, "order")
	}
	return &order, nil
}

func (r *gormLedgerStore) GetTransaction(ctx context.Context, id string) (*dbm.Transaction, error) {
	var txn dbm.Transaction
	if err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
		return nil, translate(err, "transaction")
	}
	return &txn, nil
}

func (r *gormLedgerStore) GetUser(ctx context.Context, id string) (*dbm.Account, error) {
	var account dbm.Account
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &account, nil
}

func (r *gormLedgerStore) GetPayment(ctx context.Context, id string) (*dbm.Payment, error) {
	var payment dbm.Payment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, translate(err, "payment")
	}
	return &payment, nil
}

func (r *gormLedgerStore) FindUserByEmail(ctx context.Context, email string) (*dbm.Account, error) {
	var account dbm.Account
	if err := r.db.WithContext(ctx).First(&account, "lower(email) = lower(?)", email).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &account, nil
}

func (r *gormLedgerStore) FindTransactionsByOrder(ctx context.Context, orderID string) ([]dbm.Transaction, error) {
	var txns []dbm.Transaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, translate(err, "transaction")
	}
	return txns, nil
}

func (r *gormLedgerStore) FindTransactionsByBillingCycle(ctx context.Context, cycleKey string) ([]dbm.Transaction, error) {
	var txns []dbm.Transaction
	err := r.db.WithContext(ctx).
		Where("billing_cycle_key = ?", cycleKey).
		Order("created_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, translate(err, "transaction")
	}
	return txns, nil
}

func (r *gormLedgerStore) FindActiveSubscriptions(ctx context.Context) ([]dbm.Account, error) {
	var accounts []dbm.Account
	err := r.db.WithContext(ctx).
		Where("subscription_is_active = ?", true).
		Order("subscription_next_charge_date ASC").
		Find(&accounts).Error
	if err != nil {
		return nil, translate(err, "user")
	}
	return accounts, nil
}

func (r *gormLedgerStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]dbm.Transaction, error) {
	q := r.db.WithContext(ctx).Model(&dbm.Transaction{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.IsRecurring != nil {
		q = q.Where("is_recurring = ?", *f.IsRecurring)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	var txns []dbm.Transaction
	if err := q.Order("created_at ASC").Find(&txns).Error; err != nil {
		return nil, translate(err, "transaction")
	}
	return txns, nil
}

// ListPayments returns manual payments, optionally only those in status.
func (r *gormLedgerStore) ListPayments(ctx context.Context, status dbm.PaymentStatus) ([]dbm.Payment, error) {
	q := r.db.WithContext(ctx).Model(&dbm.Payment{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var payments []dbm.Payment
	if err := q.Order("created_at ASC").Find(&payments).Error; err != nil {
		return nil, translate(err, "payment")
	}
	return payments, nil
}

func (r *gormLedgerStore) SaveOrder(ctx context.Context, order *dbm.Order) error {
	return r.save(ctx, order, &order.BaseModel)
}

func (r *gormLedgerStore) SaveTransaction(ctx context.Context, txn *dbm.Transaction) error {
	return r.save(ctx, txn, &txn.BaseModel)
}

func (r *gormLedgerStore) SaveUser(ctx context.Context, user *dbm.Account) error {
	return r.save(ctx, user, &user.BaseModel)
}

func (r *gormLedgerStore) SavePayment(ctx context.Context, payment *dbm.Payment) error {
	return r.save(ctx, payment, &payment.BaseModel)
}

// save inserts new rows and performs a version-guarded update for existing ones.
func (r *gormLedgerStore) save(ctx context.Context, model any, base *dbm.BaseModel) error {
	if base.Version == 0 {
		base.EnsureID()
		base.Version = 1
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			base.Version = 0
			return translate(err, "record")
		}
		return nil
	}

	expected := base.Version
	base.Version = expected + 1
	res := r.db.WithContext(ctx).
		Model(model).
		Where("version = ?", expected).
		Select("*").
		Updates(model)
	if res.Error != nil {
		base.Version = expected
		return translate(res.Error, "record")
	}
	if res.RowsAffected == 0 {
		base.Version = expected
		return utils.ErrStaleWrite
	}
	return nil
}

func translate(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NewError(utils.KindNotFound, "%s not found", what)
	}
	return fmt.Errorf("%w: %v", utils.ErrDatabaseError, err)
}
