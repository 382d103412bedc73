package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	dbm "payledger/internal/models/db_models"
	"payledger/internal/models/request_models"
	"payledger/internal/repositories"
	mem "payledger/pkg/memcache"
	"payledger/pkg/utils"
)

type AccountServiceInterface interface {
	CreateAccount(ctx context.Context, req request_models.SignUpRequest) (*dbm.Account, error)
	GetAccount(ctx context.Context, userID string) (*dbm.Account, error)

	AddPaymentMethod(ctx context.Context, userID string, req request_models.AddPaymentMethodRequest) (*dbm.PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, userID, methodID string, req request_models.UpdatePaymentMethodRequest) (*dbm.PaymentMethod, error)
	RemovePaymentMethod(ctx context.Context, userID, methodID string) error
	SetDefaultPaymentMethod(ctx context.Context, userID, methodID string) error

	SetupSubscription(ctx context.Context, userID string, req request_models.SetupSubscriptionRequest) (*dbm.Account, error)
	CancelSubscription(ctx context.Context, userID string) (*dbm.Account, error)
	BillingHistory(ctx context.Context, userID string) ([]dbm.Transaction, error)
}

type AccountService struct {
	store    repositories.LedgerStore
	leases   mem.LeaseStore
	sink     NotificationSink
	settings LedgerSettings
	now      func() time.Time
}

func NewAccountService(store repositories.LedgerStore, leases mem.LeaseStore, sink NotificationSink, settings LedgerSettings) AccountServiceInterface {
	return &AccountService{
		store:    store,
		leases:   leases,
		sink:     sink,
		settings: settings,
		now:      time.Now,
	}
}

func (a *AccountService) CreateAccount(ctx context.Context, req request_models.SignUpRequest) (*dbm.Account, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, utils.NewError(utils.KindInvalidArgument, "email is required")
	}

	existing, err := a.store.FindUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, utils.NewError(utils.KindInvalidArgument, "email already registered")
	}

	account := &dbm.Account{
		Email:    email,
		FullName: req.FullName,
		Role:     "customer",
	}
	if err := a.store.SaveUser(ctx, account); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "account created", "user_id", account.ID)
	return account, nil
}

func (a *AccountService) GetAccount(ctx context.Context, userID string) (*dbm.Account, error) {
	return a.store.GetUser(ctx, userID)
}

// mutate re-reads the account and applies fn until the save is not stale.
func (a *AccountService) mutate(ctx context.Context, userID string, fn func(acc *dbm.Account) error) (*dbm.Account, error) {
	var out *dbm.Account
	err := utils.RetryOnStale(ctx, a.settings.StaleWriteRetries, func(ctx context.Context) error {
		acc, err := a.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(acc); err != nil {
			return err
		}
		if err := a.store.SaveUser(ctx, acc); err != nil {
			return err
		}
		out = acc
		return nil
	})
	return out, err
}

func (a *AccountService) AddPaymentMethod(ctx context.Context, userID string, req request_models.AddPaymentMethodRequest) (*dbm.PaymentMethod, error) {
	if !req.Type.Valid() {
		return nil, utils.NewError(utils.KindInvalidArgument, "unsupported payment method type")
	}
	if len(strings.TrimSpace(req.Number)) < 4 {
		return nil, utils.NewError(utils.KindInvalidArgument, "payment method number is too short")
	}

	method := dbm.PaymentMethod{
		ID:      uuid.NewString(),
		Type:    req.Type,
		Masked:  dbm.MaskAccountNumber(strings.TrimSpace(req.Number)),
		AddedAt: a.now().UTC(),
	}
	acc, err := a.mutate(ctx, userID, func(acc *dbm.Account) error {
		acc.PaymentMethods = append(acc.PaymentMethods, method)
		if req.MakeDefault || len(acc.PaymentMethods) == 1 {
			acc.SetDefaultPaymentMethod(method.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	saved, _ := acc.FindPaymentMethod(method.ID)
	return &saved, nil
}

func (a *AccountService) UpdatePaymentMethod(ctx context.Context, userID, methodID string, req request_models.UpdatePaymentMethodRequest) (*dbm.PaymentMethod, error) {
	var updated dbm.PaymentMethod
	_, err := a.mutate(ctx, userID, func(acc *dbm.Account) error {
		idx := -1
		for i := range acc.PaymentMethods {
			if acc.PaymentMethods[i].ID == methodID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return utils.NewError(utils.KindNotFound, "payment method not found")
		}
		if req.Number != nil {
			n := strings.TrimSpace(*req.Number)
			if len(n) < 4 {
				return utils.NewError(utils.KindInvalidArgument, "payment method number is too short")
			}
			acc.PaymentMethods[idx].Masked = dbm.MaskAccountNumber(n)
		}
		if req.MakeDefault {
			acc.SetDefaultPaymentMethod(methodID)
		}
		updated = acc.PaymentMethods[idx]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// RemovePaymentMethod drops a method. When the default goes, the oldest
// remaining method takes over.
func (a *AccountService) RemovePaymentMethod(ctx context.Context, userID, methodID string) error {
	_, err := a.mutate(ctx, userID, func(acc *dbm.Account) error {
		kept := acc.PaymentMethods[:0]
		removedDefault := false
		found := false
		for _, m := range acc.PaymentMethods {
			if m.ID == methodID {
				found = true
				removedDefault = m.IsDefault
				continue
			}
			kept = append(kept, m)
		}
		if !found {
			return utils.NewError(utils.KindNotFound, "payment method not found")
		}
		acc.PaymentMethods = kept
		if removedDefault && len(kept) > 0 {
			acc.SetDefaultPaymentMethod(kept[0].ID)
		}
		return nil
	})
	return err
}

func (a *AccountService) SetDefaultPaymentMethod(ctx context.Context, userID, methodID string) error {
	_, err := a.mutate(ctx, userID, func(acc *dbm.Account) error {
		if !acc.SetDefaultPaymentMethod(methodID) {
			return utils.NewError(utils.KindNotFound, "payment method not found")
		}
		return nil
	})
	return err
}

// SetupSubscription starts recurring billing. The first charge is one plan
// interval from now.
func (a *AccountService) SetupSubscription(ctx context.Context, userID string, req request_models.SetupSubscriptionRequest) (*dbm.Account, error) {
	if req.Plan != dbm.PlanMonthly && req.Plan != dbm.PlanYearly {
		return nil, utils.NewError(utils.KindInvalidArgument, "plan must be monthly or yearly")
	}
	if !req.Amount.IsPositive() {
		return nil, utils.NewError(utils.KindInvalidArgument, "subscription amount must be positive")
	}

	var acc *dbm.Account
	err := withLease(ctx, a.leases, subscriptionLeaseKey(userID), a.settings.LeaseTTL, func() error {
		var err error
		acc, err = a.mutate(ctx, userID, func(acc *dbm.Account) error {
			if acc.Subscription.IsActive {
				return utils.NewError(utils.KindInvalidState, "subscription already active")
			}
			if req.PaymentMethodID != "" {
				if !acc.SetDefaultPaymentMethod(req.PaymentMethodID) {
					return utils.NewError(utils.KindNotFound, "payment method not found")
				}
			} else if _, ok := acc.DefaultPaymentMethod(); !ok {
				return utils.NewError(utils.KindInvalidState, "add a payment method before subscribing")
			}
			next := a.now().UTC().Add(req.Plan.Interval())
			acc.Subscription = dbm.Subscription{
				IsActive:       true,
				Plan:           req.Plan,
				NextChargeDate: &next,
				Amount:         req.Amount,
				Currency:       a.settings.Currency,
			}
			return nil
		})
		return err
	})
	if errors.Is(err, errLeaseHeld) {
		return nil, utils.ErrConflictingTransaction
	}
	if err != nil {
		return nil, err
	}
	notify(ctx, a.sink, userID, NotifySubscriptionSetup, map[string]any{
		"plan":        string(req.Plan),
		"next_charge": acc.Subscription.NextChargeDate.Format(time.RFC3339),
	})
	return acc, nil
}

func (a *AccountService) CancelSubscription(ctx context.Context, userID string) (*dbm.Account, error) {
	var acc *dbm.Account
	changed := false
	err := withLease(ctx, a.leases, subscriptionLeaseKey(userID), a.settings.LeaseTTL, func() error {
		current, err := a.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if !current.Subscription.IsActive {
			acc = current
			return nil
		}
		acc, err = a.mutate(ctx, userID, func(acc *dbm.Account) error {
			acc.Subscription.IsActive = false
			acc.Subscription.NextChargeDate = nil
			return nil
		})
		changed = err == nil
		return err
	})
	if errors.Is(err, errLeaseHeld) {
		return nil, utils.ErrConflictingTransaction
	}
	if err != nil {
		return nil, err
	}
	if changed {
		notify(ctx, a.sink, userID, NotifySubscriptionCancelled, nil)
	}
	return acc, nil
}

// BillingHistory resolves the transaction ids recorded on the account, oldest first.
func (a *AccountService) BillingHistory(ctx context.Context, userID string) ([]dbm.Transaction, error) {
	acc, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]dbm.Transaction, 0, len(acc.BillingHistory))
	for _, id := range acc.BillingHistory {
		txn, err := a.store.GetTransaction(ctx, id)
		if errors.Is(err, utils.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, nil
}
