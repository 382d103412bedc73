package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	dbm "payledger/internal/models/db_models"
	resp "payledger/internal/models/response_models"
	"payledger/internal/repositories"
	mem "payledger/pkg/memcache"
	"payledger/pkg/utils"
)

type SchedulerConfig struct {
	Interval       time.Duration
	ReminderWindow time.Duration
	Workers        int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:       24 * time.Hour,
		ReminderWindow: 24 * time.Hour,
		Workers:        4,
	}
}

// BillingScheduler charges due subscriptions. Runs are safe to repeat: a cycle
// that already has a completed transaction is never charged again.
type BillingScheduler interface {
	RunOnce(ctx context.Context, now time.Time) (resp.BillingRunSummary, error)
	Start(ctx context.Context)
}

type billingOutcome int

const (
	outcomeNone billingOutcome = iota
	outcomeCharged
	outcomeFailed
	outcomeRepaired
	outcomeReminded
	outcomeSkipped
)

type billingScheduler struct {
	store    repositories.LedgerStore
	gateways *GatewayRegistry
	leases   mem.LeaseStore
	sink     NotificationSink
	settings LedgerSettings
	cfg      SchedulerConfig
	now      func() time.Time
}

func NewBillingScheduler(
	store repositories.LedgerStore,
	gateways *GatewayRegistry,
	leases mem.LeaseStore,
	sink NotificationSink,
	settings LedgerSettings,
	cfg SchedulerConfig,
) BillingScheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerConfig().Interval
	}
	return &billingScheduler{
		store:    store,
		gateways: gateways,
		leases:   leases,
		sink:     sink,
		settings: settings,
		cfg:      cfg,
		now:      time.Now,
	}
}

// BillingCycleKey identifies one billing cycle of one user.
func BillingCycleKey(userID string, due time.Time) string {
	return fmt.Sprintf("%s:%s", userID, due.UTC().Format(time.RFC3339))
}

func (s *billingScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "billing scheduler started", "interval", s.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("billing scheduler stopped")
			return
		case <-ticker.C:
			runCtx := utils.WithTraceID(ctx, "billing-"+s.now().UTC().Format(time.RFC3339))
			summary, err := s.RunOnce(runCtx, s.now())
			if err != nil {
				slog.ErrorContext(runCtx, "billing run finished with errors", "errors", len(summary.Errors), "error", err)
			}
			slog.InfoContext(runCtx, "billing run finished",
				"processed", summary.Processed,
				"charged", summary.Charged,
				"failed", summary.Failed,
				"reminded", summary.Reminded,
			)
		}
	}
}

// RunOnce processes every active subscription once. A failure for one user is
// collected and never stops the others.
func (s *billingScheduler) RunOnce(ctx context.Context, now time.Time) (resp.BillingRunSummary, error) {
	summary := resp.BillingRunSummary{RunAt: now}

	accounts, err := s.store.FindActiveSubscriptions(ctx)
	if err != nil {
		return summary, err
	}

	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)

	for i := range accounts {
		userID := accounts[i].ID
		g.Go(func() error {
			outcome, err := s.processUser(ctx, userID, now)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			switch outcome {
			case outcomeCharged:
				summary.Charged++
			case outcomeFailed:
				summary.Failed++
			case outcomeRepaired:
				summary.Repaired++
			case outcomeReminded:
				summary.Reminded++
			case outcomeSkipped:
				summary.Skipped++
			}
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("user %s: %w", userID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range multierr.Errors(errs) {
		summary.Errors = append(summary.Errors, e.Error())
	}
	return summary, errs
}

func (s *billingScheduler) processUser(ctx context.Context, userID string, now time.Time) (billingOutcome, error) {
	outcome := outcomeNone
	err := withLease(ctx, s.leases, subscriptionLeaseKey(userID), s.settings.LeaseTTL, func() error {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		sub := user.Subscription
		if !sub.IsActive || sub.NextChargeDate == nil {
			return nil
		}
		due := *sub.NextChargeDate

		if !now.Before(due) {
			outcome, err = s.chargeCycle(ctx, user, due, now)
			return err
		}
		if due.Sub(now) <= s.cfg.ReminderWindow {
			notify(ctx, s.sink, userID, NotifySubscriptionReminder, map[string]any{
				"due_date": due.UTC().Format(time.RFC3339),
				"amount":   sub.Amount.StringFixed(2),
			})
			outcome = outcomeReminded
		}
		return nil
	})
	if errors.Is(err, errLeaseHeld) {
		return outcomeSkipped, nil
	}
	return outcome, err
}

func (s *billingScheduler) chargeCycle(ctx context.Context, user *dbm.Account, due, now time.Time) (billingOutcome, error) {
	key := BillingCycleKey(user.ID, due)

	attempts, err := s.store.FindTransactionsByBillingCycle(ctx, key)
	if err != nil {
		return outcomeNone, err
	}
	for i := range attempts {
		t := &attempts[i]
		switch t.Status {
		case dbm.TxnStatusCompleted, dbm.TxnStatusRefunded:
			// a previous run charged but did not advance the date
			if err := s.advance(ctx, user.ID, due, t.ID, true); err != nil {
				return outcomeNone, err
			}
			slog.InfoContext(ctx, "billing cycle repaired", "user_id", user.ID, "cycle", key)
			return outcomeRepaired, nil
		case dbm.TxnStatusPending:
			// A live attempt settles within the gateway timeout. Anything
			// younger may still be in flight under an expired lease.
			if s.now().Sub(t.CreatedAt) <= s.interruptedAfter() {
				slog.WarnContext(ctx, "billing attempt still in flight", "user_id", user.ID, "cycle", key, "transaction_id", t.ID)
				return outcomeSkipped, nil
			}
			t.Status = dbm.TxnStatusFailed
			t.ErrorMessage = "billing attempt interrupted"
			if err := s.store.SaveTransaction(ctx, t); err != nil {
				return outcomeNone, err
			}
		}
	}

	method, ok := user.DefaultPaymentMethod()
	if !ok {
		return outcomeFailed, utils.NewError(utils.KindNotFound, "no payment method on file")
	}

	sub := user.Subscription
	currency := sub.Currency
	if currency == "" {
		currency = s.settings.Currency
	}
	txn := &dbm.Transaction{
		UserID:            user.ID,
		Amount:            sub.Amount,
		Currency:          currency,
		PaymentMethod:     method.Ref(),
		Type:              dbm.TxnTypePayment,
		Status:            dbm.TxnStatusPending,
		Gateway:           string(GatewayForMethod(method.Type)),
		IsRecurring:       true,
		RecurringInterval: sub.Plan,
		BillingCycleKey:   key,
	}
	if err := s.store.SaveTransaction(ctx, txn); err != nil {
		return outcomeNone, err
	}

	result := s.gateways.Charge(ctx, s.settings.GatewayTimeout, txn.Amount, txn.PaymentMethod)
	persistCtx := context.WithoutCancel(ctx)
	if err := settleCharge(persistCtx, s.store, txn, result, now); err != nil {
		return outcomeNone, err
	}

	if err := s.advance(persistCtx, user.ID, due, txn.ID, result.Succeeded); err != nil {
		return outcomeNone, err
	}

	if !result.Succeeded {
		slog.InfoContext(ctx, "subscription charge failed", "user_id", user.ID, "cycle", key, "timed_out", result.TimedOut)
		notify(persistCtx, s.sink, user.ID, NotifySubscriptionFailed, map[string]any{"transaction_id": txn.ID})
		return outcomeFailed, nil
	}
	slog.InfoContext(ctx, "subscription charged", "user_id", user.ID, "cycle", key)
	notify(persistCtx, s.sink, user.ID, NotifySubscriptionCharged, map[string]any{
		"transaction_id": txn.ID,
		"amount":         txn.Amount.StringFixed(2),
	})
	return outcomeCharged, nil
}

// interruptedAfter is how old a pending cycle attempt must be before a later
// run may declare it abandoned.
func (s *billingScheduler) interruptedAfter() time.Duration {
	return s.settings.GatewayTimeout + s.settings.LeaseTTL
}

// advance records txnID in the history and, when paid, moves the next charge
// date one interval past the original due date.
func (s *billingScheduler) advance(ctx context.Context, userID string, due time.Time, txnID string, paid bool) error {
	return utils.RetryOnStale(ctx, s.settings.StaleWriteRetries, func(ctx context.Context) error {
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		changed := false
		before := len(user.BillingHistory)
		user.RecordBilling(txnID)
		if len(user.BillingHistory) != before {
			changed = true
		}
		sub := &user.Subscription
		if paid && sub.IsActive && sub.NextChargeDate != nil && sub.NextChargeDate.Equal(due) {
			next := due.Add(sub.Plan.Interval())
			sub.NextChargeDate = &next
			changed = true
		}
		if !changed {
			return nil
		}
		return s.store.SaveUser(ctx, user)
	})
}
