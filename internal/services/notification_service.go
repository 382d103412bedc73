package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type TemplateKind string

const (
	NotifyPaymentSucceeded      TemplateKind = "payment_succeeded"
	NotifyPaymentFailed         TemplateKind = "payment_failed"
	NotifyOrderCancelled        TemplateKind = "order_cancelled"
	NotifyRefundIssued          TemplateKind = "refund_issued"
	NotifyPaymentConfirmed      TemplateKind = "payment_confirmed"
	NotifyPaymentRejected       TemplateKind = "payment_rejected"
	NotifySubscriptionSetup     TemplateKind = "subscription_setup"
	NotifySubscriptionCharged   TemplateKind = "subscription_charged"
	NotifySubscriptionFailed    TemplateKind = "subscription_failed"
	NotifySubscriptionReminder  TemplateKind = "payment_reminder"
	NotifySubscriptionCancelled TemplateKind = "subscription_cancelled"
)

// NotificationSink delivers user-facing notices. Failures are the caller's to
// log; they never undo a ledger transition.
type NotificationSink interface {
	Notify(ctx context.Context, userID string, kind TemplateKind, payload map[string]any) error
}

// notify sends and logs. It exists so every call site follows the same
// fire-and-forget rule.
func notify(ctx context.Context, sink NotificationSink, userID string, kind TemplateKind, payload map[string]any) {
	if sink == nil {
		return
	}
	if err := sink.Notify(ctx, userID, kind, payload); err != nil {
		slog.WarnContext(ctx, "notification failed", "user_id", userID, "kind", kind, "error", err)
	}
}

// LogNotificationSink only records notifications in the log.
type LogNotificationSink struct{}

func (LogNotificationSink) Notify(ctx context.Context, userID string, kind TemplateKind, payload map[string]any) error {
	slog.InfoContext(ctx, "notification", "user_id", userID, "kind", kind, "payload_keys", len(payload))
	return nil
}

// AsyncNotificationSink hands notifications to a background goroutine so a slow
// mail server cannot hold up a ledger transition.
type AsyncNotificationSink struct {
	next    NotificationSink
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsyncNotificationSink(next NotificationSink, timeout time.Duration) *AsyncNotificationSink {
	return &AsyncNotificationSink{next: next, timeout: timeout}
}

func (a *AsyncNotificationSink) Notify(ctx context.Context, userID string, kind TemplateKind, payload map[string]any) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Notify(sendCtx, userID, kind, payload); err != nil {
			slog.WarnContext(sendCtx, "async notification failed", "user_id", userID, "kind", kind, "error", err)
		}
	}()
	return nil
}

// Wait blocks until in-flight notifications finish; used on shutdown.
func (a *AsyncNotificationSink) Wait() {
	a.wg.Wait()
}
