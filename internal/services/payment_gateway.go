package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	dbm "payledger/internal/models/db_models"
	"payledger/pkg/utils"
)

// ChargeOutcome is what a gateway reports for one charge attempt.
type ChargeOutcome struct {
	Success   bool
	Reference string
	Error     string
}

// GatewayAdapter moves money. Implementations must honour ctx cancellation;
// callGateway still bounds them if they do not.
type GatewayAdapter interface {
	Charge(ctx context.Context, amount decimal.Decimal, method dbm.PaymentMethodRef) (ChargeOutcome, error)
}

type GatewayKind string

const (
	GatewayStripe       GatewayKind = "stripe"
	GatewayPayPal       GatewayKind = "paypal"
	GatewayBankTransfer GatewayKind = "bank_transfer"
)

// GatewayConfig is read once at startup. Changing a toggle means building a new
// registry from a new config value.
type GatewayConfig struct {
	Kind        GatewayKind
	Enabled     bool
	SuccessRate float64
	Latency     time.Duration
}

// DefaultGatewayConfigs mirrors the simulated success rates of the mock providers.
func DefaultGatewayConfigs() []GatewayConfig {
	return []GatewayConfig{
		{Kind: GatewayStripe, Enabled: true, SuccessRate: 0.90},
		{Kind: GatewayPayPal, Enabled: true, SuccessRate: 0.85},
		{Kind: GatewayBankTransfer, Enabled: true, SuccessRate: 0.95},
	}
}

// GatewayForMethod picks the provider that serves a payment method type.
func GatewayForMethod(t dbm.PaymentMethodType) GatewayKind {
	switch t {
	case dbm.MethodPayPal:
		return GatewayPayPal
	case dbm.MethodBankTransfer:
		return GatewayBankTransfer
	default:
		return GatewayStripe
	}
}

// GatewayRegistry is the startup-time lookup from kind to adapter.
type GatewayRegistry struct {
	adapters map[GatewayKind]GatewayAdapter
}

func NewGatewayRegistry() *GatewayRegistry {
	return &GatewayRegistry{adapters: make(map[GatewayKind]GatewayAdapter)}
}

// NewSimulatedGatewayRegistry registers a simulated adapter for every enabled config.
func NewSimulatedGatewayRegistry(configs []GatewayConfig, seed int64) *GatewayRegistry {
	reg := NewGatewayRegistry()
	rnd := newLockedRand(seed)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		reg.Register(cfg.Kind, &simulatedGateway{
			kind:        cfg.Kind,
			successRate: cfg.SuccessRate,
			latency:     cfg.Latency,
			rand:        rnd,
		})
	}
	return reg
}

func (r *GatewayRegistry) Register(kind GatewayKind, adapter GatewayAdapter) {
	r.adapters[kind] = adapter
}

func (r *GatewayRegistry) Lookup(kind GatewayKind) (GatewayAdapter, bool) {
	a, ok := r.adapters[kind]
	return a, ok
}

// Active lists the registered gateway kinds.
func (r *GatewayRegistry) Active() []GatewayKind {
	out := make([]GatewayKind, 0, len(r.adapters))
	for _, k := range []GatewayKind{GatewayStripe, GatewayPayPal, GatewayBankTransfer} {
		if _, ok := r.adapters[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// ChargeResult is the normalised outcome of callGateway.
type ChargeResult struct {
	Gateway   GatewayKind
	Outcome   ChargeOutcome
	Err       error // nil, a GatewayDeclined/GatewayTimeout LedgerError, or a wrapped context.Canceled
	TimedOut  bool
	Succeeded bool
}

// Charge routes to the gateway for method and bounds the call by timeout.
// It never returns a pending result: every path ends succeeded or failed.
func (r *GatewayRegistry) Charge(ctx context.Context, timeout time.Duration, amount decimal.Decimal, method dbm.PaymentMethodRef) ChargeResult {
	kind := GatewayForMethod(method.Type)
	if amount.IsZero() {
		// fully discounted: nothing to collect
		return ChargeResult{Gateway: kind, Outcome: ChargeOutcome{Success: true}, Succeeded: true}
	}
	adapter, ok := r.Lookup(kind)
	if !ok {
		return ChargeResult{
			Gateway: kind,
			Outcome: ChargeOutcome{Error: "payment gateway not available"},
			Err:     utils.NewError(utils.KindGatewayDeclined, "payment gateway not available"),
		}
	}
	return callGateway(ctx, timeout, kind, adapter, amount, method)
}

type chargeReply struct {
	outcome ChargeOutcome
	err     error
}

func callGateway(ctx context.Context, timeout time.Duration, kind GatewayKind, adapter GatewayAdapter, amount decimal.Decimal, method dbm.PaymentMethodRef) ChargeResult {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// buffered so a late adapter never blocks after we stop listening
	replies := make(chan chargeReply, 1)
	go func() {
		out, err := adapter.Charge(callCtx, amount, method)
		replies <- chargeReply{outcome: out, err: err}
	}()

	timedOut := func() ChargeResult {
		return ChargeResult{
			Gateway:  kind,
			Outcome:  ChargeOutcome{Error: "gateway timeout"},
			Err:      utils.NewError(utils.KindGatewayTimeout, "%s did not respond in time", kind),
			TimedOut: true,
		}
	}

	// a caller that went away is not a slow gateway
	aborted := func() ChargeResult {
		return ChargeResult{
			Gateway: kind,
			Outcome: ChargeOutcome{Error: "charge cancelled by caller"},
			Err:     fmt.Errorf("%s charge aborted: %w", kind, ctx.Err()),
		}
	}

	select {
	case <-callCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return aborted()
		}
		return timedOut()
	case reply := <-replies:
		if reply.err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return aborted()
			}
			if errors.Is(reply.err, context.DeadlineExceeded) {
				return timedOut()
			}
			return ChargeResult{
				Gateway: kind,
				Outcome: ChargeOutcome{Error: "gateway error"},
				Err:     utils.NewError(utils.KindGatewayDeclined, "%s charge error", kind),
			}
		}
		if !reply.outcome.Success {
			msg := reply.outcome.Error
			if msg == "" {
				msg = "payment declined"
			}
			reply.outcome.Error = msg
			return ChargeResult{
				Gateway: kind,
				Outcome: reply.outcome,
				Err:     utils.NewError(utils.KindGatewayDeclined, "%s", msg),
			}
		}
		return ChargeResult{Gateway: kind, Outcome: reply.outcome, Succeeded: true}
	}
}

// simulatedGateway stands in for a real provider.
type simulatedGateway struct {
	kind        GatewayKind
	successRate float64
	latency     time.Duration
	rand        *lockedRand
}

func (g *simulatedGateway) Charge(ctx context.Context, amount decimal.Decimal, _ dbm.PaymentMethodRef) (ChargeOutcome, error) {
	if g.latency > 0 {
		select {
		case <-ctx.Done():
			return ChargeOutcome{}, ctx.Err()
		case <-time.After(g.latency):
		}
	}
	if amount.IsNegative() {
		return ChargeOutcome{Error: "invalid charge amount"}, nil
	}
	if g.rand.Float64() >= g.successRate {
		return ChargeOutcome{Error: declineMessage(g.kind)}, nil
	}
	return ChargeOutcome{
		Success:   true,
		Reference: fmt.Sprintf("%s_%d", g.kind, time.Now().UnixNano()),
	}, nil
}

func declineMessage(kind GatewayKind) string {
	switch kind {
	case GatewayPayPal:
		return "PayPal payment failed"
	case GatewayBankTransfer:
		return "Bank transfer rejected"
	default:
		return "Payment declined by Stripe"
	}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
