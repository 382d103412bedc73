package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	dbm "payledger/internal/models/db_models"
	"payledger/internal/models/request_models"
	"payledger/internal/repositories"
	mem "payledger/pkg/memcache"
	"payledger/pkg/utils"
)

const manualGateway = "manual"

// PaymentService records payments made outside a gateway, such as bank
// transfers, that an administrator confirms later.
type PaymentService interface {
	SubmitManualPayment(ctx context.Context, userID string, req request_models.SubmitManualPaymentRequest) (*dbm.Payment, error)
	AttachEvidence(ctx context.Context, userID, paymentID, evidence string) (*dbm.Payment, error)
}

type paymentService struct {
	store    repositories.LedgerStore
	leases   mem.LeaseStore
	settings LedgerSettings
}

func NewPaymentService(store repositories.LedgerStore, leases mem.LeaseStore, settings LedgerSettings) PaymentService {
	return &paymentService{store: store, leases: leases, settings: settings}
}

func (p *paymentService) SubmitManualPayment(ctx context.Context, userID string, req request_models.SubmitManualPaymentRequest) (*dbm.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, utils.NewError(utils.KindInvalidArgument, "amount must be positive")
	}
	account := strings.TrimSpace(req.AccountNumber)
	if len(account) < 4 {
		return nil, utils.NewError(utils.KindInvalidArgument, "account number is too short")
	}
	if _, err := p.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	payment := &dbm.Payment{
		UserID:        userID,
		OrderID:       req.OrderID,
		AccountNumber: dbm.MaskAccountNumber(account),
		Amount:        req.Amount,
		Status:        dbm.PaymentStatusPending,
	}
	payment.EnsureID()
	txn := &dbm.Transaction{
		UserID:    userID,
		OrderID:   req.OrderID,
		PaymentID: &payment.ID,
		Amount:    req.Amount,
		Currency:  p.settings.Currency,
		PaymentMethod: dbm.PaymentMethodRef{
			Type:   dbm.MethodBankTransfer,
			Masked: payment.AccountNumber,
		},
		Type:    dbm.TxnTypePayment,
		Status:  dbm.TxnStatusPending,
		Gateway: manualGateway,
	}

	record := func() error {
		if err := p.store.SaveTransaction(ctx, txn); err != nil {
			return err
		}
		payment.TransactionID = txn.ID
		return p.store.SavePayment(ctx, payment)
	}

	if req.OrderID == nil || *req.OrderID == "" {
		payment.OrderID, txn.OrderID = nil, nil
		if err := record(); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "manual payment submitted", "payment_id", payment.ID)
		return payment, nil
	}

	orderID := *req.OrderID
	err := withLease(ctx, p.leases, orderLeaseKey(orderID), p.settings.LeaseTTL, func() error {
		order, err := p.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return utils.NewError(utils.KindNotFound, "order not found")
		}
		if order.Status != dbm.OrderStatusPending {
			return utils.NewError(utils.KindInvalidTransition, "order is not awaiting payment")
		}
		if !order.FinalAmount.Equal(req.Amount) {
			return utils.NewError(utils.KindInvalidArgument, "amount does not match the order total")
		}
		attempts, err := p.store.FindTransactionsByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for i := range attempts {
			if attempts[i].IsActive() {
				return utils.ErrConflictingTransaction
			}
		}
		if order.Currency != "" {
			txn.Currency = order.Currency
		}
		return record()
	})
	if errors.Is(err, errLeaseHeld) {
		return nil, utils.ErrConflictingTransaction
	}
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "manual payment submitted", "payment_id", payment.ID, "order_id", orderID)
	return payment, nil
}

// AttachEvidence stores a receipt reference on the owner's pending payment.
func (p *paymentService) AttachEvidence(ctx context.Context, userID, paymentID, evidence string) (*dbm.Payment, error) {
	evidence = strings.TrimSpace(evidence)
	if evidence == "" {
		return nil, utils.NewError(utils.KindInvalidArgument, "evidence is required")
	}

	var out *dbm.Payment
	err := utils.RetryOnStale(ctx, p.settings.StaleWriteRetries, func(ctx context.Context) error {
		payment, err := p.store.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.UserID != userID {
			return utils.NewError(utils.KindNotFound, "payment not found")
		}
		if payment.Status != dbm.PaymentStatusPending {
			return utils.NewError(utils.KindInvalidState, "payment was already reviewed")
		}
		payment.Evidence = evidence
		if err := p.store.SavePayment(ctx, payment); err != nil {
			return err
		}
		out = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
