package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	dbm "payledger/internal/models/db_models"
	resp "payledger/internal/models/response_models"
	"payledger/internal/repositories"
)

// DefaultSuspiciousAmount flags transactions above this value in Monitor.
var DefaultSuspiciousAmount = decimal.NewFromInt(1000)

type ReportService interface {
	BuildReport(ctx context.Context, q resp.ReportQuery) (*resp.FinancialReport, error)
	Monitor(ctx context.Context, q resp.ReportQuery) (*resp.MonitorReport, error)
}

type reportService struct {
	store     repositories.LedgerStore
	threshold decimal.Decimal
	now       func() time.Time
}

func NewReportService(store repositories.LedgerStore, suspicious decimal.Decimal) ReportService {
	if !suspicious.IsPositive() {
		suspicious = DefaultSuspiciousAmount
	}
	return &reportService{store: store, threshold: suspicious, now: time.Now}
}

// normalizeQuery swaps an inverted range instead of rejecting it.
func normalizeQuery(q resp.ReportQuery) resp.ReportQuery {
	out := q
	if out.Range.Start != nil && out.Range.End != nil && out.Range.Start.After(*out.Range.End) {
		out.Range.Start, out.Range.End = out.Range.End, out.Range.Start
	}
	return out
}

func toFilter(q resp.ReportQuery) repositories.TransactionFilter {
	return repositories.TransactionFilter{
		UserID:      q.UserID,
		Status:      q.Status,
		IsRecurring: q.IsRecurring,
		From:        q.Range.Start,
		To:          q.Range.End,
	}
}

func (s *reportService) BuildReport(ctx context.Context, q resp.ReportQuery) (*resp.FinancialReport, error) {
	q = normalizeQuery(q)
	txns, err := s.store.ListTransactions(ctx, toFilter(q))
	if err != nil {
		return nil, err
	}
	report := Aggregate(txns)
	report.Query = q
	report.GeneratedAt = s.now().UTC()
	return report, nil
}

// Aggregate folds transactions into a report. It is a pure function of its
// input; an empty slice yields a report of zeros.
func Aggregate(txns []dbm.Transaction) *resp.FinancialReport {
	report := &resp.FinancialReport{
		ByStatus:       make(map[dbm.TransactionStatus]resp.StatusBucket),
		ByType:         make(map[dbm.TransactionType]resp.StatusBucket),
		TotalAmount:    decimal.Zero,
		Revenue:        decimal.Zero,
		RefundedAmount: decimal.Zero,
	}

	for i := range txns {
		t := &txns[i]
		report.TransactionCount++

		b := report.ByStatus[t.Status]
		b.Count++
		b.Amount = b.Amount.Add(t.Amount)
		report.ByStatus[t.Status] = b

		typ := t.Type
		if typ == "" {
			typ = dbm.TxnTypePayment
		}
		tb := report.ByType[typ]
		tb.Count++
		tb.Amount = tb.Amount.Add(t.Amount)
		report.ByType[typ] = tb

		switch typ {
		case dbm.TxnTypeRefund:
			report.TotalAmount = report.TotalAmount.Sub(t.Amount)
		default:
			report.TotalAmount = report.TotalAmount.Add(t.Amount)
			if t.Status == dbm.TxnStatusCompleted {
				report.Revenue = report.Revenue.Add(t.Amount)
			}
		}
		if t.Status == dbm.TxnStatusRefunded {
			report.RefundedAmount = report.RefundedAmount.Add(t.Amount)
		}
	}
	return report
}

func (s *reportService) Monitor(ctx context.Context, q resp.ReportQuery) (*resp.MonitorReport, error) {
	q = normalizeQuery(q)
	txns, err := s.store.ListTransactions(ctx, toFilter(q))
	if err != nil {
		return nil, err
	}
	out := &resp.MonitorReport{
		Query:        q,
		Threshold:    s.threshold,
		Transactions: txns,
		Suspicious:   []dbm.Transaction{},
	}
	for _, t := range txns {
		if t.Amount.GreaterThan(s.threshold) {
			out.Suspicious = append(out.Suspicious, t)
		}
	}
	return out, nil
}
