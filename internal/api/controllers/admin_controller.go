package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	dbm "payledger/internal/models/db_models"
	"payledger/internal/models/request_models"
	"payledger/internal/models/response_models"
	"payledger/internal/services"
	"payledger/pkg/utils"
)

type AdminController struct {
	reconciliation services.ReconciliationService
	scheduler      services.BillingScheduler
}

func NewAdminController(reconciliation services.ReconciliationService, scheduler services.BillingScheduler) *AdminController {
	return &AdminController{
		reconciliation: reconciliation,
		scheduler:      scheduler,
	}
}

func (a *AdminController) ListPayments(c *gin.Context) {
	status := dbm.PaymentStatus(c.Query("status"))
	payments, err := a.reconciliation.ListPayments(c.Request.Context(), identityFrom(c), status)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, payments, "Payments fetched successfully")
}

// ConfirmPayment godoc
// @Summary Confirm a manual payment
// @Tags Admin
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} utils.APIResponse
// @Failure 403 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/payments/{id}/confirm [post]
func (a *AdminController) ConfirmPayment(c *gin.Context) {
	payment, err := a.reconciliation.ConfirmPayment(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, payment, "Payment confirmed")
}

func (a *AdminController) RejectPayment(c *gin.Context) {
	payment, err := a.reconciliation.RejectPayment(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, payment, "Payment rejected")
}

// IssueRefund godoc
// @Summary Refund a completed transaction
// @Tags Admin
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/transactions/{id}/refund [post]
func (a *AdminController) IssueRefund(c *gin.Context) {
	txn, err := a.reconciliation.IssueRefund(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, txn, "Refund processed")
}

func (a *AdminController) ResolveDispute(c *gin.Context) {
	var req request_models.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	txn, err := a.reconciliation.ResolveDispute(c.Request.Context(), identityFrom(c), c.Param("id"), req.Note)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, txn, "Dispute resolved")
}

func (a *AdminController) AdjustOrder(c *gin.Context) {
	var req request_models.AdjustOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	adj := services.OrderAdjustment{Tax: req.Tax, ShippingFee: req.ShippingFee, Discount: req.Discount}
	order, err := a.reconciliation.AdjustOrderDetails(c.Request.Context(), identityFrom(c), c.Param("id"), adj)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, order, "Order adjusted")
}

func (a *AdminController) AdvanceFulfillment(c *gin.Context) {
	var req request_models.FulfillmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "status must be one of: shipped, delivered")
		return
	}

	order, err := a.reconciliation.AdvanceFulfillment(c.Request.Context(), identityFrom(c), c.Param("id"), dbm.OrderStatus(req.Status))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, order, "Order updated")
}

// FinancialReport godoc
// @Summary Aggregate transactions
// @Tags Admin
// @Produce json
// @Param user_id   query string false "Only this user"
// @Param status    query string false "Transaction status"
// @Param recurring query bool   false "Only recurring (true) or one-off (false)"
// @Param start     query string false "RFC3339 start"
// @Param end       query string false "RFC3339 end"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /admin/reports/financial [get]
func (a *AdminController) FinancialReport(c *gin.Context) {
	q, ok := parseReportQuery(c)
	if !ok {
		return
	}
	report, err := a.reconciliation.GenerateFinancialReport(c.Request.Context(), identityFrom(c), q)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, report, "Report generated successfully")
}

func (a *AdminController) Monitor(c *gin.Context) {
	q, ok := parseReportQuery(c)
	if !ok {
		return
	}
	report, err := a.reconciliation.MonitorTransactions(c.Request.Context(), identityFrom(c), q)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, report, "Transactions fetched successfully")
}

// RunBilling triggers one scheduler pass outside the regular interval. The
// route is guarded by the admin role middleware.
func (a *AdminController) RunBilling(c *gin.Context) {
	summary, err := a.scheduler.RunOnce(c.Request.Context(), time.Now().UTC())
	if err != nil && summary.Processed == 0 {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, summary, "Billing run finished")
}

// ---- helpers ----

func parseReportQuery(c *gin.Context) (response_models.ReportQuery, bool) {
	q := response_models.ReportQuery{
		UserID: c.Query("user_id"),
		Status: dbm.TransactionStatus(c.Query("status")),
	}

	if v := c.Query("recurring"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, "recurring must be true or false")
			return q, false
		}
		q.IsRecurring = &b
	}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, "start must be RFC3339 (e.g. 2025-10-01T00:00:00Z)")
			return q, false
		}
		q.Range.Start = &t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, "end must be RFC3339 (e.g. 2025-10-19T23:59:59Z)")
			return q, false
		}
		q.Range.End = &t
	}
	return q, true
}
