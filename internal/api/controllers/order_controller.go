package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"payledger/internal/models/request_models"
	"payledger/internal/services"
	"payledger/pkg/middleware"
	"payledger/pkg/utils"
)

type OrderController struct {
	orderService       services.OrderService
	transactionService services.TransactionService
}

func NewOrderController(orderService services.OrderService, transactionService services.TransactionService) *OrderController {
	return &OrderController{
		orderService:       orderService,
		transactionService: transactionService,
	}
}

// CreateOrder godoc
// @Summary Create an order
// @Description Snapshot the items and compute the final amount of a new pending order
// @Tags Orders
// @Accept json
// @Produce json
// @Param request body request_models.CreateOrderRequest true "Order payload"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Security BearerAuth
// @Router /orders [post]
func (o *OrderController) CreateOrder(c *gin.Context) {
	var req request_models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	order, err := o.orderService.CreateOrder(c.Request.Context(), c.GetString(middleware.CtxUserID), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, order, "Order created successfully")
}

// GetOrder godoc
// @Summary Get an order
// @Tags Orders
// @Produce json
// @Param id path string true "Order ID"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse
// @Security BearerAuth
// @Router /orders/{id} [get]
func (o *OrderController) GetOrder(c *gin.Context) {
	order, err := o.orderService.GetOrder(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, order, "Order fetched successfully")
}

func (o *OrderController) ListTransactions(c *gin.Context) {
	txns, err := o.orderService.OrderTransactions(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, txns, "Transactions fetched successfully")
}

// Charge godoc
// @Summary Pay an order
// @Description Charge a pending order with one of the caller's payment methods
// @Tags Orders
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param request body request_models.ChargeOrderRequest true "Payment method"
// @Success 200 {object} utils.APIResponse
// @Failure 402 {object} utils.APIResponse
// @Failure 409 {object} utils.APIResponse
// @Failure 504 {object} utils.APIResponse
// @Security BearerAuth
// @Router /orders/{id}/charge [post]
func (o *OrderController) Charge(c *gin.Context) {
	var req request_models.ChargeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	txn, err := o.transactionService.CreateCharge(c.Request.Context(), identityFrom(c), c.Param("id"), req.PaymentMethodID)
	if err != nil && txn != nil {
		utils.HandleServiceErrorWithData(c, err, txn)
		return
	}
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, txn, "Payment completed successfully")
}

func (o *OrderController) Cancel(c *gin.Context) {
	order, err := o.transactionService.CancelOrder(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, order, "Order cancelled successfully")
}
