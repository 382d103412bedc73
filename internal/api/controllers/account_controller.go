package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"payledger/internal/models/request_models"
	"payledger/internal/models/response_models"
	"payledger/internal/services"
	"payledger/pkg/middleware"
	"payledger/pkg/utils"
)

type AccountController struct {
	accountService services.AccountServiceInterface
}

func NewAccountController(accountService services.AccountServiceInterface) *AccountController {
	return &AccountController{
		accountService: accountService,
	}
}

// Register godoc
// @Summary Register a new account
// @Description Create a new customer account
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body request_models.SignUpRequest true "Account registration payload"
// @Success 200 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse
// @Router /accounts/register [post]
func (a *AccountController) Register(c *gin.Context) {
	var req request_models.SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	account, err := a.accountService.CreateAccount(c.Request.Context(), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, response_models.ToAccountResponse(account), "Account created successfully")
}

func (a *AccountController) Me(c *gin.Context) {
	account, err := a.accountService.GetAccount(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.ToAccountResponse(account), "Account fetched successfully")
}

// AddPaymentMethod godoc
// @Summary Add a payment method
// @Description Store a payment method; only the last four digits are kept
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body request_models.AddPaymentMethodRequest true "Payment method"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /accounts/payment-methods [post]
func (a *AccountController) AddPaymentMethod(c *gin.Context) {
	var req request_models.AddPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	method, err := a.accountService.AddPaymentMethod(c.Request.Context(), c.GetString(middleware.CtxUserID), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, method, "Payment method added")
}

func (a *AccountController) UpdatePaymentMethod(c *gin.Context) {
	var req request_models.UpdatePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	method, err := a.accountService.UpdatePaymentMethod(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("id"), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, method, "Payment method updated")
}

func (a *AccountController) RemovePaymentMethod(c *gin.Context) {
	if err := a.accountService.RemovePaymentMethod(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("id")); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, nil, "Payment method removed")
}

func (a *AccountController) SetDefaultPaymentMethod(c *gin.Context) {
	if err := a.accountService.SetDefaultPaymentMethod(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("id")); err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, nil, "Default payment method updated")
}

// SetupSubscription godoc
// @Summary Start a recurring subscription
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body request_models.SetupSubscriptionRequest true "Subscription"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /accounts/subscription [post]
func (a *AccountController) SetupSubscription(c *gin.Context) {
	var req request_models.SetupSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request format")
		return
	}

	account, err := a.accountService.SetupSubscription(c.Request.Context(), c.GetString(middleware.CtxUserID), req)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.ToAccountResponse(account), "Subscription set up")
}

func (a *AccountController) CancelSubscription(c *gin.Context) {
	account, err := a.accountService.CancelSubscription(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.ToAccountResponse(account), "Subscription cancelled")
}

func (a *AccountController) BillingHistory(c *gin.Context) {
	txns, err := a.accountService.BillingHistory(c.Request.Context(), c.GetString(middleware.CtxUserID))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, txns, "Billing history fetched successfully")
}
