package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"payledger/internal/models/request_models"
	"payledger/internal/services"
	"payledger/pkg/middleware"
	"payledger/pkg/utils"
)

type PaymentController struct {
	paymentService services.PaymentService
}

func NewPaymentController(paymentService services.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
	}
}

// SubmitManualPayment godoc
// @Summary Submit a manual payment
// @Description Record a bank transfer that waits for administrator review
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body request_models.SubmitManualPaymentRequest true "Manual payment"
// @Success 200 {object} utils.APIResponse
// @Security BearerAuth
// @Router /payments/manual [post]
func (p *PaymentController) SubmitManualPayment(c *gin.Context) {
	var request request_models.SubmitManualPaymentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	userID := c.GetString(middleware.CtxUserID)
	if userID == "" {
		utils.RespondError(c, http.StatusBadRequest, "user_id is required")
		return
	}

	payment, err := p.paymentService.SubmitManualPayment(c.Request.Context(), userID, request)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, payment, "Payment submitted for review")
}

func (p *PaymentController) AttachEvidence(c *gin.Context) {
	var request request_models.AttachEvidenceRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	payment, err := p.paymentService.AttachEvidence(c.Request.Context(), c.GetString(middleware.CtxUserID), c.Param("id"), request.Evidence)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, payment, "Evidence attached")
}
