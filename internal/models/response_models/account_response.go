package response_models

import dbm "payledger/internal/models/db_models"

type AccountResponse struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Email          string              `json:"email"`
	Role           string              `json:"role"`
	PaymentMethods []dbm.PaymentMethod `json:"payment_methods"`
	Subscription   dbm.Subscription    `json:"subscription"`
	BillingCount   int                 `json:"billing_count"`
}

func ToAccountResponse(a *dbm.Account) AccountResponse {
	methods := a.PaymentMethods
	if methods == nil {
		methods = []dbm.PaymentMethod{}
	}
	return AccountResponse{
		ID:             a.ID,
		Name:           a.FullName,
		Email:          a.Email,
		Role:           a.Role,
		PaymentMethods: methods,
		Subscription:   a.Subscription,
		BillingCount:   len(a.BillingHistory),
	}
}
