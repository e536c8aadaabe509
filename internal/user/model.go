package user

import "github.com/sudo-init-do/channelhub/internal/model"

// AccountResponse is an account as its owner sees it. Ledger markers are
// internal bookkeeping and never returned.
type AccountResponse struct {
	ID string `json:"id"`
	model.Account
}

func NewAccountResponse(a model.Account) AccountResponse {
	a.ReferralCredits = nil
	a.WithdrawalDebits = nil
	return AccountResponse{ID: a.ID, Account: a}
}

// CreateAccountRequest is the body of POST /accounts. Code falls back to
// the ref_code cookie when empty.
type CreateAccountRequest struct {
	DisplayName string `json:"displayName" validate:"max=80"`
	Email       string `json:"email" validate:"omitempty,email"`
	Code        string `json:"code" validate:"max=64"`
}
