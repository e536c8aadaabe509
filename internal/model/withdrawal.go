package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Withdrawal statuses.
const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
)

// Payout methods accepted for withdrawals.
const (
	MethodBank   = "bank"
	MethodPayPal = "paypal"
	MethodUPI    = "upi"
	MethodCrypto = "crypto"
)

// Withdrawal is a payout request against an account's wallet balance.
type Withdrawal struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"accountId"`
	Amount          int64      `json:"amount"`
	Method          string     `json:"method"`
	Address         string     `json:"address"`
	Status          string     `json:"status"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	Note            string     `json:"note,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	DecidedAt       *time.Time `json:"decidedAt,omitempty"`
}

// Terminal reports whether the withdrawal has been decided.
func (w Withdrawal) Terminal() bool {
	return w.Status == WithdrawalApproved || w.Status == WithdrawalRejected
}

// DecodeWithdrawal parses and validates a stored withdrawal.
func DecodeWithdrawal(id string, raw []byte) (Withdrawal, error) {
	var w Withdrawal
	if err := json.Unmarshal(raw, &w); err != nil {
		return Withdrawal{}, fmt.Errorf("%w: withdrawal %s: %v", ErrMalformed, id, err)
	}
	w.ID = id
	switch {
	case w.AccountID == "":
		return Withdrawal{}, fmt.Errorf("%w: withdrawal %s has no account", ErrMalformed, id)
	case w.Amount <= 0:
		return Withdrawal{}, fmt.Errorf("%w: withdrawal %s amount %d", ErrMalformed, id, w.Amount)
	case w.Status != WithdrawalPending && w.Status != WithdrawalApproved && w.Status != WithdrawalRejected:
		return Withdrawal{}, fmt.Errorf("%w: withdrawal %s status %q", ErrMalformed, id, w.Status)
	}
	return w, nil
}
