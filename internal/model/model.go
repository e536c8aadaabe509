package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed marks a stored record that failed boundary validation.
var ErrMalformed = errors.New("malformed record")

// Record collections.
const (
	CollectionAccounts        = "accounts"
	CollectionListings        = "listings"
	CollectionReferralBonuses = "referralBonuses"
	CollectionWithdrawals     = "withdrawals"
)

// Referral attribution progress on the referred account.
const (
	ReferralPending = "pending"
	ReferralSettled = "settled"
)

// Account is a marketplace member. Amounts are integer minor currency units.
type Account struct {
	ID               string            `json:"-"`
	Email            string            `json:"email"`
	DisplayName      string            `json:"displayName"`
	ReferralCode     string            `json:"referralCode"`
	ReferredBy       string            `json:"referredBy,omitempty"`
	ReferredByID     string            `json:"referredById,omitempty"`
	ReferralStatus   string            `json:"referralStatus,omitempty"`
	SignupCode       string            `json:"signupCode,omitempty"`
	SettledAt        *time.Time        `json:"referralSettledAt,omitempty"`
	WalletBalance    int64             `json:"walletBalance"`
	TotalEarnings    int64             `json:"totalEarnings"`
	TotalReferrals   int64             `json:"totalReferrals"`
	ReferralCredits  map[string]string `json:"referralCredits,omitempty"`
	WithdrawalDebits map[string]int64  `json:"withdrawalDebits,omitempty"`
	IsActive         bool              `json:"isActive"`
	CreatedAt        time.Time         `json:"createdAt"`
	LastActiveAt     time.Time         `json:"lastActiveAt,omitempty"`
}

// Validate checks the fields every stored account must carry.
func (a Account) Validate() error {
	switch {
	case strings.TrimSpace(a.Email) == "":
		return fmt.Errorf("%w: account %s has no email", ErrMalformed, a.ID)
	case strings.TrimSpace(a.ReferralCode) == "":
		return fmt.Errorf("%w: account %s has no referral code", ErrMalformed, a.ID)
	case a.TotalEarnings < 0 || a.TotalReferrals < 0:
		return fmt.Errorf("%w: account %s has negative totals", ErrMalformed, a.ID)
	case a.ReferralStatus != "" && a.ReferralStatus != ReferralPending && a.ReferralStatus != ReferralSettled:
		return fmt.Errorf("%w: account %s has referral status %q", ErrMalformed, a.ID, a.ReferralStatus)
	}
	return nil
}

// DecodeAccount parses and validates a stored account.
func DecodeAccount(id string, raw []byte) (Account, error) {
	var a Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return Account{}, fmt.Errorf("%w: account %s: %v", ErrMalformed, id, err)
	}
	a.ID = id
	if err := a.Validate(); err != nil {
		return Account{}, err
	}
	return a, nil
}

// ReferralBonus is the append-only audit record of one paid attribution.
type ReferralBonus struct {
	ID          string    `json:"-"`
	ReferrerID  string    `json:"referrerId"`
	ReferredID  string    `json:"referredId"`
	BonusAmount int64     `json:"bonusAmount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Bonus statuses.
const (
	BonusPaid   = "paid"
	BonusFailed = "failed"
)

// DecodeReferralBonus parses and validates an audit record.
func DecodeReferralBonus(id string, raw []byte) (ReferralBonus, error) {
	var b ReferralBonus
	if err := json.Unmarshal(raw, &b); err != nil {
		return ReferralBonus{}, fmt.Errorf("%w: referral bonus %s: %v", ErrMalformed, id, err)
	}
	b.ID = id
	switch {
	case b.ReferrerID == "" || b.ReferredID == "":
		return ReferralBonus{}, fmt.Errorf("%w: referral bonus %s missing parties", ErrMalformed, id)
	case b.BonusAmount <= 0:
		return ReferralBonus{}, fmt.Errorf("%w: referral bonus %s amount %d", ErrMalformed, id, b.BonusAmount)
	case b.Status != BonusPaid && b.Status != BonusFailed:
		return ReferralBonus{}, fmt.Errorf("%w: referral bonus %s status %q", ErrMalformed, id, b.Status)
	}
	return b, nil
}
