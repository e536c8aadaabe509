package alerts

import "time"

// Task type constants
const (
	TaskReferralDetected  = "event:referral_detected"
	TaskBonusPaid         = "email:bonus_paid"
	TaskWithdrawalDecided = "email:withdrawal_decided"
)

// Queue names and their worker priorities.
const (
	QueueEmails = "emails"
	QueueEvents = "events"
)

// Common envelope for email-like notifications
type EmailEnvelope struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Referral link seen on an entry page; analytics only, no email.
type ReferralDetectedPayload struct {
	Code       string    `json:"code"`
	Source     string    `json:"source"`
	DetectedAt time.Time `json:"detected_at"`
}

// Bonus paid payload, one envelope per party.
type BonusPaidPayload struct {
	ReferrerID string          `json:"referrer_id"`
	ReferredID string          `json:"referred_id"`
	Amount     int64           `json:"amount"`
	Envelopes  []EmailEnvelope `json:"envelopes"`
	SentAt     time.Time       `json:"sent_at"`
}

// Withdrawal decided payload (sent to the requesting account)
type WithdrawalDecidedPayload struct {
	WithdrawalID string        `json:"withdrawal_id"`
	AccountID    string        `json:"account_id"`
	Status       string        `json:"status"`
	Amount       int64         `json:"amount"`
	Envelope     EmailEnvelope `json:"envelope"`
	SentAt       time.Time     `json:"sent_at"`
}
