package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/referral"
)

// Enqueuer is the part of *asynq.Client the queue needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Directory resolves account ids to contact details.
type Directory interface {
	Account(ctx context.Context, id string) (model.Account, error)
}

// Queue turns domain events into asynq tasks. It satisfies the notifier
// interfaces of the referral, bonus and withdrawal packages.
type Queue struct {
	client Enqueuer
	dir    Directory
	appURL string
	logger *slog.Logger
	now    func() time.Time
}

// NewQueue builds a task producer. appURL is linked from email bodies.
func NewQueue(client Enqueuer, dir Directory, appURL string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if appURL == "" {
		appURL = "http://localhost:3000"
	}
	return &Queue{
		client: client,
		dir:    dir,
		appURL: strings.TrimRight(appURL, "/"),
		logger: logger.With("component", "alerts"),
		now:    time.Now,
	}
}

// ReferralDetected records that an entry page carried a referral code.
func (q *Queue) ReferralDetected(ctx context.Context, code string, source referral.Source) error {
	payload := ReferralDetectedPayload{Code: code, Source: string(source), DetectedAt: q.now()}
	return q.enqueue(ctx, TaskReferralDetected, payload, asynq.Queue(QueueEvents), asynq.MaxRetry(1))
}

// BonusPaid emails both parties of a paid attribution.
func (q *Queue) BonusPaid(ctx context.Context, referrerID, referredID string, amount int64) error {
	referrer, err := q.dir.Account(ctx, referrerID)
	if err != nil {
		return fmt.Errorf("lookup referrer: %w", err)
	}
	referred, err := q.dir.Account(ctx, referredID)
	if err != nil {
		return fmt.Errorf("lookup referred: %w", err)
	}

	envelopes := []EmailEnvelope{
		{
			To:      referrer.Email,
			Subject: fmt.Sprintf("You earned %d for inviting %s", amount, referred.DisplayName),
			Body: fmt.Sprintf("Hi %s,\n\n%s joined ChannelHub with your referral code %s. %d has been added to your wallet.\n\nOpen your wallet: %s/wallet",
				referrer.DisplayName, referred.DisplayName, referrer.ReferralCode, amount, q.appURL),
		},
		{
			To:      referred.Email,
			Subject: fmt.Sprintf("Welcome to ChannelHub, %s!", referred.DisplayName),
			Body: fmt.Sprintf("Hi %s,\n\nThanks for joining through %s's invite. %d has been added to your wallet as a welcome bonus.\n\nOpen ChannelHub: %s",
				referred.DisplayName, referrer.DisplayName, amount, q.appURL),
		},
	}
	payload := BonusPaidPayload{
		ReferrerID: referrerID,
		ReferredID: referredID,
		Amount:     amount,
		Envelopes:  envelopes,
		SentAt:     q.now(),
	}
	return q.enqueue(ctx, TaskBonusPaid, payload, asynq.Queue(QueueEmails))
}

// WithdrawalDecided tells the account owner how their request was settled.
func (q *Queue) WithdrawalDecided(ctx context.Context, w model.Withdrawal) error {
	acct, err := q.dir.Account(ctx, w.AccountID)
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}

	env := EmailEnvelope{To: acct.Email}
	switch w.Status {
	case model.WithdrawalApproved:
		env.Subject = "Your withdrawal has been approved"
		env.Body = fmt.Sprintf("Hi %s,\n\nYour withdrawal %s of %d via %s was approved and is on its way.\n\nWallet: %s/wallet",
			acct.DisplayName, w.ID, w.Amount, w.Method, q.appURL)
	case model.WithdrawalRejected:
		env.Subject = "Your withdrawal was rejected"
		env.Body = fmt.Sprintf("Hi %s,\n\nYour withdrawal %s of %d was rejected: %s\n\nYour balance was not charged.",
			acct.DisplayName, w.ID, w.Amount, w.RejectionReason)
	default:
		return fmt.Errorf("withdrawal %s is still %s", w.ID, w.Status)
	}

	payload := WithdrawalDecidedPayload{
		WithdrawalID: w.ID,
		AccountID:    w.AccountID,
		Status:       w.Status,
		Amount:       w.Amount,
		Envelope:     env,
		SentAt:       q.now(),
	}
	return q.enqueue(ctx, TaskWithdrawalDecided, payload, asynq.Queue(QueueEmails))
}

func (q *Queue) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", taskType, err)
	}
	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, b), opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	q.logger.Debug("task enqueued", "type", taskType, "id", info.ID, "queue", info.Queue)
	return nil
}
