package alerts

import (
	"context"
	"log/slog"

	"github.com/sudo-init-do/channelhub/internal/model"
	"github.com/sudo-init-do/channelhub/internal/referral"
)

// LogNotifier records events in the log when no queue is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "alerts")}
}

func (n *LogNotifier) ReferralDetected(_ context.Context, code string, source referral.Source) error {
	n.logger.Info("referral detected", "code", code, "source", source)
	return nil
}

func (n *LogNotifier) BonusPaid(_ context.Context, referrerID, referredID string, amount int64) error {
	n.logger.Info("bonus paid", "referrer", referrerID, "referred", referredID, "amount", amount)
	return nil
}

func (n *LogNotifier) WithdrawalDecided(_ context.Context, w model.Withdrawal) error {
	n.logger.Info("withdrawal decided", "withdrawal", w.ID, "account", w.AccountID, "status", w.Status)
	return nil
}
