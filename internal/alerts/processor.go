package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
)

// Processor handles alert tasks pulled off the queue.
type Processor struct {
	mailer Mailer
	logger *slog.Logger
}

// NewProcessor returns task handlers that deliver mail through m.
func NewProcessor(m Mailer, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{mailer: m, logger: logger.With("component", "alerts")}
}

// Mux routes every alert task type to its handler.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskReferralDetected, p.handleReferralDetected)
	mux.HandleFunc(TaskBonusPaid, p.handleBonusPaid)
	mux.HandleFunc(TaskWithdrawalDecided, p.handleWithdrawalDecided)
	return mux
}

func (p *Processor) handleReferralDetected(_ context.Context, t *asynq.Task) error {
	var pl ReferralDetectedPayload
	if err := decode(t, &pl); err != nil {
		return err
	}
	p.logger.Info("referral detected", "code", pl.Code, "source", pl.Source, "at", pl.DetectedAt)
	return nil
}

func (p *Processor) handleBonusPaid(ctx context.Context, t *asynq.Task) error {
	var pl BonusPaidPayload
	if err := decode(t, &pl); err != nil {
		return err
	}
	var errs []error
	for _, env := range pl.Envelopes {
		if err := p.mailer.Send(ctx, env); err != nil {
			p.logger.Error("bonus email failed", "to", env.To, "referrer", pl.ReferrerID, "err", err)
			errs = append(errs, err)
			continue
		}
		p.logger.Info("bonus email sent", "to", env.To, "referrer", pl.ReferrerID, "referred", pl.ReferredID)
	}
	return errors.Join(errs...)
}

func (p *Processor) handleWithdrawalDecided(ctx context.Context, t *asynq.Task) error {
	var pl WithdrawalDecidedPayload
	if err := decode(t, &pl); err != nil {
		return err
	}
	if err := p.mailer.Send(ctx, pl.Envelope); err != nil {
		p.logger.Error("withdrawal email failed", "withdrawal", pl.WithdrawalID, "err", err)
		return err
	}
	p.logger.Info("withdrawal email sent", "withdrawal", pl.WithdrawalID, "status", pl.Status, "to", pl.Envelope.To)
	return nil
}

// decode rejects unparseable payloads without retrying them.
func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// Worker runs a Processor on an asynq server.
type Worker struct {
	server *asynq.Server
	proc   *Processor
}

// NewWorker connects to Redis at addr.
func NewWorker(addr string, proc *Processor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: addr}, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			QueueEmails: 10,
			QueueEvents: 5,
		},
		Logger: asynqLogger{logger.With("component", "asynq")},
	})
	return &Worker{server: srv, proc: proc}
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	return w.server.Start(w.proc.Mux())
}

// Shutdown waits for in-flight tasks and stops the server.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

// NewClient returns a task producer for addr.
func NewClient(addr string) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: addr})
}

type asynqLogger struct{ l *slog.Logger }

func (a asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...any) {
	a.l.Error(fmt.Sprint(args...))
	os.Exit(1)
}
