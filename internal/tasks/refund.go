// Package tasks defines the background jobs the gateway hands off to the
// worker process.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TypeRefundPropagate asks the worker to notify the provider about a local
// refund.
const TypeRefundPropagate = "orkesta:refund"

// RefundPayload is the task body for refund propagation. Amount is in minor
// currency units.
type RefundPayload struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason,omitempty"`
}

// NewRefundTask builds the asynq task for a refund propagation.
func NewRefundTask(p RefundPayload) (*asynq.Task, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode refund payload: %w", err)
	}
	return asynq.NewTask(TypeRefundPropagate, body, asynq.MaxRetry(5)), nil
}

// Enqueuer submits gateway tasks through an asynq client.
type Enqueuer struct {
	Client *asynq.Client
	Logger zerolog.Logger
}

// EnqueueRefund queues refund propagation for the worker.
func (e *Enqueuer) EnqueueRefund(ctx context.Context, orderID string, amount int64, reason string) error {
	task, err := NewRefundTask(RefundPayload{OrderID: orderID, Amount: amount, Reason: reason})
	if err != nil {
		return err
	}
	info, err := e.Client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue refund: %w", err)
	}
	e.Logger.Info().
		Str("task_id", info.ID).
		Str("order_id", orderID).
		Int64("amount", amount).
		Msg("refund task enqueued")
	return nil
}

// Refunder is the slice of the gateway service the worker needs.
type Refunder interface {
	Refund(ctx context.Context, orderID string, amount int64, reason string) error
}

// RefundHandler processes refund propagation tasks.
type RefundHandler struct {
	Service Refunder
	Logger  zerolog.Logger
}

// ProcessTask implements asynq.Handler. The service already treats upstream
// refund failures as non-fatal, so an error returned here means the task
// itself is malformed or local state is unreachable.
func (h *RefundHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload RefundPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode refund payload: %w: %w", err, asynq.SkipRetry)
	}
	if err := h.Service.Refund(ctx, payload.OrderID, payload.Amount, payload.Reason); err != nil {
		h.Logger.Error().Err(err).Str("order_id", payload.OrderID).Msg("refund propagation errored")
		return err
	}
	return nil
}
