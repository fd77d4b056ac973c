package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type refundCall struct {
	orderID string
	amount  int64
	reason  string
}

type stubRefunder struct {
	calls []refundCall
	err   error
}

func (s *stubRefunder) Refund(_ context.Context, orderID string, amount int64, reason string) error {
	s.calls = append(s.calls, refundCall{orderID: orderID, amount: amount, reason: reason})
	return s.err
}

func TestNewRefundTaskRoundtrip(t *testing.T) {
	task, err := NewRefundTask(RefundPayload{OrderID: "42", Amount: 5000, Reason: "damaged"})
	require.NoError(t, err)
	require.Equal(t, TypeRefundPropagate, task.Type())

	var payload RefundPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, RefundPayload{OrderID: "42", Amount: 5000, Reason: "damaged"}, payload)
}

func TestRefundHandlerProcessTask(t *testing.T) {
	refunder := &stubRefunder{}
	handler := &RefundHandler{Service: refunder, Logger: zerolog.Nop()}

	task, err := NewRefundTask(RefundPayload{OrderID: "42", Amount: 5000, Reason: "damaged"})
	require.NoError(t, err)
	require.NoError(t, handler.ProcessTask(context.Background(), task))
	require.Equal(t, []refundCall{{orderID: "42", amount: 5000, reason: "damaged"}}, refunder.calls)
}

func TestRefundHandlerPropagatesServiceError(t *testing.T) {
	refunder := &stubRefunder{err: errors.New("order store unreachable")}
	handler := &RefundHandler{Service: refunder, Logger: zerolog.Nop()}

	task, err := NewRefundTask(RefundPayload{OrderID: "42", Amount: 5000})
	require.NoError(t, err)
	require.Error(t, handler.ProcessTask(context.Background(), task))
}

func TestRefundHandlerMalformedPayloadSkipsRetry(t *testing.T) {
	handler := &RefundHandler{Service: &stubRefunder{}, Logger: zerolog.Nop()}

	err := handler.ProcessTask(context.Background(), asynq.NewTask(TypeRefundPropagate, []byte("{not json")))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
