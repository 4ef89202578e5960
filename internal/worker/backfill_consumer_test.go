package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliancekb/features/backfill"
	"compliancekb/internal/middleware"
)

type stubRunner struct {
	sum   backfill.Summary
	err   error
	calls int
	limit int
	corr  string
}

func (s *stubRunner) Run(ctx context.Context, limit int) (backfill.Summary, error) {
	s.calls++
	s.limit = limit
	s.corr = middleware.GetCorrelationID(ctx)
	return s.sum, s.err
}

func TestHandleMessage_RunsBatch(t *testing.T) {
	runner := &stubRunner{sum: backfill.Summary{Processed: 2}}
	consumer := NewBackfillConsumer(runner, 25)

	msg := nsq.NewMessage(nsq.MessageID{}, []byte(`{"document_id":"d-1","correlation_id":"corr-42"}`))
	err := consumer.HandleMessage(msg)

	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 25, runner.limit)
	assert.Equal(t, "corr-42", runner.corr)
}

func TestHandleMessage_EmptyBodyIsIgnored(t *testing.T) {
	runner := &stubRunner{}
	consumer := NewBackfillConsumer(runner, 25)

	err := consumer.HandleMessage(nsq.NewMessage(nsq.MessageID{}, nil))

	require.NoError(t, err)
	assert.Equal(t, 0, runner.calls)
}

func TestHandleMessage_PoisonPillIsNotRetried(t *testing.T) {
	runner := &stubRunner{}
	consumer := NewBackfillConsumer(runner, 25)

	err := consumer.HandleMessage(nsq.NewMessage(nsq.MessageID{}, []byte("not json{{")))

	require.NoError(t, err, "invalid json must not requeue forever")
	assert.Equal(t, 0, runner.calls)
}

func TestHandleMessage_BatchFailureRequeues(t *testing.T) {
	runner := &stubRunner{err: errors.New("db gone")}
	consumer := NewBackfillConsumer(runner, 25)

	err := consumer.HandleMessage(nsq.NewMessage(nsq.MessageID{}, []byte(`{"document_id":"d-1"}`)))

	assert.Error(t, err, "infrastructure failure should trigger NSQ retry")
}
