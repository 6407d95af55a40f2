package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *captureSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *captureSender) drain() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

type countingRecorder struct {
	outcomes    map[string]int
	deadLetters int
}

func (r *countingRecorder) RecordPipelineAttempt(_ string, outcome string) {
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func (r *countingRecorder) RecordDeadLetter(string) { r.deadLetters++ }

type fixture struct {
	pipeline *Pipeline
	sender   *captureSender
	dead     []Message
	sleeps   []time.Duration
	recorder *countingRecorder
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sender:   &captureSender{},
		recorder: &countingRecorder{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	p, err := NewPipeline(DefaultPolicy(), f.sender,
		func(_ context.Context, msg Message) { f.dead = append(f.dead, msg) },
		WithClock(func() time.Time { return f.now }),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
		WithRecorder(f.recorder),
	)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

// run прогоняет сообщение и все его пересылки, как это сделал бы брокер.
func (f *fixture) run(t *testing.T, msg Message) {
	t.Helper()
	queue := []Message{msg}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		require.NoError(t, f.pipeline.Process(context.Background(), next))
		queue = append(queue, f.sender.drain()...)
	}
}

func TestPipeline_AlwaysFailingHandlerIsBounded(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.pipeline.Register("order.cancelled", func(context.Context, Message) error {
		calls++
		return errors.New("db is down")
	})

	f.run(t, Message{Topic: "order.cancelled", Key: []byte("order-1"), Value: []byte(`{"order_id":"1"}`)})

	assert.Equal(t, 4, calls)
	require.Len(t, f.dead, 1)
	dead := f.dead[0]
	assert.Equal(t, "order.cancelled-dlt", dead.Topic)
	assert.Equal(t, "order.cancelled", dead.Header(HeaderOriginalTopic))
	assert.Equal(t, "4", dead.Header(HeaderAttempt))
	assert.Equal(t, "db is down", dead.Header(HeaderErrorMessage))
	assert.Empty(t, dead.Header(HeaderNotBefore))
	assert.Equal(t, []byte("order-1"), dead.Key)

	// Каждый повтор ждёт свою задержку: 1s, 2s, 4s.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, f.sleeps)
	assert.Equal(t, 3, f.recorder.outcomes[OutcomeRetry])
	assert.Equal(t, 1, f.recorder.outcomes[OutcomeDeadLetter])
	assert.Equal(t, 1, f.recorder.deadLetters)
}

func TestPipeline_RecoversOnRetry(t *testing.T) {
	f := newFixture(t)
	calls := 0
	f.pipeline.Register("payment.confirmed", func(context.Context, Message) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	f.run(t, Message{Topic: "payment.confirmed", Value: []byte(`{}`)})

	assert.Equal(t, 3, calls)
	assert.Empty(t, f.dead)
	assert.Equal(t, 1, f.recorder.outcomes[OutcomeSuccess])
}

func TestPipeline_RetryTopicsAreIndexed(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Register("stock.rejected", func(context.Context, Message) error { return errors.New("boom") })

	require.NoError(t, f.pipeline.Process(context.Background(), Message{Topic: "stock.rejected"}))
	sent := f.sender.drain()
	require.Len(t, sent, 1)
	assert.Equal(t, "stock.rejected-retry-0", sent[0].Topic)
	assert.Equal(t, "2", sent[0].Header(HeaderAttempt))
	assert.Equal(t, f.now.Add(time.Second).Format(time.RFC3339Nano), sent[0].Header(HeaderNotBefore))

	require.NoError(t, f.pipeline.Process(context.Background(), sent[0]))
	sent = f.sender.drain()
	require.Len(t, sent, 1)
	assert.Equal(t, "stock.rejected-retry-1", sent[0].Topic)
	assert.Equal(t, "3", sent[0].Header(HeaderAttempt))
}

func TestPipeline_PanicIsTreatedAsError(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Register("shipping.started", func(context.Context, Message) error { panic("nil map") })

	require.NoError(t, f.pipeline.Process(context.Background(), Message{Topic: "shipping.started"}))
	sent := f.sender.drain()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Header(HeaderErrorMessage), "handler panic: nil map")
}

func TestPipeline_ForwardFailureKeepsOffset(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("broker unreachable")
	f.pipeline.Register("shipping.delivered", func(context.Context, Message) error { return errors.New("fail") })

	err := f.pipeline.Process(context.Background(), Message{Topic: "shipping.delivered"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shipping.delivered-retry-0")
	assert.Equal(t, 1, f.recorder.outcomes[OutcomeForwardFail])
}

func TestPipeline_UnknownTopicIsSkipped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pipeline.Process(context.Background(), Message{Topic: "unknown"}))
	assert.Empty(t, f.sender.drain())
	assert.Equal(t, 1, f.recorder.outcomes[OutcomeSkipped])
}

func TestPipeline_DeadLetterHandlerPanicIsSwallowed(t *testing.T) {
	sender := &captureSender{}
	p, err := NewPipeline(DefaultPolicy(), sender, func(context.Context, Message) { panic("oops") })
	require.NoError(t, err)
	p.Register("coupon.restored", func(context.Context, Message) error { return nil })

	assert.NoError(t, p.Process(context.Background(), Message{Topic: "coupon.restored-dlt"}))
}

func TestPipeline_WaitIsCancellable(t *testing.T) {
	sender := &captureSender{}
	p, err := NewPipeline(DefaultPolicy(), sender, func(context.Context, Message) {})
	require.NoError(t, err)
	called := false
	p.Register("exchange.shipping", func(context.Context, Message) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Process(ctx, Message{
		Topic:   "exchange.shipping-retry-0",
		Headers: map[string]string{HeaderNotBefore: time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)},
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestPipeline_Subscriptions(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Register("b.topic", func(context.Context, Message) error { return nil })
	f.pipeline.Register("a.topic", func(context.Context, Message) error { return nil })

	subs := f.pipeline.Subscriptions()
	assert.Len(t, subs, 10)
	assert.Equal(t, "a.topic", subs[0])
	assert.Contains(t, subs, "b.topic-dlt")
}

func TestNewPipelineValidation(t *testing.T) {
	_, err := NewPipeline(Policy{}, &captureSender{}, func(context.Context, Message) {})
	require.Error(t, err)
	_, err = NewPipeline(DefaultPolicy(), nil, func(context.Context, Message) {})
	require.Error(t, err)
	_, err = NewPipeline(DefaultPolicy(), &captureSender{}, nil)
	require.Error(t, err)
}
