package retry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type topicKind int

const (
	kindMain topicKind = iota
	kindRetry
	kindDLT
)

type route struct {
	base  string
	kind  topicKind
	index int
}

// Pipeline оборачивает обработчики топиков: повторы через индексированные retry-топики
// с экспоненциальной задержкой и парковка в DLT после исчерпания попыток.
type Pipeline struct {
	policy     Policy
	sender     Sender
	deadLetter DeadLetterHandler
	handlers   map[string]Handler
	routes     map[string]route

	logger   *log.Entry
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	tracer   trace.Tracer
	recorder Recorder
}

// Option настраивает Pipeline.
type Option func(*Pipeline)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSleeper подменяет ожидание до x-not-before (используется в тестах).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Pipeline) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithTracer задаёт tracer OpenTelemetry.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithRecorder подключает метрики.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// NewPipeline создаёт пайплайн. sender используется для пересылки в retry/DLT топики.
func NewPipeline(policy Policy, sender Sender, deadLetter DeadLetterHandler, opts ...Option) (*Pipeline, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, errors.New("retry: sender is required")
	}
	if deadLetter == nil {
		return nil, errors.New("retry: dead letter handler is required")
	}

	p := &Pipeline{
		policy:     policy,
		sender:     sender,
		deadLetter: deadLetter,
		handlers:   make(map[string]Handler),
		routes:     make(map[string]route),
		logger:     log.WithField("component", "retry-pipeline"),
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      sleepContext,
		tracer:     otel.Tracer("github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Register подписывает обработчик на базовый топик вместе с его retry- и DLT-топиками.
func (p *Pipeline) Register(topic string, h Handler) {
	p.handlers[topic] = h
	p.routes[topic] = route{base: topic, kind: kindMain}
	for n := 0; n < p.policy.Attempts-1; n++ {
		p.routes[p.policy.RetryTopic(topic, n)] = route{base: topic, kind: kindRetry, index: n}
	}
	p.routes[p.policy.DLTTopic(topic)] = route{base: topic, kind: kindDLT}
}

// Subscriptions возвращает отсортированный список всех топиков для подписки.
func (p *Pipeline) Subscriptions() []string {
	out := make([]string, 0, len(p.routes))
	for t := range p.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Policy возвращает политику пайплайна.
func (p *Pipeline) Policy() Policy {
	return p.policy
}

// Process обрабатывает одно сообщение. nil означает, что offset можно коммитить:
// сообщение обработано, переслано на повтор или припарковано в DLT.
// Ошибка возвращается только если пересылка не удалась или ожидание прервано контекстом.
func (p *Pipeline) Process(ctx context.Context, msg Message) error {
	r, ok := p.routes[msg.Topic]
	if !ok {
		p.logger.WithField("topic", msg.Topic).Warn("no handler registered for topic, skipping")
		p.record(msg.Topic, OutcomeSkipped)
		return nil
	}

	if r.kind == kindDLT {
		p.handleDeadLetter(ctx, msg)
		return nil
	}

	attempt := msg.Attempt()
	if attempt == 0 {
		attempt = 1
		if r.kind == kindRetry {
			attempt = r.index + 2
		}
	}

	if err := p.waitNotBefore(ctx, msg); err != nil {
		return err
	}

	ctx, span := p.tracer.Start(ctx, "retry.process", trace.WithAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.String("messaging.base_topic", r.base),
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("messaging.offset", msg.Offset),
	))
	defer span.End()

	handlerErr := p.invoke(ctx, p.handlers[r.base], msg)
	if handlerErr == nil {
		p.record(r.base, OutcomeSuccess)
		return nil
	}
	span.RecordError(handlerErr)
	span.SetStatus(codes.Error, handlerErr.Error())

	entry := p.logger.WithError(handlerErr).WithFields(log.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"attempt":   attempt,
		"attempts":  p.policy.Attempts,
	})

	now := p.now()
	if attempt < p.policy.Attempts {
		delay := p.policy.Backoff(attempt)
		next := msg.forward(p.policy.RetryTopic(r.base, attempt-1), map[string]string{
			HeaderOriginalTopic: r.base,
			HeaderAttempt:       strconv.Itoa(attempt + 1),
			HeaderNotBefore:     now.Add(delay).Format(time.RFC3339Nano),
			HeaderErrorMessage:  handlerErr.Error(),
			HeaderFailedAt:      now.Format(time.RFC3339Nano),
		})
		if err := p.sender.Send(ctx, next); err != nil {
			p.record(r.base, OutcomeForwardFail)
			entry.WithError(err).Error("failed to forward message to retry topic")
			return fmt.Errorf("forward to %s: %w", next.Topic, err)
		}
		p.record(r.base, OutcomeRetry)
		entry.WithFields(log.Fields{"retry_topic": next.Topic, "delay": delay}).Warn("handler failed, scheduled retry")
		return nil
	}

	dlt := msg.forward(p.policy.DLTTopic(r.base), map[string]string{
		HeaderOriginalTopic: r.base,
		HeaderAttempt:       strconv.Itoa(attempt),
		HeaderErrorMessage:  handlerErr.Error(),
		HeaderFailedAt:      now.Format(time.RFC3339Nano),
	})
	delete(dlt.Headers, HeaderNotBefore)
	if err := p.sender.Send(ctx, dlt); err != nil {
		p.record(r.base, OutcomeForwardFail)
		entry.WithError(err).Error("failed to forward message to dead letter topic")
		return fmt.Errorf("forward to %s: %w", dlt.Topic, err)
	}
	p.record(r.base, OutcomeDeadLetter)
	entry.WithField("dlt_topic", dlt.Topic).Error("attempts exhausted, message parked in dead letter topic")
	return nil
}

func (p *Pipeline) invoke(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

func (p *Pipeline) handleDeadLetter(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(log.Fields{
				"topic":  msg.Topic,
				"offset": msg.Offset,
				"panic":  r,
			}).Error("dead letter handler panicked")
		}
	}()
	if p.recorder != nil {
		p.recorder.RecordDeadLetter(msg.OriginalTopic())
	}
	p.deadLetter(ctx, msg)
}

func (p *Pipeline) waitNotBefore(ctx context.Context, msg Message) error {
	raw := msg.Header(HeaderNotBefore)
	if raw == "" {
		return nil
	}
	notBefore, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		p.logger.WithError(err).WithField("topic", msg.Topic).Warn("invalid x-not-before header, processing immediately")
		return nil
	}
	d := notBefore.Sub(p.now())
	if d <= 0 {
		return nil
	}
	return p.sleep(ctx, d)
}

func (p *Pipeline) record(topic, outcome string) {
	if p.recorder != nil {
		p.recorder.RecordPipelineAttempt(topic, outcome)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
