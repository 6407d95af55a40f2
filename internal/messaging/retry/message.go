package retry

import (
	"context"
	"strconv"
	"time"
)

// Заголовки, которыми пайплайн сопровождает повторы и dead-letter сообщения.
const (
	HeaderOriginalTopic = "x-original-topic"
	HeaderAttempt       = "x-attempt"
	HeaderNotBefore     = "x-not-before"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// Message: сообщение брокера в независимом от клиента виде.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Header возвращает значение заголовка или пустую строку.
func (m Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// Attempt возвращает номер попытки из заголовка; 0, если заголовка нет или он испорчен.
func (m Message) Attempt() int {
	n, err := strconv.Atoi(m.Header(HeaderAttempt))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// OriginalTopic возвращает исходный топик; для сообщений без заголовка возвращается текущий.
func (m Message) OriginalTopic() string {
	if t := m.Header(HeaderOriginalTopic); t != "" {
		return t
	}
	return m.Topic
}

func (m Message) forward(topic string, headers map[string]string) Message {
	merged := make(map[string]string, len(m.Headers)+len(headers))
	for k, v := range m.Headers {
		merged[k] = v
	}
	for k, v := range headers {
		merged[k] = v
	}
	return Message{
		Topic:   topic,
		Key:     m.Key,
		Value:   m.Value,
		Headers: merged,
	}
}

// Handler обрабатывает сообщение. Ошибка запускает повтор, nil считается успехом.
type Handler func(ctx context.Context, msg Message) error

// DeadLetterHandler: терминальный обработчик DLT. Не возвращает ошибок.
type DeadLetterHandler func(ctx context.Context, msg Message)

// Sender отправляет сообщение в брокер (retry- или DLT-топик).
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Recorder принимает метрики пайплайна.
type Recorder interface {
	RecordPipelineAttempt(topic, outcome string)
	RecordDeadLetter(topic string)
}

// Исходы попытки для метрик.
const (
	OutcomeSuccess     = "success"
	OutcomeRetry       = "retry"
	OutcomeDeadLetter  = "dead_letter"
	OutcomeSkipped     = "skipped"
	OutcomeForwardFail = "forward_failed"
)
