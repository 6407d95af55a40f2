package domain

import "time"

// DeadLetter сохраняет контекст сообщения, исчерпавшего бюджет попыток.
type DeadLetter struct {
	ID        string
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Payload   []byte
	EventType string
	Error     string
	Attempts  int
	FailedAt  time.Time
}
