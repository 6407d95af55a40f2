package retry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy задаёт бюджет попыток и экспоненциальную задержку для топика.
type Policy struct {
	// Attempts: общее число вызовов обработчика (первичный + повторные).
	Attempts    int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	RetrySuffix string
	DLTSuffix   string
}

// DefaultPolicy возвращает политику по умолчанию: 4 попытки, 1s, x2, не больше 10s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:    4,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    10 * time.Second,
		RetrySuffix: "-retry",
		DLTSuffix:   "-dlt",
	}
}

// Validate проверяет, что политика пригодна для работы.
func (p Policy) Validate() error {
	switch {
	case p.Attempts < 1:
		return errors.New("retry: attempts must be at least 1")
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return errors.New("retry: delays must be non-negative")
	case p.Multiplier < 1:
		return errors.New("retry: multiplier must be >= 1")
	case p.RetrySuffix == "" || p.DLTSuffix == "":
		return errors.New("retry: topic suffixes are required")
	case p.RetrySuffix == p.DLTSuffix:
		return errors.New("retry: retry and dlt suffixes must differ")
	}
	return nil
}

// Backoff возвращает задержку после неудачной попытки attempt (нумерация с 1):
// min(BaseDelay * Multiplier^(attempt-1), MaxDelay).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// RetryTopic возвращает топик n-го повтора (n с 0): "<topic>-retry-<n>".
func (p Policy) RetryTopic(topic string, n int) string {
	return topic + p.RetrySuffix + "-" + strconv.Itoa(n)
}

// DLTTopic возвращает dead-letter топик.
func (p Policy) DLTTopic(topic string) string {
	return topic + p.DLTSuffix
}

// Topics перечисляет все топики, на которые подписывается потребитель базового топика.
func (p Policy) Topics(topic string) []string {
	out := make([]string, 0, p.Attempts+1)
	out = append(out, topic)
	for n := 0; n < p.Attempts-1; n++ {
		out = append(out, p.RetryTopic(topic, n))
	}
	return append(out, p.DLTTopic(topic))
}

// BaseTopic восстанавливает базовый топик из имени retry- или DLT-топика.
func (p Policy) BaseTopic(topic string) string {
	if base, ok := strings.CutSuffix(topic, p.DLTSuffix); ok {
		return base
	}
	if i := strings.LastIndex(topic, p.RetrySuffix+"-"); i > 0 {
		if _, err := strconv.Atoi(topic[i+len(p.RetrySuffix)+1:]); err == nil {
			return topic[:i]
		}
	}
	return topic
}

func (p Policy) String() string {
	return fmt.Sprintf("attempts=%d base=%s x%.1f max=%s", p.Attempts, p.BaseDelay, p.Multiplier, p.MaxDelay)
}
