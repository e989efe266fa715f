// Package retry повторяет операции, завершившиеся временной ошибкой.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/UkralStul/fexora/internal/domain"
)

// JitterFactor - разброс задержки, ±20%.
const JitterFactor = 0.2

// Policy задает число попыток и экспоненциальную задержку между ними.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy - три попытки, 100ms, 200ms.
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}

// NoRetry выполняет операцию ровно один раз.
var NoRetry = Policy{MaxAttempts: 1}

// Delay возвращает задержку перед повтором номер attempt (с нуля) с учетом разброса.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	jitter := (rand.Float64()*2 - 1) * float64(d) * JitterFactor
	return time.Duration(float64(d) + jitter)
}

// Do вызывает fn, пока она возвращает domain.KindTransient и попытки не исчерпаны.
// Остальные ошибки возвращаются сразу.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil || !domain.IsTransient(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
