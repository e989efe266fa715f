package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UkralStul/fexora/internal/metrics"
	"github.com/UkralStul/fexora/internal/retry"
)

// DefaultTimeout ограничивает один вызов хранилища, если таймаут не задан.
const DefaultTimeout = 10 * time.Second

// Guard оборачивает вызовы хранилища: таймаут на попытку, повтор временных
// ошибок для идемпотентных операций, метрики и перевод ошибок в доменные.
type Guard struct {
	Timeout time.Duration
	Retry   retry.Policy
	Metrics metrics.Recorder
}

// Do выполняет fn. Неидемпотентные операции не повторяются.
func (g Guard) Do(ctx context.Context, op string, idempotent bool, fn func(ctx context.Context) error) error {
	policy := g.Retry
	if !idempotent {
		policy = retry.NoRetry
	}

	start := time.Now()
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout())
		defer cancel()

		err := fn(callCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return Translate(op, err)
	})

	if g.Metrics != nil {
		g.Metrics.ObserveStoreOp(op, err, time.Since(start))
	}
	return err
}

func (g Guard) timeout() time.Duration {
	if g.Timeout <= 0 {
		return DefaultTimeout
	}
	return g.Timeout
}
