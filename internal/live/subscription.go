// Package live реализует подписки, которые выдают полные снимки результата запроса.
package live

import (
	"context"
	"sync"
)

// Snapshot - очередной полный результат запроса или ошибка его получения.
type Snapshot[T any] struct {
	Value T
	Err   error
}

// Subscription выдает снимки в канал C. Непрочитанный снимок заменяется более новым,
// поэтому медленный потребитель видит последнее состояние, а не очередь устаревших.
type Subscription[T any] struct {
	ch     chan Snapshot[T]
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newSubscription[T any](parent context.Context) (*Subscription[T], context.Context) {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription[T]{
		ch:     make(chan Snapshot[T], 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}, ctx
}

// C возвращает канал снимков. Канал закрывается после остановки подписки.
func (s *Subscription[T]) C() <-chan Snapshot[T] { return s.ch }

// Done закрывается, когда подписка полностью остановлена.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Cancel останавливает подписку и дожидается освобождения ресурсов.
// Повторные вызовы ничего не делают.
func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
	<-s.done
}

// offer кладет снимок в буфер, вытесняя непрочитанный. Пишет только рабочая горутина.
func (s *Subscription[T]) offer(snap Snapshot[T]) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *Subscription[T]) finish(onStop func()) {
	s.once.Do(s.cancel)
	close(s.ch)
	if onStop != nil {
		onStop()
	}
	close(s.done)
}

// Run выполняет load сразу и затем после каждого сигнала из triggers.
// Подписка завершается при отмене ctx, закрытии triggers или вызове Cancel;
// после этого вызывается onStop.
func Run[T any](ctx context.Context, triggers <-chan struct{}, load func(context.Context) (T, error), onStop func()) *Subscription[T] {
	s, ctx := newSubscription[T](ctx)
	go func() {
		defer s.finish(onStop)

		if !s.emit(ctx, load) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-triggers:
				if !ok {
					return
				}
				if !s.emit(ctx, load) {
					return
				}
			}
		}
	}()
	return s
}

func (s *Subscription[T]) emit(ctx context.Context, load func(context.Context) (T, error)) bool {
	v, err := load(ctx)
	if ctx.Err() != nil {
		return false
	}
	s.offer(Snapshot[T]{Value: v, Err: err})
	return true
}

// Transform строит подписку, которая преобразует каждый снимок src функцией fn.
// Ошибка снимка src передается дальше как есть. Остановка результата останавливает src.
func Transform[A, B any](ctx context.Context, src *Subscription[A], fn func(context.Context, A) (B, error)) *Subscription[B] {
	s, ctx := newSubscription[B](ctx)
	go func() {
		defer s.finish(src.Cancel)

		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-src.C():
				if !ok {
					return
				}
				if snap.Err != nil {
					var zero B
					s.offer(Snapshot[B]{Value: zero, Err: snap.Err})
					continue
				}
				v, err := fn(ctx, snap.Value)
				if ctx.Err() != nil {
					return
				}
				s.offer(Snapshot[B]{Value: v, Err: err})
			}
		}
	}()
	return s
}

// Signal превращает поток событий в поток сигналов "есть изменения".
// Сигналы схлопываются: пока предыдущий не прочитан, новые не добавляются.
// Канал закрывается вместе с events.
func Signal[E any](events <-chan E, match func(E) bool) <-chan struct{} {
	triggers := make(chan struct{}, 1)
	go func() {
		defer close(triggers)
		for ev := range events {
			if match != nil && !match(ev) {
				continue
			}
			select {
			case triggers <- struct{}{}:
			default:
			}
		}
	}()
	return triggers
}
