package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "fexora:changes:"

// Redis - брокер поверх Redis Pub/Sub. Подходит для нескольких экземпляров сервиса.
type Redis struct {
	client *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// NewRedisFromClient оборачивает готовый клиент. Клиент закрывается вместе с брокером.
func NewRedisFromClient(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		logger: logger.With("component", "changefeed.redis"),
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, redisChannelPrefix+ev.Collection, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, collection string) (<-chan Event, func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, ErrClosed
	}
	r.mu.Unlock()

	ps := r.client.Subscribe(ctx, redisChannelPrefix+collection)
	// Дожидаемся подтверждения подписки, иначе ранние события потеряются
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	r.mu.Lock()
	r.subs[ps] = struct{}{}
	r.mu.Unlock()

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range ps.ChannelWithSubscriptions() {
			ev, ok := r.eventFrom(collection, msg)
			if ok {
				offer(out, ev)
			}
		}
	}()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ps)
			r.mu.Unlock()
			ps.Close()
		})
	}
	stop := context.AfterFunc(ctx, remove)
	return out, func() { stop(); remove() }, nil
}

// eventFrom переводит сообщение Pub/Sub в событие. Первое подтверждение подписки
// уже прочитано в Subscribe, поэтому повторное означает переподключение клиента:
// сообщения за время обрыва потеряны, и подписчик получает OpResync.
func (r *Redis) eventFrom(collection string, msg interface{}) (Event, bool) {
	switch m := msg.(type) {
	case *redis.Message:
		ev, err := decodeEvent([]byte(m.Payload))
		if err != nil {
			r.logger.Warn("skipping malformed event", "error", err)
			return Event{}, false
		}
		return ev, true
	case *redis.Subscription:
		if m.Kind != "subscribe" {
			return Event{}, false
		}
		r.logger.Info("subscription restored", "collection", collection)
		return NewResyncEvent(collection, time.Now()), true
	}
	return Event{}, false
}

func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := r.subs
	r.subs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()

	for ps := range subs {
		ps.Close()
	}
	return r.client.Close()
}

var _ Broker = (*Redis)(nil)
