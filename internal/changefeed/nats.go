package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "fexora.changes."

// NATS - брокер поверх core NATS.
type NATS struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*nats.Subscription]natsSubscriber
}

type natsSubscriber struct {
	remove func()
	resync chan struct{}
}

// NewNATS подключается к серверу NATS. После переподключения каждый подписчик
// получает OpResync: core NATS не хранит сообщения, пришедшие во время обрыва.
func NewNATS(url string, logger *slog.Logger) (*NATS, error) {
	n := &NATS{
		logger: logger.With("component", "changefeed.nats"),
		subs:   make(map[*nats.Subscription]natsSubscriber),
	}
	nc, err := nats.Connect(url,
		nats.Name("fexora"),
		nats.MaxReconnects(-1),
		nats.ReconnectHandler(func(*nats.Conn) {
			n.logger.Info("connection restored")
			n.resync()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	n.conn = nc
	return n, nil
}

func (n *NATS) resync() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.subs {
		select {
		case s.resync <- struct{}{}:
		default:
		}
	}
}

func (n *NATS) Publish(ctx context.Context, ev Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(natsSubjectPrefix+ev.Collection, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(ctx context.Context, collection string) (<-chan Event, func(), error) {
	if n.conn.IsClosed() {
		return nil, nil, ErrClosed
	}

	msgs := make(chan *nats.Msg, subscriberBuffer)
	sub, err := n.conn.ChanSubscribe(natsSubjectPrefix+collection, msgs)
	if err != nil {
		return nil, nil, fmt.Errorf("nats subscribe: %w", err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	resync := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case <-resync:
				offer(out, NewResyncEvent(collection, time.Now()))
			case msg := <-msgs:
				ev, err := decodeEvent(msg.Data)
				if err != nil {
					n.logger.Warn("skipping malformed event", "error", err)
					continue
				}
				offer(out, ev)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil && !n.conn.IsClosed() {
				n.logger.Warn("nats unsubscribe failed", "error", err)
			}
			close(done)
			n.mu.Lock()
			delete(n.subs, sub)
			n.mu.Unlock()
		})
	}
	n.mu.Lock()
	n.subs[sub] = natsSubscriber{remove: remove, resync: resync}
	n.mu.Unlock()

	stop := context.AfterFunc(ctx, remove)
	return out, func() { stop(); remove() }, nil
}

func (n *NATS) Close() error {
	n.mu.Lock()
	removers := make([]func(), 0, len(n.subs))
	for _, s := range n.subs {
		removers = append(removers, s.remove)
	}
	n.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	n.conn.Close()
	return nil
}

var _ Broker = (*NATS)(nil)
