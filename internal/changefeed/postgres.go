package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgChannel        = "fexora_changes"
	pgReconnectDelay = time.Second
)

// Postgres - брокер поверх LISTEN/NOTIFY. Одно слушающее соединение
// на процесс, раздача подписчикам через встроенный Memory.
type Postgres struct {
	pool   *pgxpool.Pool
	dsn    string
	local  *Memory
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgres открывает пул для публикации и соединение для LISTEN.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	conn, err := listen(ctx, databaseURL)
	if err != nil {
		pool.Close()
		return nil, err
	}

	lctx, cancel := context.WithCancel(context.Background())
	p := &Postgres{
		pool:   pool,
		dsn:    databaseURL,
		local:  NewMemory(),
		logger: logger.With("component", "changefeed.postgres"),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.loop(lctx, conn)
	return p, nil
}

func listen(ctx context.Context, dsn string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{pgChannel}.Sanitize()); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("listen %s: %w", pgChannel, err)
	}
	return conn, nil
}

// loop пересылает уведомления локальным подписчикам и переподключается при обрыве.
func (p *Postgres) loop(ctx context.Context, conn *pgx.Conn) {
	defer close(p.done)
	defer func() {
		if conn != nil {
			conn.Close(context.Background())
		}
	}()

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pgReconnectDelay):
			}
			c, err := listen(ctx, p.dsn)
			if err != nil {
				p.logger.Warn("listener reconnect failed", "error", err)
				continue
			}
			conn = c
			p.logger.Info("listener reconnected")
			p.resync(ctx)
		}

		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("listener connection lost", "error", err)
			conn.Close(context.Background())
			conn = nil
			continue
		}

		ev, err := decodeEvent([]byte(n.Payload))
		if err != nil {
			p.logger.Warn("skipping malformed event", "error", err)
			continue
		}
		if err := p.local.Publish(ctx, ev); err != nil {
			return
		}
	}
}

// resync сообщает локальным подписчикам, что уведомления за время обрыва потеряны.
func (p *Postgres) resync(ctx context.Context) {
	now := time.Now()
	for _, collection := range []string{CollectionPosts, CollectionUsers} {
		if err := p.local.Publish(ctx, NewResyncEvent(collection, now)); err != nil {
			p.logger.Warn("resync publish failed", "collection", collection, "error", err)
		}
	}
}

func (p *Postgres) Publish(ctx context.Context, ev Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", pgChannel, string(data)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

func (p *Postgres) Subscribe(ctx context.Context, collection string) (<-chan Event, func(), error) {
	return p.local.Subscribe(ctx, collection)
}

func (p *Postgres) Close() error {
	p.cancel()
	<-p.done
	p.pool.Close()
	return p.local.Close()
}

var _ Broker = (*Postgres)(nil)
