// Package graph - GraphQL-слой: резолверы запросов, мутаций и подписок блога.
package graph

import (
	"context"
	"log/slog"

	"github.com/UkralStul/fexora/internal/directory"
	"github.com/UkralStul/fexora/internal/feed"
	"github.com/UkralStul/fexora/internal/identity"
	"github.com/UkralStul/fexora/internal/live"
	"github.com/UkralStul/fexora/internal/posts"
)

// Resolver - это корневая структура резолвера.
// Она содержит все зависимости, которые нужны для выполнения запросов.
type Resolver struct {
	Gateway   *identity.Gateway
	Directory *directory.Directory
	Posts     *posts.Repository
	Feed      *feed.Assembler
	Logger    *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// forward перекладывает снимки подписки в канал для GraphQL-подписки.
// Ошибка очередного снимка пишется в лог, поток продолжается до следующего снимка.
// Канал закрывается при отключении клиента или завершении подписки.
func forward[T any](ctx context.Context, sub *live.Subscription[T], logger *slog.Logger, stream string) <-chan T {
	ch := make(chan T, 1)
	go func() {
		defer close(ch)
		defer sub.Cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-sub.C():
				if !ok {
					return
				}
				if snap.Err != nil {
					logger.Warn("subscription snapshot failed", "stream", stream, "error", snap.Err)
					continue
				}
				select {
				case ch <- snap.Value:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}
