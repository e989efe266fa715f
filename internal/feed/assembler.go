// Package feed собирает ленту: посты с именами авторов, отрывком и временем чтения.
package feed

import (
	"context"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/UkralStul/fexora/internal/changefeed"
	"github.com/UkralStul/fexora/internal/dataloader"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/live"
	"github.com/UkralStul/fexora/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/microcosm-cc/bluemonday"
)

// PostSource - источник постов для ленты.
type PostSource interface {
	ListAll(ctx context.Context) ([]*domain.Post, error)
	WatchAll(ctx context.Context) (*live.Subscription[[]*domain.Post], error)
}

// Config настраивает сборщик ленты.
type Config struct {
	// CacheSize - число профилей в кэше; 0 отключает кэш.
	CacheSize int
	CacheTTL  time.Duration
	// BatchWait - окно сбора ID авторов в одну пачку.
	BatchWait time.Duration
	Metrics   metrics.Recorder
	Logger    *slog.Logger
}

// Assembler строит ленту по снимкам постов.
type Assembler struct {
	posts    PostSource
	profiles dataloader.ProfileSource
	cache    *expirable.LRU[string, *domain.UserProfile]
	wait     time.Duration
	metrics  metrics.Recorder
	logger   *slog.Logger
	policy   *bluemonday.Policy
}

// New создает сборщик ленты.
func New(posts PostSource, profiles dataloader.ProfileSource, cfg Config) *Assembler {
	a := &Assembler{
		posts:    posts,
		profiles: profiles,
		wait:     cfg.BatchWait,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		policy:   bluemonday.StrictPolicy(),
	}
	if cfg.CacheSize > 0 {
		a.cache = expirable.NewLRU[string, *domain.UserProfile](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	if a.wait <= 0 {
		a.wait = dataloader.DefaultWait
	}
	if a.metrics == nil {
		a.metrics = metrics.NewNoop()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "feed")
	return a
}

// AssembleFeed строит ленту один раз.
func (a *Assembler) AssembleFeed(ctx context.Context) ([]domain.FeedEntry, error) {
	posts, err := a.posts.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return a.Resolve(ctx, posts)
}

// Watch подписывается на все посты и выдает ленту после каждого изменения.
func (a *Assembler) Watch(ctx context.Context) (*live.Subscription[[]domain.FeedEntry], error) {
	src, err := a.posts.WatchAll(ctx)
	if err != nil {
		return nil, err
	}
	return live.Transform(ctx, src, a.Resolve), nil
}

// Resolve превращает снимок постов в ленту, новые посты первыми.
// Авторы загружаются одной пачкой; ошибка загрузки профиля не ломает ленту,
// имя берется из снимка в посте.
func (a *Assembler) Resolve(ctx context.Context, posts []*domain.Post) ([]domain.FeedEntry, error) {
	start := time.Now()
	defer func() { a.metrics.ObserveFeedRefresh(time.Since(start)) }()

	sorted := append([]*domain.Post(nil), posts...)
	domain.SortNewestFirst(sorted)

	profiles := a.lookup(ctx, ownerIDs(sorted))

	entries := make([]domain.FeedEntry, 0, len(sorted))
	for _, p := range sorted {
		profile := profiles[p.OwnerID]
		if profile == nil || (strings.TrimSpace(profile.Name) == "" && strings.TrimSpace(profile.DisplayName) == "") {
			a.metrics.IncAuthorFallback()
		}
		entries = append(entries, domain.FeedEntry{
			Post:        p,
			AuthorName:  domain.ResolveAuthorName(profile, p),
			Excerpt:     a.excerpt(p.Content),
			ReadMinutes: domain.ReadMinutes(p.Content),
		})
	}
	return entries, nil
}

func (a *Assembler) lookup(ctx context.Context, uids []string) map[string]*domain.UserProfile {
	result := make(map[string]*domain.UserProfile, len(uids))
	missing := uids
	if a.cache != nil {
		missing = missing[:0:0]
		for _, uid := range uids {
			if p, ok := a.cache.Get(uid); ok {
				result[uid] = p
				continue
			}
			missing = append(missing, uid)
		}
	}

	// Новый лоадер на каждое обновление: кэш лоадера не переживает снимок
	loader := dataloader.NewProfileLoader(a.profiles, a.wait)
	loaded, failed := dataloader.LoadProfiles(ctx, loader, missing)
	for uid, err := range failed {
		a.logger.Warn("author lookup failed, using post snapshot", "uid", uid, "error", err)
	}
	for uid, p := range loaded {
		result[uid] = p
		if a.cache != nil {
			a.cache.Add(uid, p)
		}
	}
	return result
}

// Invalidate убирает профиль из кэша.
func (a *Assembler) Invalidate(uid string) {
	if a.cache != nil {
		a.cache.Remove(uid)
	}
}

// EvictOnChanges убирает из кэша профили, об изменении которых сообщает брокер.
// После переподключения брокера кэш очищается целиком.
// Блокируется до отмены ctx или закрытия брокера.
func (a *Assembler) EvictOnChanges(ctx context.Context, broker changefeed.Broker) error {
	if a.cache == nil {
		return nil
	}
	events, unsubscribe, err := broker.Subscribe(ctx, changefeed.CollectionUsers)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.IsResync() {
				a.cache.Purge()
				continue
			}
			a.Invalidate(ev.DocID)
		}
	}
}

// excerpt - начало текста поста без разметки.
func (a *Assembler) excerpt(content string) string {
	text := html.UnescapeString(a.policy.Sanitize(content))
	text = strings.Join(strings.Fields(text), " ")
	return domain.Truncate(text, domain.ExcerptLength)
}

func ownerIDs(posts []*domain.Post) []string {
	seen := make(map[string]struct{}, len(posts))
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		if p.OwnerID == "" {
			continue
		}
		if _, ok := seen[p.OwnerID]; ok {
			continue
		}
		seen[p.OwnerID] = struct{}{}
		ids = append(ids, p.OwnerID)
	}
	return ids
}
