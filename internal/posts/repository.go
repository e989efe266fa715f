// Package posts - репозиторий постов блога с живыми подписками на выборки.
package posts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/UkralStul/fexora/internal/changefeed"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/live"
	"github.com/UkralStul/fexora/internal/metrics"
	"github.com/UkralStul/fexora/internal/storage"
)

// Имена потоков для метрик.
const (
	StreamAll   = "posts.all"
	StreamOwner = "posts.owner"
)

// Store - часть хранилища, нужная репозиторию.
type Store interface {
	CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error)
	UpdatePost(ctx context.Context, id, ownerID string, patch domain.PostPatch, updatedAt time.Time) (*domain.Post, error)
	DeletePost(ctx context.Context, id, ownerID string) error
	GetPostByID(ctx context.Context, id string) (*domain.Post, error)
	ListPosts(ctx context.Context, q storage.PostQuery) ([]*domain.Post, error)
}

// AuthorLookup дает профиль автора для снимка имени в посте.
type AuthorLookup interface {
	GetProfileByID(ctx context.Context, uid string) (*domain.UserProfile, error)
}

// Config - зависимости репозитория, кроме хранилища.
type Config struct {
	Broker  changefeed.Broker
	Authors AuthorLookup
	Guard   storage.Guard
	Metrics metrics.Recorder
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Repository создает, меняет, удаляет и читает посты.
type Repository struct {
	store   Store
	broker  changefeed.Broker
	authors AuthorLookup
	guard   storage.Guard
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// New создает репозиторий.
func New(store Store, cfg Config) *Repository {
	r := &Repository{
		store:   store,
		broker:  cfg.Broker,
		authors: cfg.Authors,
		guard:   cfg.Guard,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Clock,
	}
	if r.metrics == nil {
		r.metrics = metrics.NewNoop()
	}
	if r.guard.Metrics == nil {
		r.guard.Metrics = r.metrics
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "posts")
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// clock - текущее время с точностью, которую сохраняет любое из хранилищ.
func (r *Repository) clock() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// Create публикует пост от имени ownerID и возвращает его ID.
// CreatedAt и UpdatedAt совпадают; имя автора сохраняется снимком.
func (r *Repository) Create(ctx context.Context, ownerID string, fields domain.PostFields) (string, error) {
	const op = "posts.Create"
	if ownerID == "" {
		return "", domain.E(domain.KindUnauthenticated, op, "sign in to publish posts")
	}
	if err := domain.ValidatePostFields(op, fields); err != nil {
		return "", err
	}

	now := r.clock()
	post := &domain.Post{
		OwnerID:    ownerID,
		Title:      fields.Title,
		Content:    fields.Content,
		Image:      fields.Image,
		AuthorName: strings.TrimSpace(fields.AuthorName),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.snapshotAuthor(ctx, post)

	var created *domain.Post
	err := r.guard.Do(ctx, op, false, func(ctx context.Context) error {
		var err error
		created, err = r.store.CreatePost(ctx, post)
		return err
	})
	if err != nil {
		return "", err
	}

	r.publish(ctx, created, changefeed.OpCreated)
	return created.ID, nil
}

// snapshotAuthor заполняет имя автора из профиля, если оно не передано явно.
// Недоступный профиль не мешает публикации.
func (r *Repository) snapshotAuthor(ctx context.Context, post *domain.Post) {
	if r.authors == nil {
		return
	}
	profile, err := r.authors.GetProfileByID(ctx, post.OwnerID)
	if err != nil {
		r.logger.Warn("author profile unavailable, post keeps no name snapshot", "owner_id", post.OwnerID, "error", err)
		return
	}
	if profile == nil {
		return
	}
	if post.AuthorName == "" {
		post.AuthorName = firstNonBlank(profile.Name, profile.DisplayName)
	}
	if profile.Email != "" {
		post.UserName = domain.EmailLocalPart(profile.Email)
	}
}

// Update применяет патч к посту владельца. UpdatedAt не уменьшается,
// OwnerID и CreatedAt не меняются.
func (r *Repository) Update(ctx context.Context, ownerID, postID string, patch domain.PostPatch) error {
	const op = "posts.Update"
	if ownerID == "" {
		return domain.E(domain.KindUnauthenticated, op, "sign in to edit posts")
	}
	if err := domain.ValidatePostPatch(op, patch); err != nil {
		return err
	}

	now := r.clock()
	var updated *domain.Post
	err := r.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		updated, err = r.store.UpdatePost(ctx, postID, ownerID, patch, now)
		return err
	})
	if err != nil {
		return err
	}

	r.publish(ctx, updated, changefeed.OpUpdated)
	return nil
}

// Delete удаляет пост владельца. Удаление отсутствующего поста - KindNotFound.
func (r *Repository) Delete(ctx context.Context, ownerID, postID string) error {
	const op = "posts.Delete"
	if ownerID == "" {
		return domain.E(domain.KindUnauthenticated, op, "sign in to delete posts")
	}

	// не повторяем: после успешной, но потерянной попытки повтор вернул бы NotFound
	err := r.guard.Do(ctx, op, false, func(ctx context.Context) error {
		return r.store.DeletePost(ctx, postID, ownerID)
	})
	if err != nil {
		return err
	}

	r.publish(ctx, &domain.Post{ID: postID, OwnerID: ownerID}, changefeed.OpDeleted)
	return nil
}

// GetByID возвращает пост или nil, если его нет.
func (r *Repository) GetByID(ctx context.Context, postID string) (*domain.Post, error) {
	const op = "posts.GetByID"
	if postID == "" {
		return nil, nil
	}

	var post *domain.Post
	err := r.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		post, err = r.store.GetPostByID(ctx, postID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return post, nil
}

// ListByOwner возвращает посты владельца, новые первыми.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Post, error) {
	if ownerID == "" {
		return nil, domain.E(domain.KindInvalidInput, "posts.ListByOwner", "owner id is required")
	}
	return r.list(ctx, storage.PostQuery{OwnerID: ownerID})
}

// ListAll возвращает все посты, новые первыми.
func (r *Repository) ListAll(ctx context.Context) ([]*domain.Post, error) {
	return r.list(ctx, storage.PostQuery{})
}

func (r *Repository) list(ctx context.Context, q storage.PostQuery) ([]*domain.Post, error) {
	const op = "posts.List"
	var result []*domain.Post
	err := r.guard.Do(ctx, op, true, func(ctx context.Context) error {
		var err error
		result, err = r.store.ListPosts(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	// хранилище уже отсортировало; повторная сортировка фиксирует порядок для любого бэкенда
	domain.SortNewestFirst(result)
	return result, nil
}

// WatchByOwner подписывается на посты владельца. Первый снимок приходит сразу,
// следующие - после каждого изменения его постов.
func (r *Repository) WatchByOwner(ctx context.Context, ownerID string) (*live.Subscription[[]*domain.Post], error) {
	if ownerID == "" {
		return nil, domain.E(domain.KindInvalidInput, "posts.WatchByOwner", "owner id is required")
	}
	return r.watch(ctx, StreamOwner, storage.PostQuery{OwnerID: ownerID}, func(ev changefeed.Event) bool {
		return ev.IsResync() || ev.OwnerID == ownerID
	})
}

// WatchAll подписывается на все посты.
func (r *Repository) WatchAll(ctx context.Context) (*live.Subscription[[]*domain.Post], error) {
	return r.watch(ctx, StreamAll, storage.PostQuery{}, nil)
}

func (r *Repository) watch(ctx context.Context, stream string, q storage.PostQuery, match func(changefeed.Event) bool) (*live.Subscription[[]*domain.Post], error) {
	const op = "posts.Watch"
	if r.broker == nil {
		return nil, domain.E(domain.KindInternal, op, "live updates are not configured")
	}

	// Подписка на события до первого чтения: изменения между ними не теряются
	events, unsubscribe, err := r.broker.Subscribe(ctx, changefeed.CollectionPosts)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, op, err)
	}
	r.metrics.SubscriptionOpened(stream)

	load := func(ctx context.Context) ([]*domain.Post, error) {
		posts, err := r.list(ctx, q)
		if err != nil {
			r.logger.Warn("live query failed", "stream", stream, "error", err)
			return nil, err
		}
		r.metrics.IncSnapshot(stream)
		return posts, nil
	}
	stop := func() {
		unsubscribe()
		r.metrics.SubscriptionClosed(stream)
	}
	return live.Run(ctx, live.Signal(events, match), load, stop), nil
}

func (r *Repository) publish(ctx context.Context, post *domain.Post, op changefeed.Op) {
	if r.broker == nil {
		return
	}
	ev := changefeed.NewEvent(changefeed.CollectionPosts, post.ID, post.OwnerID, op, r.clock())
	if err := r.broker.Publish(ctx, ev); err != nil {
		// запись уже закоммичена; подписчики увидят ее при следующем событии
		r.logger.Warn("failed to publish post change", "post_id", post.ID, "op", op, "error", err)
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
