package posts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/UkralStul/fexora/internal/changefeed"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/live"
	"github.com/UkralStul/fexora/internal/retry"
	"github.com/UkralStul/fexora/internal/storage"
	"github.com/UkralStul/fexora/internal/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(5 * time.Minute)
)

type testEnv struct {
	repo   *Repository
	store  *inmemory.Store
	broker *changefeed.Memory
	now    *time.Time
}

func newTestRepo(t *testing.T) *testEnv {
	t.Helper()
	store := inmemory.New()
	broker := changefeed.NewMemory()
	t.Cleanup(func() { broker.Close() })
	now := t0
	repo := New(store, Config{
		Broker:  broker,
		Authors: store,
		Guard:   storage.Guard{Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}},
		Clock:   func() time.Time { return now },
	})
	return &testEnv{repo: repo, store: store, broker: broker, now: &now}
}

func strPtr(s string) *string { return &s }

func nextSnapshot(t *testing.T, sub *live.Subscription[[]*domain.Post]) []*domain.Post {
	t.Helper()
	select {
	case snap, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		require.NoError(t, snap.Err)
		return snap.Value
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
		return nil
	}
}

func TestRepository_CreateUpdateDeleteScenario(t *testing.T) {
	env := newTestRepo(t)
	ctx := context.Background()

	id, err := env.repo.Create(ctx, "u1", domain.PostFields{Title: "Hello", Content: "World!"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	post, err := env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, "Hello", post.Title)
	assert.Equal(t, "World!", post.Content)
	assert.Equal(t, "u1", post.OwnerID)
	assert.Equal(t, t0, post.CreatedAt)
	assert.Equal(t, post.CreatedAt, post.UpdatedAt)

	*env.now = t1
	require.NoError(t, env.repo.Update(ctx, "u1", id, domain.PostPatch{Title: strPtr("Hello v2")}))

	post, err = env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Hello v2", post.Title)
	assert.Equal(t, "World!", post.Content)
	assert.Equal(t, t0, post.CreatedAt)
	assert.Equal(t, t1, post.UpdatedAt)

	require.NoError(t, env.repo.Delete(ctx, "u1", id))
	post, err = env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, post)

	err = env.repo.Delete(ctx, "u1", id)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRepository_UpdatedAtNeverDecreases(t *testing.T) {
	env := newTestRepo(t)
	ctx := context.Background()

	*env.now = t1
	id, err := env.repo.Create(ctx, "u1", domain.PostFields{Title: "A", Content: "B"})
	require.NoError(t, err)

	// часы ушли назад
	*env.now = t0
	require.NoError(t, env.repo.Update(ctx, "u1", id, domain.PostPatch{Content: strPtr("C")}))

	post, err := env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, t1, post.UpdatedAt)
	assert.Equal(t, t1, post.CreatedAt)
}

func TestRepository_OwnershipAndAuth(t *testing.T) {
	env := newTestRepo(t)
	ctx := context.Background()
	id, err := env.repo.Create(ctx, "u1", domain.PostFields{Title: "A", Content: "B"})
	require.NoError(t, err)

	_, err = env.repo.Create(ctx, "", domain.PostFields{Title: "A", Content: "B"})
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))

	err = env.repo.Update(ctx, "u2", id, domain.PostPatch{Title: strPtr("hijack")})
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	err = env.repo.Delete(ctx, "u2", id)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	err = env.repo.Update(ctx, "u1", "missing", domain.PostPatch{Title: strPtr("x")})
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	post, err := env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "A", post.Title)
}

type countingStore struct {
	Store
	calls int
}

func (c *countingStore) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	c.calls++
	return c.Store.CreatePost(ctx, post)
}

func TestRepository_ValidationHappensBeforeStore(t *testing.T) {
	store := &countingStore{Store: inmemory.New()}
	repo := New(store, Config{})

	_, err := repo.Create(context.Background(), "u1", domain.PostFields{Title: " ", Content: "B"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Zero(t, store.calls)

	err = repo.Update(context.Background(), "u1", "p1", domain.PostPatch{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestRepository_SnapshotsAuthorName(t *testing.T) {
	env := newTestRepo(t)
	ctx := context.Background()
	_, err := env.store.UpsertProfile(ctx, &domain.UserProfile{UID: "u1", Email: "alice@example.com", Name: "Alice"})
	require.NoError(t, err)

	id, err := env.repo.Create(ctx, "u1", domain.PostFields{Title: "A", Content: "B"})
	require.NoError(t, err)
	post, err := env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", post.AuthorName)
	assert.Equal(t, "alice", post.UserName)

	id, err = env.repo.Create(ctx, "u1", domain.PostFields{Title: "A", Content: "B", AuthorName: "Pen Name"})
	require.NoError(t, err)
	post, err = env.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Pen Name", post.AuthorName)
}

func TestRepository_ListOrdering(t *testing.T) {
	env := newTestRepo(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		*env.now = t0.Add(time.Duration(i) * time.Second)
		id, err := env.repo.Create(ctx, "u1", domain.PostFields{Title: fmt.Sprintf("P%d", i), Content: "c"})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := env.repo.Create(ctx, "u2", domain.PostFields{Title: "other", Content: "c"})
	require.NoError(t, err)

	mine, err := env.repo.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{mine[0].ID, mine[1].ID, mine[2].ID})

	all, err := env.repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = env.repo.ListByOwner(ctx, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestRepository_WatchByOwner(t *testing.T) {
	env := newTestRepo(t)
	ctx := context.Background()

	sub, err := env.repo.WatchByOwner(ctx, "u1")
	require.NoError(t, err)
	defer sub.Cancel()

	assert.Empty(t, nextSnapshot(t, sub))

	id1, err := env.repo.Create(ctx, "u1", domain.PostFields{Title: "first", Content: "c"})
	require.NoError(t, err)
	snap := nextSnapshot(t, sub)
	require.Len(t, snap, 1)
	assert.Equal(t, id1, snap[0].ID)

	*env.now = t1
	id2, err := env.repo.Create(ctx, "u1", domain.PostFields{Title: "second", Content: "c"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case s := <-sub.C():
			snap = s.Value
		default:
		}
		return len(snap) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, id2, snap[0].ID)
	assert.Equal(t, id1, snap[1].ID)
	assert.True(t, snap[0].CreatedAt.After(snap[1].CreatedAt))

	require.NoError(t, env.repo.Delete(ctx, "u1", id1))
	require.Eventually(t, func() bool {
		select {
		case s := <-sub.C():
			snap = s.Value
		default:
		}
		return len(snap) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, id2, snap[0].ID)
}

func TestRepository_WatchByOwnerReloadsOnResync(t *testing.T) {
	env := newTestRepo(t)
	ctx := context.Background()

	sub, err := env.repo.WatchByOwner(ctx, "u1")
	require.NoError(t, err)
	defer sub.Cancel()
	assert.Empty(t, nextSnapshot(t, sub))

	// запись мимо репозитория: уведомление о ней потеряно
	_, err = env.store.CreatePost(ctx, &domain.Post{OwnerID: "u1", Title: "missed", Content: "c", CreatedAt: t0, UpdatedAt: t0})
	require.NoError(t, err)

	require.NoError(t, env.broker.Publish(ctx, changefeed.NewResyncEvent(changefeed.CollectionPosts, t0)))
	snap := nextSnapshot(t, sub)
	require.Len(t, snap, 1)
	assert.Equal(t, "missed", snap[0].Title)
}

func TestRepository_WatchCancelReleasesSubscription(t *testing.T) {
	env := newTestRepo(t)
	ctx := context.Background()

	sub, err := env.repo.WatchAll(ctx)
	require.NoError(t, err)
	nextSnapshot(t, sub)
	assert.Equal(t, 1, env.broker.Subscribers(changefeed.CollectionPosts))

	sub.Cancel()
	sub.Cancel()
	assert.Equal(t, 0, env.broker.Subscribers(changefeed.CollectionPosts))
}

func TestRepository_WatchWithoutBroker(t *testing.T) {
	repo := New(inmemory.New(), Config{})
	_, err := repo.WatchAll(context.Background())
	assert.Error(t, err)
}

type flakyStore struct {
	Store
	failures int
}

func (f *flakyStore) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("connection reset: %w", storage.ErrUnavailable)
	}
	return f.Store.GetPostByID(ctx, id)
}

func TestRepository_RetriesTransientReads(t *testing.T) {
	base := inmemory.New()
	created, err := base.CreatePost(context.Background(), &domain.Post{OwnerID: "u1", Title: "A", Content: "B"})
	require.NoError(t, err)

	store := &flakyStore{Store: base, failures: 2}
	repo := New(store, Config{Guard: storage.Guard{Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}}})

	post, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", post.Title)

	store.failures = 5
	_, err = repo.GetByID(context.Background(), created.ID)
	assert.True(t, errors.Is(err, domain.ErrTransient))
}
