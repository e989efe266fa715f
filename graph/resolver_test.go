package graph

import (
	"context"
	"testing"
	"time"

	"github.com/UkralStul/fexora/graph/model"
	"github.com/UkralStul/fexora/internal/changefeed"
	"github.com/UkralStul/fexora/internal/directory"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/feed"
	"github.com/UkralStul/fexora/internal/identity"
	"github.com/UkralStul/fexora/internal/posts"
	"github.com/UkralStul/fexora/internal/session"
	"github.com/UkralStul/fexora/internal/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	store := inmemory.New()
	broker := changefeed.NewMemory()
	t.Cleanup(func() { broker.Close() })

	dir := directory.New(store, directory.Config{Broker: broker})
	repo := posts.New(store, posts.Config{Broker: broker, Authors: dir})
	provider := identity.NewLocalProvider(store, identity.LocalConfig{
		Tokens: identity.NewTokenIssuer("test-secret", "fexora", time.Hour, nil),
		Hash:   identity.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16},
	})
	return &Resolver{
		Gateway:   identity.NewGateway(identity.GatewayConfig{Provider: provider, Profiles: dir}),
		Directory: dir,
		Posts:     repo,
		Feed:      feed.New(repo, dir, feed.Config{}),
	}
}

func sessionContext(t *testing.T) context.Context {
	t.Helper()
	sess := session.New()
	t.Cleanup(sess.Close)
	return session.WithContext(context.Background(), sess)
}

func newPost(title, content string) model.NewPost {
	return model.NewPost{Title: title, Content: content}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("no snapshot")
	}
	var zero T
	return zero
}

func TestSubscription_FeedUpdated(t *testing.T) {
	r := newTestResolver(t)
	ctx := sessionContext(t)
	handle, err := r.Mutation().Register(ctx, "alice@example.com", "secret1", nil)
	require.NoError(t, err)

	subCtx, cancel := context.WithCancel(ctx)
	ch, err := r.Subscription().FeedUpdated(subCtx)
	require.NoError(t, err)
	assert.Empty(t, receive(t, ch))

	_, err = r.Mutation().CreatePost(ctx, newPost("Live", "streamed"))
	require.NoError(t, err)

	var entries []domain.FeedEntry
	for len(entries) == 0 {
		entries = receive(t, ch)
	}
	require.Len(t, entries, 1)
	assert.Equal(t, "Live", entries[0].Post.Title)
	assert.Equal(t, handle.Account.ID, entries[0].Post.OwnerID)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSubscription_MyPostsRequiresSession(t *testing.T) {
	r := newTestResolver(t)
	ctx := sessionContext(t)

	_, err := r.Subscription().MyPosts(ctx)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = r.Mutation().Register(ctx, "bob@example.com", "secret1", nil)
	require.NoError(t, err)
	ch, err := r.Subscription().MyPosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, receive(t, ch))

	_, err = r.Mutation().CreatePost(ctx, newPost("Mine", "body"))
	require.NoError(t, err)
	var list []*domain.Post
	for len(list) == 0 {
		list = receive(t, ch)
	}
	assert.Equal(t, "Mine", list[0].Title)
}

func TestPost_AuthorNameWithoutLoader(t *testing.T) {
	r := newTestResolver(t)
	ctx := sessionContext(t)
	name := "Carol"
	_, err := r.Mutation().Register(ctx, "carol@example.com", "secret1", &name)
	require.NoError(t, err)

	post, err := r.Mutation().CreatePost(ctx, newPost("Hi", "there"))
	require.NoError(t, err)

	got, err := r.Post().AuthorName(ctx, post)
	require.NoError(t, err)
	assert.Equal(t, "Carol", got)

	got, err = r.Post().AuthorName(ctx, &domain.Post{OwnerID: "ghost", AuthorName: "Snapshot"})
	require.NoError(t, err)
	assert.Equal(t, "Snapshot", got)
}

func TestQuery_MeUnauthenticated(t *testing.T) {
	r := newTestResolver(t)
	_, err := r.Query().Me(sessionContext(t))
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}
