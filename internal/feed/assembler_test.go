package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/UkralStul/fexora/internal/changefeed"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/live"
	"github.com/UkralStul/fexora/internal/posts"
	"github.com/UkralStul/fexora/internal/storage/inmemory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type staticPosts struct {
	posts []*domain.Post
	err   error
}

func (s *staticPosts) ListAll(ctx context.Context) ([]*domain.Post, error) {
	return s.posts, s.err
}

func (s *staticPosts) WatchAll(ctx context.Context) (*live.Subscription[[]*domain.Post], error) {
	return nil, errors.New("not supported")
}

type countingProfiles struct {
	mu       sync.Mutex
	profiles map[string]*domain.UserProfile
	err      error
	calls    int
	keys     [][]string
}

func (c *countingProfiles) GetProfilesByIDs(ctx context.Context, uids []string) (map[string]*domain.UserProfile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.keys = append(c.keys, append([]string(nil), uids...))
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]*domain.UserProfile)
	for _, uid := range uids {
		if p, ok := c.profiles[uid]; ok {
			out[uid] = p
		}
	}
	return out, nil
}

func (c *countingProfiles) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func post(id, owner string, minutes int, content, authorName string) *domain.Post {
	return &domain.Post{
		ID:         id,
		OwnerID:    owner,
		Title:      "t-" + id,
		Content:    content,
		AuthorName: authorName,
		CreatedAt:  base.Add(time.Duration(minutes) * time.Minute),
		UpdatedAt:  base.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestAssembleFeed_ResolvesAuthorsInOneBatch(t *testing.T) {
	src := &staticPosts{posts: []*domain.Post{
		post("p1", "u1", 1, "first", "Snapshot A"),
		post("p2", "u2", 2, "second", "Snapshot B"),
		post("p3", "u1", 3, "third", ""),
		post("p4", "ghost", 4, "fourth", "Old Name"),
	}}
	profiles := &countingProfiles{profiles: map[string]*domain.UserProfile{
		"u1": {UID: "u1", Name: "Alice"},
		"u2": {UID: "u2", DisplayName: "bob_d"},
	}}
	a := New(src, profiles, Config{})

	entries, err := a.AssembleFeed(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "p4", entries[0].Post.ID)
	assert.Equal(t, "Old Name", entries[0].AuthorName)
	assert.Equal(t, "p3", entries[1].Post.ID)
	assert.Equal(t, "Alice", entries[1].AuthorName)
	assert.Equal(t, "bob_d", entries[2].AuthorName)
	assert.Equal(t, "Alice", entries[3].AuthorName)

	require.Equal(t, 1, profiles.callCount())
	assert.ElementsMatch(t, []string{"u1", "u2", "ghost"}, profiles.keys[0])
}

func TestAssembleFeed_LookupFailureFallsBackToSnapshot(t *testing.T) {
	src := &staticPosts{posts: []*domain.Post{
		post("p1", "u1", 1, "x", "Snapshot A"),
		post("p2", "u2", 2, "y", ""),
	}}
	profiles := &countingProfiles{err: domain.Wrap(domain.KindTransient, "test", errors.New("boom"))}
	a := New(src, profiles, Config{})

	entries, err := a.AssembleFeed(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AnonymousAuthor, entries[0].AuthorName)
	assert.Equal(t, "Snapshot A", entries[1].AuthorName)
}

func TestAssembleFeed_ListErrorIsReturned(t *testing.T) {
	src := &staticPosts{err: domain.ErrTransient}
	a := New(src, &countingProfiles{}, Config{})

	_, err := a.AssembleFeed(context.Background())
	require.ErrorIs(t, err, domain.ErrTransient)
}

func TestAssembleFeed_ExcerptAndReadMinutes(t *testing.T) {
	long := "<p>" + strings.Repeat("word ", 100) + "</p>"
	src := &staticPosts{posts: []*domain.Post{
		post("p1", "u1", 1, "<b>Fish &amp; chips</b>\n\n<script>alert(1)</script>tonight", ""),
		post("p2", "u1", 2, long, ""),
	}}
	a := New(src, &countingProfiles{}, Config{})

	entries, err := a.AssembleFeed(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	longEntry, shortEntry := entries[0], entries[1]
	assert.Equal(t, "Fish & chips tonight", shortEntry.Excerpt)
	assert.Equal(t, 1, shortEntry.ReadMinutes)

	assert.True(t, strings.HasSuffix(longEntry.Excerpt, "..."))
	assert.NotContains(t, longEntry.Excerpt, "<p>")
	assert.LessOrEqual(t, len([]rune(longEntry.Excerpt)), domain.ExcerptLength+3)
	assert.Equal(t, domain.ReadMinutes(long), longEntry.ReadMinutes)
}

func TestAssembleFeed_CacheServesRepeatedRefreshes(t *testing.T) {
	src := &staticPosts{posts: []*domain.Post{post("p1", "u1", 1, "x", "")}}
	profiles := &countingProfiles{profiles: map[string]*domain.UserProfile{
		"u1": {UID: "u1", Name: "Alice"},
	}}
	a := New(src, profiles, Config{CacheSize: 16, CacheTTL: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entries, err := a.AssembleFeed(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Alice", entries[0].AuthorName)
	}
	assert.Equal(t, 1, profiles.callCount())

	profiles.mu.Lock()
	profiles.profiles["u1"] = &domain.UserProfile{UID: "u1", Name: "Alice Cooper"}
	profiles.mu.Unlock()
	a.Invalidate("u1")

	entries, err := a.AssembleFeed(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", entries[0].AuthorName)
	assert.Equal(t, 2, profiles.callCount())
}

func TestAssembleFeed_EmptyFeed(t *testing.T) {
	profiles := &countingProfiles{}
	a := New(&staticPosts{}, profiles, Config{})

	entries, err := a.AssembleFeed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, profiles.callCount())
}

func TestWatch_EmitsFeedOnEveryChange(t *testing.T) {
	store := inmemory.New()
	broker := changefeed.NewMemory()
	t.Cleanup(func() { broker.Close() })
	ctx := context.Background()

	_, err := store.UpsertProfile(ctx, &domain.UserProfile{UID: "u1", Name: "Alice"})
	require.NoError(t, err)

	repo := posts.New(store, posts.Config{Broker: broker, Authors: store})
	a := New(repo, store, Config{})

	sub, err := a.Watch(ctx)
	require.NoError(t, err)
	defer sub.Cancel()

	next := func() []domain.FeedEntry {
		t.Helper()
		select {
		case snap, ok := <-sub.C():
			require.True(t, ok)
			require.NoError(t, snap.Err)
			return snap.Value
		case <-time.After(time.Second):
			t.Fatal("no feed snapshot")
			return nil
		}
	}

	assert.Empty(t, next())

	_, err = repo.Create(ctx, "u1", domain.PostFields{Title: "Hi", Content: "hello"})
	require.NoError(t, err)

	entries := next()
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0].AuthorName)
	assert.Equal(t, "hello", entries[0].Excerpt)
}

func TestEvictOnChanges_RemovesChangedProfile(t *testing.T) {
	broker := changefeed.NewMemory()
	t.Cleanup(func() { broker.Close() })
	src := &staticPosts{posts: []*domain.Post{post("p1", "u1", 1, "x", "")}}
	profiles := &countingProfiles{profiles: map[string]*domain.UserProfile{
		"u1": {UID: "u1", Name: "Alice"},
	}}
	a := New(src, profiles, Config{CacheSize: 16, CacheTTL: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.EvictOnChanges(ctx, broker) }()
	require.Eventually(t, func() bool {
		return broker.Subscribers(changefeed.CollectionUsers) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := a.AssembleFeed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, profiles.callCount())

	require.NoError(t, broker.Publish(ctx, changefeed.NewEvent(changefeed.CollectionUsers, "u1", "u1", changefeed.OpUpdated, base)))
	require.Eventually(t, func() bool {
		_, _ = a.AssembleFeed(ctx)
		return profiles.callCount() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestEvictOnChanges_ResyncPurgesCache(t *testing.T) {
	broker := changefeed.NewMemory()
	t.Cleanup(func() { broker.Close() })
	src := &staticPosts{posts: []*domain.Post{post("p1", "u1", 1, "x", ""), post("p2", "u2", 2, "y", "")}}
	profiles := &countingProfiles{profiles: map[string]*domain.UserProfile{
		"u1": {UID: "u1", Name: "Alice"},
		"u2": {UID: "u2", Name: "Bob"},
	}}
	a := New(src, profiles, Config{CacheSize: 16, CacheTTL: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.EvictOnChanges(ctx, broker) }()
	require.Eventually(t, func() bool {
		return broker.Subscribers(changefeed.CollectionUsers) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := a.AssembleFeed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, profiles.callCount())

	profiles.mu.Lock()
	profiles.profiles["u2"] = &domain.UserProfile{UID: "u2", Name: "Robert"}
	profiles.mu.Unlock()

	require.NoError(t, broker.Publish(ctx, changefeed.NewResyncEvent(changefeed.CollectionUsers, base)))
	require.Eventually(t, func() bool {
		entries, err := a.AssembleFeed(ctx)
		if err != nil {
			return false
		}
		for _, e := range entries {
			if e.Post.ID == "p2" {
				return e.AuthorName == "Robert"
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
