package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/UkralStul/fexora/graph"
	"github.com/UkralStul/fexora/internal/changefeed"
	"github.com/UkralStul/fexora/internal/directory"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/feed"
	"github.com/UkralStul/fexora/internal/identity"
	"github.com/UkralStul/fexora/internal/posts"
	"github.com/UkralStul/fexora/internal/storage/inmemory"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store *inmemory.Store
}

func newTestServer(t *testing.T, authLimit int) *testServer {
	t.Helper()
	return newFederatedTestServer(t, authLimit, nil)
}

func newFederatedTestServer(t *testing.T, authLimit int, federated identity.FederatedProvider) *testServer {
	t.Helper()
	store := inmemory.New()
	broker := changefeed.NewMemory()
	t.Cleanup(func() { broker.Close() })

	dir := directory.New(store, directory.Config{Broker: broker})
	repo := posts.New(store, posts.Config{Broker: broker, Authors: dir})
	assembler := feed.New(repo, dir, feed.Config{})
	provider := identity.NewLocalProvider(store, identity.LocalConfig{
		Tokens: identity.NewTokenIssuer("test-secret", "fexora", time.Hour, nil),
		Hash:   identity.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16},
	})
	gateway := identity.NewGateway(identity.GatewayConfig{Provider: provider, Federated: federated, Profiles: dir})

	srv := New(Config{
		Gateway:             gateway,
		Directory:           dir,
		Posts:               repo,
		Feed:                assembler,
		Health:              store,
		Metrics:             http.NotFoundHandler(),
		AuthRateLimitPerMin: authLimit,
		WSPingInterval:      time.Second,
		GraphQL:             &graph.Resolver{Gateway: gateway, Directory: dir, Posts: repo, Feed: assembler},
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) register(t *testing.T, email, name string) identity.AccountHandle {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "secret1", "name": name,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var handle identity.AccountHandle
	require.NoError(t, json.Unmarshal(body, &handle))
	require.NotEmpty(t, handle.Token)
	return handle
}

func errorKind(t *testing.T, body []byte) domain.Kind {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(body, &resp), string(body))
	return resp.Error.Kind
}

func TestServer_RegisterLoginAndMe(t *testing.T) {
	ts := newTestServer(t, 100)
	handle := ts.register(t, "Alice@Example.com", "Alice")

	resp, body := ts.do(t, http.MethodGet, "/me", handle.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var me meResponse
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "alice@example.com", me.Account.Email)
	require.NotNil(t, me.Profile)
	assert.Equal(t, "Alice", me.Profile.Name)

	resp, body = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "ALICE@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, domain.KindInvalidCredential, errorKind(t, body))
}

func TestServer_RegisterErrors(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.register(t, "a@b.co", "")

	resp, body := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "A@B.CO", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, domain.KindEmailAlreadyInUse, errorKind(t, body))

	resp, body = ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{"email": "c@d.co", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.KindWeakCredential, errorKind(t, body))
}

func TestServer_Authentication(t *testing.T) {
	ts := newTestServer(t, 100)

	resp, body := ts.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, domain.KindUnauthenticated, errorKind(t, body))

	resp, _ = ts.do(t, http.MethodGet, "/me", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	handle := ts.register(t, "a@b.co", "")
	resp, _ = ts.do(t, http.MethodPost, "/auth/logout", handle.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/me", handle.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_PostLifecycle(t *testing.T) {
	ts := newTestServer(t, 100)
	alice := ts.register(t, "alice@example.com", "Alice")
	bob := ts.register(t, "bob@example.com", "Bob")

	resp, body := ts.do(t, http.MethodPost, "/posts", alice.Token, map[string]string{"title": "Hello", "content": "<p>World</p>"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created map[string]string
	require.NoError(t, json.Unmarshal(body, &created))
	id := created["id"]
	require.NotEmpty(t, id)

	resp, body = ts.do(t, http.MethodGet, "/posts/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var got postResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Hello", got.Post.Title)
	assert.Equal(t, "Alice", got.AuthorName)
	assert.Equal(t, alice.Account.ID, got.Post.OwnerID)

	resp, body = ts.do(t, http.MethodGet, "/posts", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []domain.FeedEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0].AuthorName)
	assert.Equal(t, "World", entries[0].Excerpt)

	resp, body = ts.do(t, http.MethodPatch, "/posts/"+id, bob.Token, map[string]string{"title": "Hijacked"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, domain.KindUnauthorized, errorKind(t, body))

	resp, _ = ts.do(t, http.MethodPatch, "/posts/"+id, alice.Token, map[string]string{"title": "Hello v2"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/me/posts", alice.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mine []domain.Post
	require.NoError(t, json.Unmarshal(body, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "Hello v2", mine[0].Title)

	resp, _ = ts.do(t, http.MethodDelete, "/posts/"+id, alice.Token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/posts/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, domain.KindNotFound, errorKind(t, body))

	resp, _ = ts.do(t, http.MethodDelete, "/posts/"+id, alice.Token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_CreatePostValidation(t *testing.T) {
	ts := newTestServer(t, 100)
	alice := ts.register(t, "alice@example.com", "")

	resp, body := ts.do(t, http.MethodPost, "/posts", alice.Token, map[string]string{"title": "  ", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.KindInvalidInput, errorKind(t, body))

	resp, _ = ts.do(t, http.MethodPost, "/posts", "", map[string]string{"title": "t", "content": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AuthRateLimit(t *testing.T) {
	ts := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		resp, _ := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@b.co", "password": "whatever"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, _ := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@b.co", "password": "whatever"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// остальные маршруты не ограничены
	resp, _ = ts.do(t, http.MethodGet, "/posts", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_FederatedWithoutProvider(t *testing.T) {
	ts := newTestServer(t, 100)

	resp, body := ts.do(t, http.MethodGet, "/auth/federated/login", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, domain.KindFederatedLoginFailed, errorKind(t, body))

	resp, body = ts.do(t, http.MethodGet, "/auth/federated/callback?code=abc&state=x", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, domain.KindFederatedLoginFailed, errorKind(t, body))
}

// trustingIdP выдает сведения о пользователе на любой код и nonce,
// как провайдер, чей ID-токен пришел без nonce.
type trustingIdP struct{}

func (trustingIdP) Name() string { return "idp" }

func (trustingIdP) AuthCodeURL(state, nonce string) string {
	return "https://idp.example/auth?state=" + state
}

func (trustingIdP) Exchange(ctx context.Context, code, nonce string) (*identity.FederatedClaims, error) {
	return &identity.FederatedClaims{Provider: "idp", Subject: "sub-1", Email: "fed@example.com", EmailVerified: true, Name: "Fed"}, nil
}

func TestServer_FederatedCallbackRequiresNonceCookie(t *testing.T) {
	ts := newFederatedTestServer(t, 100, trustingIdP{})

	callback := func(cookies ...*http.Cookie) (*http.Response, []byte) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/auth/federated/callback?code=abc&state=st", nil)
		require.NoError(t, err)
		for _, c := range cookies {
			req.AddCookie(c)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, body
	}
	state := &http.Cookie{Name: stateCookie, Value: "st"}

	resp, body := callback(state)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, domain.KindFederatedLoginFailed, errorKind(t, body))

	resp, body = callback(state, &http.Cookie{Name: nonceCookie, Value: ""})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, domain.KindFederatedLoginFailed, errorKind(t, body))

	resp, body = callback(state, &http.Cookie{Name: nonceCookie, Value: "nn"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var handle identity.AccountHandle
	require.NoError(t, json.Unmarshal(body, &handle))
	assert.Equal(t, "fed@example.com", handle.Account.Email)
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, 100)
	resp, body := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

type feedFrame struct {
	Type  string             `json:"type"`
	Data  []domain.FeedEntry `json:"data"`
	Error *errorBody         `json:"error"`
}

func TestServer_FeedSocketStreamsSnapshots(t *testing.T) {
	ts := newTestServer(t, 100)
	alice := ts.register(t, "alice@example.com", "Alice")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/feed"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	read := func() feedFrame {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var frame feedFrame
		require.NoError(t, conn.ReadJSON(&frame))
		require.Equal(t, "snapshot", frame.Type)
		return frame
	}

	assert.Empty(t, read().Data)

	r, body := ts.do(t, http.MethodPost, "/posts", alice.Token, map[string]string{"title": "Live", "content": "streamed"})
	require.Equal(t, http.StatusCreated, r.StatusCode, string(body))

	frame := read()
	require.Len(t, frame.Data, 1)
	assert.Equal(t, "Live", frame.Data[0].Post.Title)
	assert.Equal(t, "Alice", frame.Data[0].AuthorName)
}

func TestServer_MyPostsSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t, 100)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/my-posts"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	alice := ts.register(t, "alice@example.com", "")
	conn, resp, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL+"?access_token="+alice.Token, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame struct {
		Type string        `json:"type"`
		Data []domain.Post `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "snapshot", frame.Type)
	assert.Empty(t, frame.Data)
}

func TestStatusFor(t *testing.T) {
	tests := map[domain.Kind]int{
		domain.KindNotFound:                http.StatusNotFound,
		domain.KindUnauthenticated:         http.StatusUnauthorized,
		domain.KindUnauthorized:            http.StatusForbidden,
		domain.KindConflict:                http.StatusConflict,
		domain.KindInvalidInput:            http.StatusBadRequest,
		domain.KindTransient:               http.StatusServiceUnavailable,
		domain.KindPartialWriteFailure:     http.StatusInternalServerError,
		domain.KindInternal:                http.StatusInternalServerError,
		domain.KindFederatedLoginCancelled: http.StatusBadRequest,
		domain.KindAccountNotFound:         http.StatusNotFound,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}
