// Package session хранит текущего пользователя и оповещает наблюдателей о его смене.
package session

import (
	"context"
	"sync"

	"github.com/UkralStul/fexora/internal/domain"
)

// Observer получает текущий аккаунт; nil означает, что вход не выполнен.
type Observer func(account *domain.Account)

// Context - наблюдаемое значение "текущий аккаунт".
// Пишет в него только шлюз идентификации, читать может кто угодно.
type Context struct {
	mu        sync.Mutex
	account   *domain.Account
	token     string
	observers map[uint64]Observer
	order     []uint64
	nextID    uint64

	// notifyMu упорядочивает рассылки, чтобы наблюдатели видели смены в порядке записи
	notifyMu sync.Mutex
}

// New создает пустой контекст сессии.
func New() *Context {
	return &Context{observers: make(map[uint64]Observer)}
}

// Current возвращает копию текущего аккаунта или nil.
func (c *Context) Current() *domain.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneAccount(c.account)
}

// Token возвращает токен текущей сессии.
func (c *Context) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Set устанавливает аккаунт и токен и оповещает наблюдателей.
func (c *Context) Set(account *domain.Account, token string) {
	c.update(cloneAccount(account), token)
}

// Clear сбрасывает сессию и оповещает наблюдателей.
func (c *Context) Clear() {
	c.update(nil, "")
}

func (c *Context) update(account *domain.Account, token string) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.account = account
	c.token = token
	observers := c.snapshotObservers()
	c.mu.Unlock()

	// Наблюдатели вызываются вне блокировки: им можно читать Current
	for _, fn := range observers {
		fn(cloneAccount(account))
	}
}

// Observe регистрирует наблюдателя. Он сразу получает текущее значение
// и затем каждое изменение. Возвращаемая функция отписки идемпотентна.
// Менять сессию из обратного вызова нельзя.
func (c *Context) Observe(fn Observer) (unsubscribe func()) {
	c.notifyMu.Lock()
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	c.order = append(c.order, id)
	current := cloneAccount(c.account)
	c.mu.Unlock()

	fn(current)
	c.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.observers, id)
		})
	}
}

// Close отписывает всех наблюдателей.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = make(map[uint64]Observer)
	c.order = nil
}

func (c *Context) snapshotObservers() []Observer {
	list := make([]Observer, 0, len(c.observers))
	alive := c.order[:0]
	for _, id := range c.order {
		if fn, ok := c.observers[id]; ok {
			list = append(list, fn)
			alive = append(alive, id)
		}
	}
	c.order = alive
	return list
}

func cloneAccount(a *domain.Account) *domain.Account {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

type contextKey struct{}

// WithContext кладет сессию в контекст запроса.
func WithContext(ctx context.Context, s *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext извлекает сессию запроса. Если ее нет, возвращается пустая сессия.
func FromContext(ctx context.Context) *Context {
	if s, ok := Lookup(ctx); ok {
		return s
	}
	return New()
}

// Lookup извлекает сессию запроса, если она есть.
func Lookup(ctx context.Context) (*Context, bool) {
	s, ok := ctx.Value(contextKey{}).(*Context)
	return s, ok && s != nil
}
