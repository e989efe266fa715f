package changefeed

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory - брокер внутри процесса.
type Memory struct {
	mu sync.RWMutex
	//          map[collection] map[subscriberID] channel
	subs   map[string]map[string]chan Event
	closed bool
}

// NewMemory создает брокер внутри процесса.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[string]map[string]chan Event),
	}
}

func (m *Memory) Publish(ctx context.Context, ev Event) error {
	// Отправка под RLock: отписка закрывает канал только под Lock
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	for _, ch := range m.subs[ev.Collection] {
		offer(ch, ev)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, collection string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	subID := uuid.NewString()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if m.subs[collection] == nil {
		m.subs[collection] = make(map[string]chan Event)
	}
	m.subs[collection][subID] = ch
	m.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() { m.remove(collection, subID) })
	}
	// Очистка при отмене контекста подписчика
	stop := context.AfterFunc(ctx, remove)
	unsubscribe := func() {
		stop()
		remove()
	}

	return ch, unsubscribe, nil
}

func (m *Memory) remove(collection, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.subs[collection]
	if !ok {
		return
	}
	if ch, ok := subs[subID]; ok {
		delete(subs, subID)
		close(ch)
	}
	if len(subs) == 0 {
		delete(m.subs, collection)
	}
}

// Subscribers возвращает число активных подписчиков коллекции.
func (m *Memory) Subscribers(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[collection])
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	m.subs = make(map[string]map[string]chan Event)
	return nil
}

var _ Broker = (*Memory)(nil)
