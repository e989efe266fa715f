// Package changefeed доставляет события об изменениях коллекций подписчикам.
// Подписчики используют события только как сигнал перечитать данные.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Коллекции, об изменениях которых публикуются события.
const (
	CollectionPosts = "posts"
	CollectionUsers = "users"
)

// Op - вид изменения документа.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
	// OpResync - события могли потеряться (переподключение к брокеру),
	// подписчикам нужно перечитать коллекцию целиком.
	OpResync Op = "resync"
)

// subscriberBuffer - емкость канала одного подписчика.
const subscriberBuffer = 64

// ErrClosed возвращается при работе с закрытым брокером.
var ErrClosed = errors.New("changefeed: broker closed")

// Event - уведомление об изменении документа.
type Event struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	DocID      string    `json:"docId"`
	OwnerID    string    `json:"ownerId,omitempty"`
	Op         Op        `json:"op"`
	At         time.Time `json:"at"`
}

// NewEvent создает событие с уникальным сортируемым ID.
func NewEvent(collection, docID, ownerID string, op Op, at time.Time) Event {
	return Event{
		ID:         ulid.Make().String(),
		Collection: collection,
		DocID:      docID,
		OwnerID:    ownerID,
		Op:         op,
		At:         at,
	}
}

// NewResyncEvent создает событие OpResync для всей коллекции.
func NewResyncEvent(collection string, at time.Time) Event {
	return NewEvent(collection, "", "", OpResync, at)
}

// IsResync сообщает, что событие относится ко всей коллекции, а не к одному документу.
func (e Event) IsResync() bool { return e.Op == OpResync }

// Broker публикует события и раздает их подписчикам коллекции.
//
// Канал подписчика закрывается после отписки или закрытия брокера.
// Если подписчик не успевает читать, новые события для него отбрасываются,
// но только пока в его буфере лежит хотя бы одно недоставленное событие.
type Broker interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe возвращает канал событий и функцию отписки. Отписка идемпотентна;
	// отмена ctx тоже отписывает.
	Subscribe(ctx context.Context, collection string) (<-chan Event, func(), error)
	Close() error
}

func encodeEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

func decodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// offer кладет событие в канал, не блокируясь.
func offer(ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}
