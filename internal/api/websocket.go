package api

import (
	"context"
	"net/http"
	"time"

	"github.com/UkralStul/fexora/internal/live"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// socketMessage - кадр, который получает клиент: снимок или ошибка запроса.
type socketMessage struct {
	Type  string     `json:"type"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func (s *Server) handleFeedSocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.feed.Watch(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	streamSocket(s, w, r, sub)
}

func (s *Server) handleMyPostsSocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.posts.WatchByOwner(ctx, currentUID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	streamSocket(s, w, r, sub)
}

// streamSocket переводит соединение в websocket и пересылает снимки подписки,
// пока клиент не отключится или подписка не закончится.
func streamSocket[T any](s *Server, w http.ResponseWriter, r *http.Request, sub *live.Subscription[T]) {
	defer sub.Cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	pongWait := 2 * s.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Читаем входящие кадры только ради управляющих сообщений и обнаружения закрытия
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case snap, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			msg := socketMessage{Type: "snapshot", Data: snap.Value}
			if snap.Err != nil {
				body := toErrorBody(snap.Err)
				msg = socketMessage{Type: "error", Error: &body}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
