package graph

import (
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/UkralStul/fexora/graph/generated"
	"github.com/gorilla/websocket"
)

// HandlerConfig - настройки GraphQL-сервера.
type HandlerConfig struct {
	// CheckOrigin проверяет Origin websocket-подключений; nil пропускает всех.
	CheckOrigin     func(r *http.Request) bool
	KeepAlive       time.Duration
	ComplexityLimit int
}

// NewHandler собирает GraphQL-сервер: запросы и мутации по HTTP, подписки по websocket.
func NewHandler(r *Resolver, cfg HandlerConfig) *handler.Server {
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = func(r *http.Request) bool { return true }
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 10 * time.Second
	}
	if cfg.ComplexityLimit <= 0 {
		cfg.ComplexityLimit = 500
	}

	srv := handler.New(generated.NewExecutableSchema(generated.Config{Resolvers: r}))
	srv.AddTransport(&transport.Websocket{
		Upgrader: websocket.Upgrader{
			CheckOrigin: cfg.CheckOrigin,
		},
		KeepAlivePingInterval: cfg.KeepAlive,
	})
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	srv.Use(extension.FixedComplexityLimit(cfg.ComplexityLimit))
	srv.SetErrorPresenter(PresentError)
	return srv
}
