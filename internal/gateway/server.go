// Package gateway hosts the inbound HTTP surface: provider webhook
// endpoints, the webchat WebSocket endpoint and the health check. Inbound
// payloads are verified, normalized through the channel adapter and handed
// to the router.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/mcpgate/internal/channel"
	"github.com/soyeahso/mcpgate/internal/config"
	"github.com/soyeahso/mcpgate/internal/logging"
	"github.com/soyeahso/mcpgate/internal/routing"
	"github.com/soyeahso/mcpgate/internal/store"
)

// maxWebhookBody caps how much of a webhook delivery is read.
const maxWebhookBody = 1 << 20 // 1MB

// Server is the mcpgate webhook gateway.
type Server struct {
	cfg      config.Config
	log      *logging.Logger
	router   *routing.Router
	adapters map[string]channel.Adapter // channel id → adapter
	store    *store.ConversationStore

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithAdapters sets the channel adapters the gateway serves, keyed by
// channel id.
func WithAdapters(adapters map[string]channel.Adapter) ServerOption {
	return func(s *Server) {
		s.adapters = adapters
	}
}

// WithStore enables conversation persistence for inbound messages.
func WithStore(cs *store.ConversationStore) ServerOption {
	return func(s *Server) {
		s.store = cs
	}
}

// New creates a gateway server.
func New(cfg config.Config, router *routing.Router, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log.Sub("gateway"),
		router:   router,
		adapters: make(map[string]channel.Adapter),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The webchat widget is embedded in third-party pages, so
			// cross-origin upgrades are expected.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BuildAdapters instantiates an adapter for every configured channel.
// The normalizer section supplies default settings that each channel's own
// settings override. Adapter construction fails closed, but a misconfigured
// channel only takes itself down: the failure is logged and the rest still
// start.
func BuildAdapters(cfg config.Config, reg *channel.Registry, log *logging.Logger) map[string]channel.Adapter {
	defaults := cfg.Normalizer.AdapterDefaults()
	adapters := make(map[string]channel.Adapter, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		settings := make(map[string]any, len(defaults)+len(cc.Settings))
		for k, v := range defaults {
			settings[k] = v
		}
		for k, v := range cc.Settings {
			settings[k] = v
		}
		adapter, err := reg.Create(cc.Type, channel.Config{
			ChannelID: cc.ChannelID,
			TenantID:  cc.TenantID,
			Enabled:   cc.IsEnabled(),
			Settings:  settings,
		}, log)
		if err != nil {
			log.Error().Err(err).Str("channel", cc.ChannelID).Str("channelType", cc.Type).
				Msg("skipping misconfigured channel")
			continue
		}
		adapters[cc.ChannelID] = adapter
	}
	return adapters
}

// Handler returns the gateway's HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /webhooks/{channel}", s.handleWebhookVerify)
	mux.HandleFunc("POST /webhooks/{channel}", s.handleWebhook)
	mux.HandleFunc("GET /ws/{channel}", s.handleWebSocket)
	mux.HandleFunc("/", handleNotFound)
	return withMiddleware(mux, s.log)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.Host
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for webhook and WebSocket traffic. It blocks
// until the context is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Int("channels", len(s.adapters)).
		Msg("gateway server ready")

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.closeSessions()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// closeSessions closes every live WebSocket session across adapters.
func (s *Server) closeSessions() {
	for _, adapter := range s.adapters {
		if host, ok := adapter.(sessionHost); ok {
			host.Connections().CloseAll()
		}
	}
}

// lookupAdapter resolves a webhook path segment to an adapter. Channel ids
// take precedence; a bare channel type matches its first configured
// instance.
func (s *Server) lookupAdapter(ref string) (channel.Adapter, bool) {
	if adapter, ok := s.adapters[ref]; ok {
		return adapter, true
	}
	ids := make([]string, 0, len(s.adapters))
	for id := range s.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if s.adapters[id].Type() == ref {
			return s.adapters[id], true
		}
	}
	return nil, false
}
