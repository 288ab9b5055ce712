// Package realtime serves the websocket subscriber endpoint.
package realtime

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"market_feed_backend/middleware"
	"market_feed_backend/models"
	"market_feed_backend/services/registry"
)

// DefaultMaxClients caps concurrent websocket subscribers
const DefaultMaxClients = 1000

// ProtocolError rejects a connection that did not name a valid feed kind
type ProtocolError struct {
	Value string
}

func (e *ProtocolError) Error() string {
	if e.Value == "" {
		return "missing feed type"
	}
	return fmt.Sprintf("unsupported feed type %q", e.Value)
}

// Service upgrades subscriber connections and registers them
type Service struct {
	registry   *registry.Registry
	upgrader   websocket.Upgrader
	maxClients int
	logger     *zap.SugaredLogger
}

// NewService creates the websocket service
func NewService(reg *registry.Registry, maxClients int, logger *zap.SugaredLogger) *Service {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	return &Service{
		registry:   reg,
		maxClients: maxClients,
		logger:     logger.Named("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the request and subscribes it to ?type=stocks|news
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.registry.Len() >= s.maxClients {
		s.logger.Warnf("WebSocket client rejected: max clients reached (%d)", s.maxClients)
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	rawKind := r.URL.Query().Get("type")
	kind, err := models.ParseFeedKind(rawKind)
	if err != nil {
		protoErr := &ProtocolError{Value: rawKind}
		s.logger.Infow("Rejecting websocket subscriber", "remote", r.RemoteAddr, "error", protoErr)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, protoErr.Error()),
			time.Now().Add(WebSocketWriteTimeout))
		conn.Close()
		return
	}

	client := newClient(conn, s.logger)
	sub := s.registry.Register(client, kind)
	s.logger.Infow("WebSocket client connected",
		"feed", string(kind),
		"subscriber", sub.ID.String(),
		"subject", middleware.SubjectFromContext(r.Context()),
		"clients", s.registry.Len(),
	)

	go client.writePump()
	go client.readPump(func() {
		if s.registry.Unregister(client) {
			s.logger.Infof("WebSocket client %s disconnected. Total clients: %d", sub.ID, s.registry.Len())
		}
	})
}
