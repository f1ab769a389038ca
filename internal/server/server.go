// Package server exposes the message protocol over WebSocket.
//
// Each connected client sends command messages and receives correlated
// responses; entity-change events are broadcast to every client so UIs can
// refresh without polling. A /metrics endpoint serves the Prometheus
// registry and /health reports liveness.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steveyegge/boardsync/internal/engine"
	"github.com/steveyegge/boardsync/internal/router"
)

// writeTimeout bounds each client write so one stalled connection cannot
// block the broadcast loop.
const writeTimeout = 5 * time.Second

// broadcastFrame is the envelope for pushed (non-correlated) events.
type broadcastFrame struct {
	Type      string       `json:"type"` // always "event"
	Timestamp time.Time    `json:"timestamp"`
	Event     engine.Event `json:"event"`
}

// Server serves the engine's message protocol to WebSocket clients.
type Server struct {
	addr     string
	eng      *engine.Engine
	gatherer prometheus.Gatherer
	log      *slog.Logger

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan engine.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server bound to addr, dispatching through eng's router.
func New(addr string, eng *engine.Engine, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      addr,
		eng:       eng,
		gatherer:  gatherer,
		log:       log,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan engine.Event, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
	eng.SetBroadcast(s.Broadcast)
	return s
}

// Start begins listening and serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, closing every client connection.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Broadcast queues an engine event for delivery to every client.
// A full queue drops the event; clients re-pull on their next read anyway.
func (s *Server) Broadcast(ev engine.Event) {
	select {
	case s.broadcast <- ev:
	case <-s.ctx.Done():
	default:
		s.log.Warn("broadcast queue full, dropping event", "type", ev.Type)
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case ev := <-s.broadcast:
			frame := broadcastFrame{Type: "event", Timestamp: time.Now(), Event: ev}
			data, err := json.Marshal(frame)
			if err != nil {
				s.log.Error("failed to marshal event", "error", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Info("client connected", "clients", count)

	go s.readLoop(conn)
}

// readLoop decodes command messages off the connection and writes back the
// correlated response for each. Malformed frames get a validation failure
// response instead of a dropped connection.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg router.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			resp := router.Response{
				Success: false,
				Error:   fmt.Sprintf("malformed message: %v", err),
				Code:    router.CodeValidation,
			}
			s.write(conn, resp)
			continue
		}

		resp := s.eng.Router().Dispatch(msg)
		s.write(conn, resp)
	}
}

func (s *Server) write(conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.removeClient(conn)
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	_, exists := s.clients[conn]
	if exists {
		delete(s.clients, conn)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.log.Info("client disconnected", "clients", count)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
