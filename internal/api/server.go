package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Server is the HTTP+WebSocket surface over the controller, following
// the teacher's mux-plus-broadcaster shape (scheduler.WebServer).
type Server struct {
	deps Dependencies
	port int

	server    *http.Server
	upgrader  websocket.Upgrader
	clients   sync.Map
	broadcast chan []byte
	done      chan struct{}

	logger    *log.Logger
	startTime time.Time
}

// New builds a Server listening on port. A nil logger falls back to
// log.Default().
func New(deps Dependencies, port int, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	s := &Server{
		deps:      deps,
		port:      port,
		startTime: time.Now(),
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("POST /prices/refresh", s.refreshPricesHandler)
	mux.HandleFunc("GET /prices/current", s.currentPricesHandler)
	mux.HandleFunc("GET /recommendation/now", s.recommendationNowHandler)
	mux.HandleFunc("GET /state/current", s.stateCurrentHandler)
	mux.HandleFunc("POST /schedule/update", s.scheduleUpdateHandler)
	mux.HandleFunc("GET /schedule/status", s.scheduleStatusHandler)
	mux.HandleFunc("GET /schedule/history", s.scheduleHistoryHandler)
	mux.HandleFunc("POST /manual-override/set", s.manualOverrideSetHandler)
	mux.HandleFunc("GET /manual-override/status", s.manualOverrideStatusHandler)
	mux.HandleFunc("POST /manual-override/clear", s.manualOverrideClearHandler)
	mux.HandleFunc("POST /manual-override/clear-all", s.manualOverrideClearAllHandler)
	mux.HandleFunc("GET /ws/recommendations", s.wsHandler)

	return s
}

// Start begins serving and launches the broadcast goroutines. It
// returns immediately; serve errors are logged, not returned, since by
// the time they occur there is no caller left to hand them to.
func (s *Server) Start() {
	go s.handleBroadcasts()
	go s.broadcastRecommendations()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("api: server error: %v", err)
		}
	}()
}

// Stop signals the broadcast goroutines to exit, closes every open
// WebSocket connection, and shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	close(s.done)
	s.clients.Range(func(key, _ any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.server.Shutdown(ctx)
}

// PushRecommendation queues a recommendation for broadcast to every
// connected WebSocket client. Non-blocking: a full buffer drops the
// push rather than stalling the caller.
func (s *Server) PushRecommendation(rec Recommendation) {
	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.Printf("api: marshal recommendation for broadcast: %v", err)
		return
	}
	select {
	case s.broadcast <- payload:
	default:
		s.logger.Printf("api: broadcast buffer full, dropping recommendation push")
	}
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("api: websocket upgrade error: %v", err)
		return
	}
	s.clients.Store(conn, struct{}{})
	s.sendRecommendationToClient(conn)

	go func() {
		defer func() {
			s.clients.Delete(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.broadcast:
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					s.clients.Delete(conn)
					conn.Close()
				}
				return true
			})
		}
	}
}

// broadcastRecommendations pushes the latest recommendation on a fixed
// tick, only while at least one client is connected.
func (s *Server) broadcastRecommendations() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			hasClients := false
			s.clients.Range(func(_, _ any) bool {
				hasClients = true
				return false
			})
			if !hasClients {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.deps.RequestTimeout)
			rec, err := s.deps.Recommendation.Now(ctx)
			cancel()
			if err != nil {
				s.logger.Printf("api: periodic recommendation broadcast failed: %v", err)
				continue
			}
			s.PushRecommendation(rec)
		}
	}
}

func (s *Server) sendRecommendationToClient(conn *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), s.deps.RequestTimeout)
	defer cancel()
	rec, err := s.deps.Recommendation.Now(ctx)
	if err != nil {
		s.logger.Printf("api: initial recommendation send failed: %v", err)
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.clients.Delete(conn)
		conn.Close()
	}
}
