package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/mnema/internal/config"
	"github.com/scrypster/mnema/internal/engine"
	"github.com/scrypster/mnema/internal/storage"
)

// Server owns the HTTP listener and the websocket activity hub.
type Server struct {
	httpServer *http.Server
	hub        *ActivityHub

	// Addr is the bound listen address, useful with port 0 in tests.
	Addr string
}

// New wires the engine and store into a configured HTTP server. The
// engine's activity events are forwarded to the websocket hub.
func New(cfg *config.Config, eng *engine.Engine, store storage.Store) *Server {
	hub := NewActivityHub()
	eng.OnActivity(func(event string) {
		hub.Broadcast("activity", event)
	})

	handlers := NewHandlers(eng, store)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ingest", handlers.PostIngest)
	mux.HandleFunc("POST /api/retrieve", handlers.PostRetrieve)
	mux.HandleFunc("GET /api/entities", handlers.ListEntities)
	mux.HandleFunc("GET /api/entities/{id}/facts", handlers.GetEntityFacts)
	mux.HandleFunc("GET /api/entities/{id}/graph", handlers.GetEntityGraph)
	mux.HandleFunc("GET /api/facts/{id}/history", handlers.GetFactHistory)
	mux.HandleFunc("POST /api/facts/{id}/correct", handlers.PostFactCorrect)
	mux.HandleFunc("POST /api/cascade/invalidate", handlers.PostCascadeInvalidate)
	mux.HandleFunc("POST /api/cascade/restore", handlers.PostCascadeRestore)
	mux.HandleFunc("POST /api/maintenance/{job}", handlers.PostMaintenance)
	mux.HandleFunc("GET /api/stats", handlers.GetStats)
	mux.HandleFunc("GET /api/health", handlers.GetHealth)
	mux.Handle("/ws", hub)

	rl := NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	var handler http.Handler = mux
	handler = RateLimit(handler, rl)
	handler = RequireAuth(handler, &cfg.Server)
	handler = securityHeaders(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		hub: hub,
	}
}

// Hub exposes the activity hub for tests and manual broadcasts.
func (s *Server) Hub() *ActivityHub { return s.hub }

// Handler exposes the full middleware chain for httptest servers.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens and serves until ctx is cancelled, then drains with a
// shutdown grace period.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	s.Addr = ln.Addr().String()

	go s.hub.Run()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.Printf("server: listening on %s", s.Addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Stop()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	log.Println("server: stopped")
	return nil
}
