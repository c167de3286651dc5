// Package websocket is the relay's transport: it upgrades HTTP requests to
// websocket connections and pumps frames between each socket and the router.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/chatrelay/internal/config"
	"github.com/cory-johannsen/chatrelay/internal/observability"
	"github.com/cory-johannsen/chatrelay/internal/relay"
)

// Acceptor listens for websocket upgrades on an HTTP port and runs a session
// for each connection.
type Acceptor struct {
	cfg      config.ServerConfig
	limit    config.RateLimitConfig
	hub      *relay.Hub
	router   *relay.Router
	logger   *zap.Logger
	upgrader gws.Upgrader

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewAcceptor creates a websocket acceptor with the given configuration.
//
// Precondition: cfg must be valid; hub, router and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.ServerConfig, limit config.RateLimitConfig, hub *relay.Hub, router *relay.Router, logger *zap.Logger) *Acceptor {
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	a := &Acceptor{
		cfg:    cfg,
		limit:  limit,
		hub:    hub,
		router: router,
		logger: logger,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		quit: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, a.serveWS)
	mux.HandleFunc("/healthz", a.serveHealth)
	a.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

// ListenAndServe starts the HTTP listener and accepts upgrades until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns. Returns nil
// without serving when Stop has already been called.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	if a.isStopped() {
		return nil
	}
	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	defer a.wg.Done()

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		a.logger.Info("websocket upgrade rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(err),
		)
		return
	}

	a.handleConn(ws, r.RemoteAddr)
}

// handleConn runs one websocket session to completion.
func (a *Acceptor) handleConn(ws *gws.Conn, addr string) {
	start := time.Now()
	conn := relay.NewConn(addr, a.cfg.SendBuffer)
	logger := a.logger.With(observability.ConnFields(conn.ID(), addr)...)

	if err := a.hub.Register(conn); err != nil {
		logger.Info("refusing connection", zap.Error(err))
		_ = ws.WriteControl(gws.CloseMessage,
			gws.FormatCloseMessage(gws.CloseTryAgainLater, "server shutting down"),
			time.Now().Add(a.cfg.WriteTimeout))
		_ = ws.Close()
		return
	}
	logger.Info("client connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(ws, conn, a.hub, a.router, a.cfg, a.limit, logger)

	// Close the socket when quit signal received
	go func() {
		select {
		case <-a.quit:
			cancel()
			s.closeGoingAway()
		case <-ctx.Done():
		}
	}()

	s.run(ctx)

	logger.Info("session ended", zap.Duration("duration", time.Since(start)))
}

func (a *Acceptor) serveHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if !a.IsRunning() {
		status, code = "stopping", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"connections": a.hub.ConnectionCount(),
		"rooms":       a.hub.RoomCount(),
	})
}

// Stop gracefully stops the acceptor, closing the listener, sending a going-away
// close to every session, and waiting for all sessions to finish.
//
// Stop may be called before ListenAndServe, which then returns immediately.
//
// Postcondition: All connections are closed and goroutines have exited. Idempotent.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.running = false
	close(a.quit)
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

func (a *Acceptor) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
