package websocket

import (
	"context"
	"errors"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/chatrelay/internal/config"
	"github.com/cory-johannsen/chatrelay/internal/relay"
)

// session pumps one websocket. The read pump hands frames to the router in
// arrival order; the write pump drains the connection's outbound queue and
// sends keepalive pings.
type session struct {
	ws      *gws.Conn
	conn    *relay.Conn
	hub     *relay.Hub
	router  *relay.Router
	cfg     config.ServerConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newSession(ws *gws.Conn, conn *relay.Conn, hub *relay.Hub, router *relay.Router, cfg config.ServerConfig, limit config.RateLimitConfig, logger *zap.Logger) *session {
	s := &session{
		ws:     ws,
		conn:   conn,
		hub:    hub,
		router: router,
		cfg:    cfg,
		logger: logger,
	}
	if limit.Enabled() {
		s.limiter = rate.NewLimiter(rate.Every(limit.Interval), limit.Burst)
	}
	return s
}

// run blocks until the peer disconnects or the socket is closed.
//
// Postcondition: conn is unregistered from the hub and the socket is closed.
func (s *session) run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	s.readPump(ctx)

	// Unregister closes the outbound queue, which ends the write pump.
	s.hub.Unregister(s.conn)
	<-writerDone
	_ = s.ws.Close()
}

func (s *session) readPump(ctx context.Context) {
	s.ws.SetReadLimit(s.cfg.MaxMessageSize)
	s.extendReadDeadline()
	s.ws.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.extendReadDeadline()

		if s.limiter != nil && !s.limiter.Allow() {
			s.router.RateLimited(s.conn)
			continue
		}
		s.router.HandleRaw(ctx, s.conn, data)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.conn.Outbound():
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = s.ws.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
				return
			}
			if err := s.ws.WriteMessage(gws.TextMessage, msg); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				_ = s.ws.Close()
				return
			}
		case <-ticker.C:
			_ = s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.ws.WriteMessage(gws.PingMessage, nil); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				_ = s.ws.Close()
				return
			}
		}
	}
}

// closeGoingAway tells the peer the server is stopping and closes the socket,
// which ends the read pump.
func (s *session) closeGoingAway() {
	_ = s.ws.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseGoingAway, "server shutting down"),
		time.Now().Add(s.cfg.WriteTimeout))
	_ = s.ws.Close()
}

func (s *session) extendReadDeadline() {
	if err := s.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		s.logger.Debug("setting read deadline", zap.Error(err))
	}
}

func (s *session) logReadError(err error) {
	switch {
	case errors.Is(err, gws.ErrReadLimit):
		s.logger.Info("frame exceeded maximum size", zap.Int64("max_message_size", s.cfg.MaxMessageSize))
	case gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway, gws.CloseNoStatusReceived):
		s.logger.Debug("client closed connection", zap.Error(err))
	case gws.IsUnexpectedCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway, gws.CloseAbnormalClosure):
		s.logger.Warn("unexpected websocket close", zap.Error(err))
	default:
		s.logger.Debug("websocket read ended", zap.Error(err))
	}
}
