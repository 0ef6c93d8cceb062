// Package server is the loopback control plane: it accepts connections
// from the lai CLI and dispatches newline-delimited JSON requests into
// the conversation store and the UI event stream.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/lai/internal/events"
	"github.com/ppiankov/lai/internal/model"
	"github.com/ppiankov/lai/internal/protocol"
)

// acceptBackoff pauses the accept loop after a transient failure.
const acceptBackoff = 50 * time.Millisecond

// ConversationStore is the slice of the conversation database the control
// plane needs. Implementations serialize their own access.
type ConversationStore interface {
	LastAssistantMessage(ctx context.Context) (*model.Message, error)
	CreateConversation(ctx context.Context, in model.NewConversation) (*model.Conversation, error)
	CreateMessage(ctx context.Context, in model.NewMessage) (*model.Message, error)
}

// Config holds control plane configuration.
type Config struct {
	Addr    string        // listen address, protocol.DefaultAddr when empty
	Timeout time.Duration // per read/write bound, protocol.ServerTimeout when zero
	DevMode bool          // unlocks the create operation; fixed for the process lifetime
}

// Server accepts connections and handles each on its own goroutine.
// Responses on one connection are written in request order.
type Server struct {
	cfg    Config
	store  ConversationStore
	events events.Emitter
	logger *zap.Logger

	mu      sync.Mutex
	lis     net.Listener
	conns   map[net.Conn]struct{}
	closing bool

	readyCh   chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a control plane server. store and emitter may be nil; a nil
// logger discards diagnostics.
func New(cfg Config, store ConversationStore, emitter events.Emitter, logger *zap.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = protocol.DefaultAddr
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = protocol.ServerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		events:  emitter,
		logger:  logger.With(zap.String("component", "control-plane")),
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan struct{}),
	}
}

// Serve binds the configured address and serves until ctx is cancelled.
// A bind failure is returned immediately.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeOn(ctx, lis)
}

// ServeOn serves on an existing listener until ctx is cancelled or the
// listener is closed. Cancelling ctx also closes every open connection.
// It returns once all connection goroutines have exited.
func (s *Server) ServeOn(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })

	s.logger.Info("control plane listening",
		zap.String("addr", lis.Addr().String()),
		zap.Bool("dev_mode", s.cfg.DevMode),
	)

	stop := context.AfterFunc(ctx, func() {
		_ = lis.Close()
		s.closeConns()
	})
	defer stop()
	defer s.wg.Wait()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("control plane stopped")
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			time.Sleep(acceptBackoff)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(ctx, conn)
		}()
	}
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.readyCh
}

// Addr returns the bound address, or nil before Serve binds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for c := range s.conns {
		_ = c.Close()
	}
}

// handleConn reads envelopes until EOF or a transport error, answering
// each one before reading the next.
func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	start := time.Now()
	remote := raw.RemoteAddr().String()

	conn := protocol.Prepare(raw, s.cfg.Timeout)
	defer conn.Close()

	r := protocol.NewReader(conn)
	w := bufio.NewWriter(conn)
	handled := 0

	defer func() {
		s.logger.Debug("connection closed",
			zap.String("remote", remote),
			zap.Duration("duration", time.Since(start)),
			zap.Int("messages", handled),
			zap.Int64("bytes_read", r.BytesRead()),
		)
	}()

	for {
		env, err := r.ReadEnvelope()

		var resp protocol.Response
		switch {
		case err == nil:
			resp = s.Dispatch(ctx, env)
		case errors.Is(err, protocol.ErrMessageTooLarge):
			resp = protocol.Error(protocol.ErrTextTooLarge)
		case errors.Is(err, protocol.ErrInvalidJSON):
			resp = protocol.Error(protocol.ErrTextInvalidJSON)
		default:
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("connection read ended", zap.String("remote", remote), zap.Error(err))
			}
			return
		}

		if err := protocol.WriteResponse(w, resp); err != nil {
			s.logger.Debug("response write failed", zap.String("remote", remote), zap.Error(err))
			return
		}
		handled++
	}
}
