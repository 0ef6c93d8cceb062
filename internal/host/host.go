// Package host wires the headless application: conversation store, audit
// log, event bus, runner and control plane.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/lai/internal/audit"
	"github.com/ppiankov/lai/internal/config"
	"github.com/ppiankov/lai/internal/events"
	"github.com/ppiankov/lai/internal/runner"
	"github.com/ppiankov/lai/internal/server"
	"github.com/ppiankov/lai/internal/store"
)

const eventBuffer = 64

// Host owns every long-lived component of the application process.
type Host struct {
	cfg     *config.Config
	devMode bool
	out     io.Writer
	logger  *zap.Logger

	store  *store.Store
	audit  *audit.Log
	bus    *events.Bus
	runner *runner.Runner
	server *server.Server
}

// Option configures a Host.
type Option func(*Host)

// WithDevMode unlocks the create operation on the control plane.
func WithDevMode(on bool) Option {
	return func(h *Host) { h.devMode = on }
}

// WithOutput sets where notify and ask events are printed. Default stdout.
func WithOutput(w io.Writer) Option {
	return func(h *Host) {
		if w != nil {
			h.out = w
		}
	}
}

// New opens the store and audit log and builds the remaining components.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Host{cfg: cfg, out: os.Stdout}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logger.With(zap.String("component", "host"))

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	log, err := audit.Open(cfg.AuditLog, audit.WithMaxBytes(cfg.AuditMaxBytes), audit.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("host: %w", err)
	}

	h.store = st
	h.audit = log
	h.bus = events.NewBus()
	h.runner = runner.New(runner.WithAudit(log), runner.WithLogger(logger))
	h.server = server.New(server.Config{
		Addr:    cfg.ListenAddr,
		Timeout: cfg.ServerTimeout,
		DevMode: h.devMode,
	}, st, h.bus, logger)
	return h, nil
}

// Store returns the conversation store.
func (h *Host) Store() *store.Store { return h.store }

// Runner returns the audited process runner.
func (h *Host) Runner() *runner.Runner { return h.runner }

// Server returns the control plane.
func (h *Host) Server() *server.Server { return h.server }

// Run serves the control plane and prints events until ctx is cancelled.
// If the control plane cannot bind, the failure is logged and the host
// keeps running without CLI integration.
func (h *Host) Run(ctx context.Context) error {
	ch, unsubscribe := h.bus.Subscribe(eventBuffer)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.server.Serve(gctx); err != nil {
			h.logger.Error("control plane unavailable, CLI integration disabled", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		h.printEvents(gctx, ch)
		return nil
	})
	return g.Wait()
}

// Close releases the bus and the store.
func (h *Host) Close() error {
	h.bus.Close()
	if dropped := h.bus.Dropped(); dropped > 0 {
		h.logger.Warn("events dropped", zap.Int64("count", dropped))
	}
	return h.store.Close()
}

func (h *Host) printEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintln(h.out, FormatEvent(ev))
		}
	}
}

// FormatEvent renders an event as one line for the headless console.
func FormatEvent(ev events.Event) string {
	switch ev.Topic {
	case events.TopicNotify:
		return fmt.Sprintf("[notify] %v", ev.Payload)
	case events.TopicAsk:
		return "[ask] " + askPrompt(ev.Payload)
	default:
		return fmt.Sprintf("[%s] %v", ev.Topic, ev.Payload)
	}
}

// askPrompt pulls the prompt out of an ask payload, falling back to the
// raw text.
func askPrompt(payload any) string {
	switch p := payload.(type) {
	case string:
		return p
	case json.RawMessage:
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.Unmarshal(p, &req); err == nil && req.Prompt != "" {
			return req.Prompt
		}
		return string(p)
	default:
		return fmt.Sprint(p)
	}
}
