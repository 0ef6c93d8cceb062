package host

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/lai/internal/client"
	"github.com/ppiankov/lai/internal/config"
	"github.com/ppiankov/lai/internal/events"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()
	return addr
}

func testConfig(t *testing.T, addr string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ListenAddr = addr
	cfg.ServerTimeout = 5 * time.Second
	cfg.Database = filepath.Join(dir, "lai.db")
	cfg.AuditLog = filepath.Join(dir, "executions.log")
	return cfg
}

func runHost(t *testing.T, h *Host) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("host did not stop")
		}
		h.Close()
	}
}

func TestHostServesNotify(t *testing.T) {
	addr := freeAddr(t)
	out := &syncBuffer{}
	h, err := New(testConfig(t, addr), zaptest.NewLogger(t), WithOutput(out))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runHost(t, h)
	defer stop()
	<-h.Server().Ready()

	c := client.New(addr, 2*time.Second)
	if err := c.Notify(context.Background(), "Build completed"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "[notify] Build completed") {
		if time.Now().After(deadline) {
			t.Fatalf("event not printed, output %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHostDevModeCreate(t *testing.T) {
	addr := freeAddr(t)
	h, err := New(testConfig(t, addr), zaptest.NewLogger(t), WithDevMode(true), WithOutput(&syncBuffer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := runHost(t, h)
	defer stop()
	<-h.Server().Ready()

	c := client.New(addr, 2*time.Second)
	msg, err := c.Create(context.Background(), "from dev", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	last, err := h.Store().LastAssistantMessage(context.Background())
	if err != nil || last == nil || last.ID != msg.ID {
		t.Fatalf("expected stored message %s, got %+v (%v)", msg.ID, last, err)
	}
}

func TestHostKeepsRunningWhenPortTaken(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	h, err := New(testConfig(t, lis.Addr().String()), zaptest.NewLogger(t), WithOutput(&syncBuffer{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("host exited on bind failure: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("host did not stop")
	}
	h.Close()
}

func TestHostRunnerAudits(t *testing.T) {
	cfg := testConfig(t, freeAddr(t))
	h, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	if _, err := h.Runner().Run(context.Background(), "echo audited", "", time.Second); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(cfg.AuditLog)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), "lang=capture") {
		t.Errorf("expected capture record, got %q", data)
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		ev   events.Event
		want string
	}{
		{events.Event{Topic: events.TopicNotify, Payload: "done"}, "[notify] done"},
		{events.Event{Topic: events.TopicAsk, Payload: "plain"}, "[ask] plain"},
		{events.Event{Topic: events.TopicAsk, Payload: json.RawMessage(`{"prompt":"why?","new":true}`)}, "[ask] why?"},
		{events.Event{Topic: events.TopicAsk, Payload: json.RawMessage(`{"new":true}`)}, `[ask] {"new":true}`},
		{events.Event{Topic: "other", Payload: 3}, "[other] 3"},
	}
	for _, tt := range tests {
		if got := FormatEvent(tt.ev); got != tt.want {
			t.Errorf("FormatEvent(%+v) = %q, want %q", tt.ev, got, tt.want)
		}
	}
}
