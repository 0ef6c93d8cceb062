// Package client is the CLI side of the control plane: one connection per
// call, one envelope out, one response line back.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ppiankov/lai/internal/model"
	"github.com/ppiankov/lai/internal/protocol"
)

// TransportError reports a connect, write or read failure. It is never
// retried automatically.
type TransportError struct {
	Op   string // "connect", "write" or "read"
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a well-formed response with status "error".
type ProtocolError struct {
	Kind    string
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// Client talks to the control plane at a fixed address.
type Client struct {
	addr    string
	timeout time.Duration
}

// New returns a client for addr. A non-positive timeout means
// protocol.ClientTimeout.
func New(addr string, timeout time.Duration) *Client {
	if addr == "" {
		addr = protocol.DefaultAddr
	}
	if timeout <= 0 {
		timeout = protocol.ClientTimeout
	}
	return &Client{addr: addr, timeout: timeout}
}

// Addr returns the control plane address.
func (c *Client) Addr() string {
	return c.addr
}

// Call sends one envelope on a fresh connection and returns the raw
// response, whatever its status.
func (c *Client) Call(ctx context.Context, kind, message string, payload any) (*protocol.Response, error) {
	env, err := protocol.NewEnvelope(kind, message, payload)
	if err != nil {
		return nil, fmt.Errorf("client: encode %s: %w", kind, err)
	}

	d := net.Dialer{Timeout: c.timeout}
	raw, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, &TransportError{Op: "connect", Addr: c.addr, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stop()

	conn := protocol.Prepare(raw, c.timeout)
	defer conn.Close()

	if err := protocol.WriteEnvelope(conn, env); err != nil {
		return nil, c.transportErr(ctx, "write", err)
	}
	resp, err := protocol.NewReader(conn).ReadResponse()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, c.transportErr(ctx, "read", err)
	}
	return resp, nil
}

func (c *Client) transportErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return &TransportError{Op: op, Addr: c.addr, Err: err}
}

// Do is Call with status "error" turned into a *ProtocolError. It returns
// the response data on success.
func (c *Client) Do(ctx context.Context, kind, message string, payload any) (json.RawMessage, error) {
	resp, err := c.Call(ctx, kind, message, payload)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, &ProtocolError{Kind: kind, Message: resp.ErrorText()}
	}
	return resp.Data, nil
}

// Notify shows message as a desktop notification.
func (c *Client) Notify(ctx context.Context, message string) error {
	_, err := c.Do(ctx, protocol.KindNotify, message, nil)
	return err
}

// AskRequest is the ask payload. Model and Provider encode as null when
// unset so the application falls back to its defaults.
type AskRequest struct {
	Prompt    string  `json:"prompt"`
	Model     *string `json:"model"`
	Provider  *string `json:"provider"`
	New       bool    `json:"new"`
	GUI       bool    `json:"gui"`
	RequestID string  `json:"request_id,omitempty"`
}

// Ask submits a prompt. It returns as soon as the application has
// accepted it; the answer is fetched later with Last or AwaitReply.
func (c *Client) Ask(ctx context.Context, req AskRequest) error {
	_, err := c.Do(ctx, protocol.KindAsk, "", req)
	return err
}

// Last returns the newest assistant message of the most recently updated
// conversation.
func (c *Client) Last(ctx context.Context) (*model.Message, error) {
	data, err := c.Do(ctx, protocol.KindLast, "", nil)
	if err != nil {
		return nil, err
	}
	return decodeMessage(data)
}

// Create inserts an assistant message (development mode only). An empty
// conversationID starts a new conversation.
func (c *Client) Create(ctx context.Context, content, conversationID string) (*model.Message, error) {
	payload := map[string]string{"content": content}
	if conversationID != "" {
		payload["conversation_id"] = conversationID
	}
	data, err := c.Do(ctx, protocol.KindCreate, "", payload)
	if err != nil {
		return nil, err
	}
	return decodeMessage(data)
}

func decodeMessage(data json.RawMessage) (*model.Message, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, errors.New("no data returned")
	}
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &msg, nil
}
