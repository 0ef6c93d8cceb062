// Package protocol defines the newline-delimited JSON wire format spoken
// between the lai command-line companion and the desktop application's
// loopback control plane.
//
// Every message is exactly one JSON object followed by '\n'. Requests are
// Envelopes, replies are Responses, and a connection carries one Response
// per Envelope in request order.
package protocol

import (
	"encoding/json"
	"time"
)

const (
	// DefaultAddr is the fixed loopback address of the control plane.
	DefaultAddr = "127.0.0.1:39871"

	// MaxMessageSize caps a single line (excluding the newline).
	MaxMessageSize = 1 << 20

	// ServerTimeout bounds every read and write on an accepted connection.
	ServerTimeout = 30 * time.Second

	// ClientTimeout bounds connect, read and write on the CLI side.
	ClientTimeout = 10 * time.Second

	// bufferSize is the bufio buffer used by Reader.
	bufferSize = 8192
)

// Operation selectors.
const (
	KindNotify = "notify"
	KindAsk    = "ask"
	KindLast   = "last"
	KindCreate = "create"
)

// Response statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error strings carried in Response.Data as {"error": ...}.
const (
	ErrTextTooLarge       = "Message too large"
	ErrTextInvalidJSON    = "Invalid JSON"
	ErrTextNoMessages     = "No messages found"
	ErrTextCreateDisabled = "create command only available in DEV_MODE"
	ErrTextNoPayload      = "No payload provided for create command"
)

// Envelope is one request line.
type Envelope struct {
	Kind    string          `json:"type"`
	Message *string         `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wireEnvelope distinguishes a missing "type" from an empty one.
type wireEnvelope struct {
	Kind    *string         `json:"type"`
	Message *string         `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope builds an Envelope. An empty message is omitted and a nil
// payload is omitted; any other payload is marshaled as JSON.
func NewEnvelope(kind, message string, payload any) (*Envelope, error) {
	env := &Envelope{Kind: kind}
	if message != "" {
		env.Message = &message
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return env, nil
}

// Text returns the message, or "" when absent.
func (e *Envelope) Text() string {
	if e.Message == nil {
		return ""
	}
	return *e.Message
}

// HasPayload reports whether a non-null payload was supplied.
func (e *Envelope) HasPayload() bool {
	return len(e.Payload) > 0 && string(e.Payload) != "null"
}

// Response is one reply line.
type Response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// OK returns a success response with no data.
func OK() Response {
	return Response{Status: StatusOK}
}

// OKData returns a success response carrying v. If v cannot be marshaled
// the response degrades to an error carrying the marshal failure.
func OKData(v any) Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return Error(err.Error())
	}
	return Response{Status: StatusOK, Data: raw}
}

// Error returns a failure response carrying {"error": msg}.
func Error(msg string) Response {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return Response{Status: StatusError, Data: raw}
}

// IsOK reports whether the status is "ok".
func (r *Response) IsOK() bool {
	return r.Status == StatusOK
}

// ErrorText extracts the human-readable failure from an error response.
// It falls back to the raw data when there is no string "error" field.
func (r *Response) ErrorText() string {
	if len(r.Data) == 0 {
		return "unknown error"
	}
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(r.Data, &body); err == nil && len(body.Error) > 0 {
		var s string
		if err := json.Unmarshal(body.Error, &s); err == nil {
			return s
		}
		return string(body.Error)
	}
	return string(r.Data)
}
