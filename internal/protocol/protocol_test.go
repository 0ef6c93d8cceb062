package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(KindAsk, "hi", map[string]any{"prompt": "hi", "new": false})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") || strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected exactly one trailing newline, got %q", buf.String())
	}

	got, err := NewReader(&buf).ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if diff := cmp.Diff(env, got); diff != "" {
		t.Errorf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteLineEscapesNewlines(t *testing.T) {
	var buf bytes.Buffer
	env, _ := NewEnvelope(KindNotify, "line1\nline2", nil)
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("embedded newline leaked into frame: %q", buf.String())
	}

	got, err := NewReader(&buf).ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if got.Text() != "line1\nline2" {
		t.Errorf("expected message preserved, got %q", got.Text())
	}
}

func TestNewEnvelopeOmitsEmptyFields(t *testing.T) {
	env, err := NewEnvelope(KindLast, "", nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	data, _ := json.Marshal(env)
	if string(data) != `{"type":"last"}` {
		t.Errorf("expected bare type, got %s", data)
	}
}

func TestReaderSkipsBlankLines(t *testing.T) {
	r := NewReader(strings.NewReader("\n   \r\n{\"type\":\"last\"}\n"))
	env, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if env.Kind != KindLast {
		t.Errorf("expected last, got %q", env.Kind)
	}
	if _, err := r.ReadEnvelope(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if r.LinesRead() != 3 {
		t.Errorf("expected 3 lines consumed, got %d", r.LinesRead())
	}
}

func TestReaderInvalidJSONKeepsStream(t *testing.T) {
	r := NewReader(strings.NewReader("not json\n{\"type\":\"notify\",\"message\":\"ok\"}\n"))
	if _, err := r.ReadEnvelope(); !errors.Is(err, ErrInvalidJSON) {
		t.Fatalf("expected ErrInvalidJSON, got %v", err)
	}
	env, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope after bad line: %v", err)
	}
	if env.Text() != "ok" {
		t.Errorf("expected message ok, got %q", env.Text())
	}
}

func TestReaderRejectsMissingType(t *testing.T) {
	for _, line := range []string{`{"message":"x"}`, `null`, `[1,2]`, `{"type":1}`} {
		r := NewReader(strings.NewReader(line + "\n"))
		if _, err := r.ReadEnvelope(); !errors.Is(err, ErrInvalidJSON) {
			t.Errorf("%s: expected ErrInvalidJSON, got %v", line, err)
		}
	}
}

func TestReaderTooLargeKeepsStream(t *testing.T) {
	big := `{"type":"notify","message":"` + strings.Repeat("a", 64) + `"}`
	input := big + "\n" + `{"type":"last"}` + "\n"

	r := NewReaderSize(strings.NewReader(input), 32)
	if _, err := r.ReadEnvelope(); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
	env, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope after oversized line: %v", err)
	}
	if env.Kind != KindLast {
		t.Errorf("expected last, got %q", env.Kind)
	}
}

func TestReaderTooLargeBeyondBuffer(t *testing.T) {
	// Longer than the bufio buffer so the discard path runs.
	huge := strings.Repeat("x", 3*bufferSize)
	input := huge + "\n" + `{"type":"last"}` + "\n"

	r := NewReaderSize(strings.NewReader(input), bufferSize)
	if _, err := r.ReadEnvelope(); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
	env, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if env.Kind != KindLast {
		t.Errorf("expected last, got %q", env.Kind)
	}
	if r.BytesRead() != int64(len(input)) {
		t.Errorf("expected %d bytes read, got %d", len(input), r.BytesRead())
	}
}

func TestReaderUnterminatedFinalLine(t *testing.T) {
	r := NewReader(strings.NewReader(`{"type":"last"}`))
	env, err := r.ReadEnvelope()
	if err != nil {
		t.Fatalf("ReadEnvelope: %v", err)
	}
	if env.Kind != KindLast {
		t.Errorf("expected last, got %q", env.Kind)
	}
	if _, err := r.ReadEnvelope(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestHasPayload(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`{"type":"ask"}`, false},
		{`{"type":"ask","payload":null}`, false},
		{`{"type":"ask","payload":{}}`, true},
		{`{"type":"ask","payload":"s"}`, true},
	}
	for _, tc := range cases {
		env, err := NewReader(strings.NewReader(tc.raw)).ReadEnvelope()
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if env.HasPayload() != tc.want {
			t.Errorf("%s: HasPayload = %v, want %v", tc.raw, env.HasPayload(), tc.want)
		}
	}
}

func TestResponseHelpers(t *testing.T) {
	ok := OK()
	data, _ := json.Marshal(ok)
	if string(data) != `{"status":"ok"}` {
		t.Errorf("OK encodes as %s", data)
	}

	e := Error(ErrTextNoMessages)
	if e.IsOK() {
		t.Error("error response reports ok")
	}
	if e.ErrorText() != ErrTextNoMessages {
		t.Errorf("ErrorText = %q", e.ErrorText())
	}

	d := OKData(map[string]string{"message": "hi"})
	if string(d.Data) != `{"message":"hi"}` {
		t.Errorf("OKData data = %s", d.Data)
	}

	odd := Response{Status: StatusError, Data: json.RawMessage(`{"error":{"code":7}}`)}
	if odd.ErrorText() != `{"code":7}` {
		t.Errorf("non-string error = %q", odd.ErrorText())
	}
}

func TestReadResponse(t *testing.T) {
	r := NewReader(strings.NewReader(`{"status":"error","data":{"error":"Invalid JSON"}}` + "\n"))
	resp, err := r.ReadResponse()
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if resp.IsOK() || resp.ErrorText() != ErrTextInvalidJSON {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestPrepareAppliesDeadlines(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	conn := Prepare(a, 20*time.Millisecond)
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
