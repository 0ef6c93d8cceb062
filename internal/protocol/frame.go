package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrMessageTooLarge is returned for a line longer than the reader's cap.
	// The offending line has been consumed; the stream remains usable.
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrInvalidJSON is returned for a line that is not a valid envelope.
	// The offending line has been consumed; the stream remains usable.
	ErrInvalidJSON = errors.New("protocol: invalid JSON")
)

// Reader splits a byte stream into lines and decodes them.
type Reader struct {
	br    *bufio.Reader
	max   int
	bytes int64
	lines int
}

// NewReader returns a Reader with the default MaxMessageSize cap.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, MaxMessageSize)
}

// NewReaderSize returns a Reader with a custom line cap.
func NewReaderSize(r io.Reader, max int) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, bufferSize), max: max}
}

// BytesRead returns the number of bytes consumed so far.
func (r *Reader) BytesRead() int64 {
	return r.bytes
}

// LinesRead returns the number of lines consumed so far, including
// blank, oversized and malformed ones.
func (r *Reader) LinesRead() int {
	return r.lines
}

// ReadEnvelope returns the next envelope, skipping blank lines.
// io.EOF means the peer closed the stream between messages.
func (r *Reader) ReadEnvelope() (*Envelope, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var w wireEnvelope
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		if w.Kind == nil {
			return nil, fmt.Errorf("%w: missing type", ErrInvalidJSON)
		}
		return &Envelope{Kind: *w.Kind, Message: w.Message, Payload: w.Payload}, nil
	}
}

// ReadResponse returns the next response line.
func (r *Reader) ReadResponse() (*Response, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &resp, nil
}

// readLine returns one line without its terminator. An unterminated final
// line is returned as-is; the following call reports io.EOF.
func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		r.bytes += int64(len(chunk))

		if len(line)+len(chunk) > r.max+2 {
			r.lines++
			if errors.Is(err, bufio.ErrBufferFull) {
				if derr := r.discardLine(); derr != nil {
					return nil, derr
				}
			}
			return nil, ErrMessageTooLarge
		}
		line = append(line, chunk...)

		switch {
		case err == nil:
			r.lines++
			return r.checkSize(trimEOL(line))
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			r.lines++
			return r.checkSize(trimEOL(line))
		default:
			return nil, err
		}
	}
}

func (r *Reader) checkSize(line []byte) ([]byte, error) {
	if len(line) > r.max {
		return nil, ErrMessageTooLarge
	}
	return line, nil
}

// discardLine drops input up to and including the next newline.
func (r *Reader) discardLine() error {
	for {
		chunk, err := r.br.ReadSlice('\n')
		r.bytes += int64(len(chunk))
		switch {
		case err == nil, errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return err
		}
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

// WriteLine marshals v as one JSON object followed by '\n' and writes it
// in a single call. encoding/json escapes control characters, so the
// encoded object never contains a raw newline.
func WriteLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return err
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// WriteEnvelope writes one request line.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	return WriteLine(w, env)
}

// WriteResponse writes one reply line.
func WriteResponse(w io.Writer, resp Response) error {
	return WriteLine(w, resp)
}
