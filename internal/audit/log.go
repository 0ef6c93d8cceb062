// Package audit keeps the rotating plain-text record of every command the
// runner executes.
package audit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	// DefaultMaxBytes is the size past which the next append rotates.
	DefaultMaxBytes = 1 << 20

	// DefaultTailLines is used when Tail is asked for n <= 0 lines.
	DefaultTailLines = 200
)

// Log is a plain-text, size-rotated execution log. Credentials in
// captured output are redacted before they reach disk. Appends from this
// process are serialized by a mutex and appends from other processes by
// an advisory lock on "<path>.lock", so rotate-then-append is one
// critical section for every writer. At most one backup, "<path>.1", is
// kept.
type Log struct {
	path     string
	maxBytes int64
	logger   *zap.Logger
	mu       sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithMaxBytes overrides the rotation threshold.
func WithMaxBytes(n int64) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithLogger sets the diagnostic logger for swallowed failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Open prepares a log at path, creating its directory. The file itself
// is created on first append.
func Open(path string, opts ...Option) (*Log, error) {
	l := &Log{
		path:     filepath.Clean(path),
		maxBytes: DefaultMaxBytes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("component", "audit"))

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	return l, nil
}

// Path returns the current log file path.
func (l *Log) Path() string {
	return l.path
}

// Backup returns the single rotated generation's path.
func (l *Log) Backup() string {
	return l.path + ".1"
}

// Append writes one record. Failures are logged and never returned:
// auditing must not fail the caller's primary operation.
func (l *Log) Append(rec Record) {
	if err := l.append(rec); err != nil {
		l.logger.Warn("audit append failed", zap.String("path", l.path), zap.Error(err))
	}
}

func (l *Log) append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	unlock, err := lockFile(l.path + ".lock")
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer unlock()

	if info, err := os.Stat(l.path); err == nil && info.Size() > l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			l.logger.Warn("audit rotation failed", zap.String("path", l.path), zap.Error(err))
		} else {
			l.logger.Debug("audit log rotated", zap.Int64("size", info.Size()))
		}
	}

	rec, n := rec.redacted()
	if n > 0 {
		l.logger.Debug("audit record redacted", zap.Int("secrets", n))
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := f.WriteString(rec.Format()); err != nil {
		f.Close()
		return fmt.Errorf("write: %w", err)
	}
	return f.Close()
}

// Rotate moves the current file to the backup regardless of size. A
// missing current file is not an error. Failures are logged and returned.
func (l *Log) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	unlock, err := lockFile(l.path + ".lock")
	if err != nil {
		l.logger.Warn("audit lock failed", zap.String("path", l.path), zap.Error(err))
		return fmt.Errorf("audit: rotate: %w", err)
	}
	defer unlock()

	if err := l.rotateLocked(); err != nil {
		l.logger.Warn("audit rotation failed", zap.String("path", l.path), zap.Error(err))
		return fmt.Errorf("audit: rotate: %w", err)
	}
	return nil
}

// rotateLocked deletes the old backup and renames the current file over
// it. A missing current file leaves the backup alone. Callers hold both
// locks.
func (l *Log) rotateLocked() error {
	if _, err := os.Stat(l.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := os.Remove(l.Backup()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(l.path, l.Backup())
}

// Tail returns the last n lines of the current file only, joined by
// "\n" without a trailing newline. A missing file yields "".
func (l *Log) Tail(n int) (string, error) {
	if n <= 0 {
		n = DefaultTailLines
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read: %w", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return "", nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}
