package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCodeTimeout applies to RunCode when no timeout is given.
const DefaultCodeTimeout = 10 * time.Second

// UnsupportedLanguageError is returned by RunCode for a language outside
// the whitelist.
type UnsupportedLanguageError struct {
	Language string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("Unsupported language: %s", e.Language)
}

type interpreter struct {
	suffix  string
	program string
}

var interpreters = map[string]interpreter{
	"bash":       {suffix: ".sh", program: "sh"},
	"sh":         {suffix: ".sh", program: "sh"},
	"zsh":        {suffix: ".sh", program: "sh"},
	"python":     {suffix: ".py", program: "python3"},
	"node":       {suffix: ".js", program: "node"},
	"javascript": {suffix: ".js", program: "node"},
}

// Languages returns the accepted language names.
func Languages() []string {
	return []string{"bash", "sh", "zsh", "python", "node", "javascript"}
}

// RunCode writes code to a temporary file and runs it with the language's
// interpreter. The language match is case-insensitive; the audit record
// carries the language as given.
func (r *Runner) RunCode(ctx context.Context, language, code, cwd string, timeout time.Duration) (*Result, error) {
	interp, ok := interpreters[strings.ToLower(language)]
	if !ok {
		return nil, &UnsupportedLanguageError{Language: language}
	}
	if timeout <= 0 {
		timeout = DefaultCodeTimeout
	}

	tmp, err := os.CreateTemp("", "lai-run-*"+interp.suffix)
	if err != nil {
		return nil, fmt.Errorf("runner: create temp file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		if err := os.Remove(path); err != nil {
			r.logger.Debug("temp file cleanup failed", zap.String("path", path), zap.Error(err))
		}
	}()

	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("runner: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("runner: write temp file: %w", err)
	}

	display := interp.program + " " + path
	res, err := r.exec(ctx, display, interp.program, []string{path}, cwd, timeout)
	if res != nil {
		r.record(language, res)
	}
	return res, err
}
