// Package diagnose turns the observable outcome of a command into a short
// human-readable summary of what likely went wrong.
package diagnose

import (
	"fmt"
	"strings"
)

// Fallback is returned when no signal matched.
const Fallback = "Command completed but may have issues"

// rule matches lowercased stderr and contributes one advisory sentence.
type rule struct {
	match  func(lower string) bool
	advice string
}

// rules run in order; every matching rule contributes.
var rules = []rule{
	{
		match:  containsAll("permission denied"),
		advice: "Permission issue - try with sudo or check file permissions",
	},
	{
		match:  containsAny("command not found", "no such file"),
		advice: "Command or file not found - check spelling and PATH",
	},
	{
		match:  containsAll("connection", "refused"),
		advice: "Connection refused - check if service is running",
	},
	{
		match:  containsAny("out of memory", "oom"),
		advice: "Memory issue - consider freeing up memory or using less memory-intensive options",
	},
}

// Needed reports whether a result warrants a summary: the process did not
// exit normally, exited non-zero, or wrote to stderr.
func Needed(stderr string, exitCode *int) bool {
	if exitCode == nil || *exitCode != 0 {
		return true
	}
	return stderr != ""
}

// Summarize classifies a finished command. Signals are joined with "; ".
// stdout is accepted for future rules and currently unused.
func Summarize(stderr, stdout string, exitCode *int) string {
	var signals []string

	switch {
	case exitCode == nil:
		signals = append(signals, "Process did not exit normally (timed out or killed)")
	case *exitCode != 0:
		signals = append(signals, fmt.Sprintf("Process exited with code %d", *exitCode))
	}

	if stderr != "" {
		signals = append(signals, "Error output detected")
		lower := strings.ToLower(stderr)
		for _, r := range rules {
			if r.match(lower) {
				signals = append(signals, r.advice)
			}
		}
	}

	if len(signals) == 0 {
		return Fallback
	}
	return strings.Join(signals, "; ")
}

func containsAll(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if !strings.Contains(s, sub) {
				return false
			}
		}
		return true
	}
}

func containsAny(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}
