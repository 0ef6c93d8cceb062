package audit

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// maxOutputChars bounds each of STDOUT and STDERR in a record.
const maxOutputChars = 1000

// Record is one runner invocation as written to the audit log.
type Record struct {
	Time       time.Time
	Tag        string // language for run-code, "capture" for plain commands
	ExitCode   *int   // nil when the process timed out or was killed
	TimedOut   bool
	WorkingDir string
	Stdout     string
	Stderr     string
}

// Format renders the record block:
//
//	<unix> | lang=<tag> | exit=<n|None> | timed_out=<bool> | cwd=<dir>
//	STDOUT: <output>
//	STDERR: <output>
//	---
func (r Record) Format() string {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	exit := "None"
	if r.ExitCode != nil {
		exit = strconv.Itoa(*r.ExitCode)
	}

	var b strings.Builder
	b.WriteString(strconv.FormatInt(ts.Unix(), 10))
	b.WriteString(" | lang=")
	b.WriteString(r.Tag)
	b.WriteString(" | exit=")
	b.WriteString(exit)
	b.WriteString(" | timed_out=")
	b.WriteString(strconv.FormatBool(r.TimedOut))
	b.WriteString(" | cwd=")
	b.WriteString(r.WorkingDir)
	b.WriteString("\nSTDOUT: ")
	b.WriteString(truncate(r.Stdout, maxOutputChars))
	b.WriteString("\nSTDERR: ")
	b.WriteString(truncate(r.Stderr, maxOutputChars))
	b.WriteString("\n---\n")
	return b.String()
}

// truncate keeps at most max runes and marks the cut with "...".
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
