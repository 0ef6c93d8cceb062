package audit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Header is the metadata line of one record.
type Header struct {
	Time       time.Time
	Tag        string
	ExitCode   *int
	TimedOut   bool
	WorkingDir string
}

// Summary aggregates the headers of the current log file.
type Summary struct {
	Total    int
	Failed   int
	TimedOut int
	ByTag    map[string]int
	First    time.Time
	Last     time.Time
}

// Scan extracts record headers from a log stream. A header is only
// recognized at the start of the stream or right after a "---" line, so
// captured output that happens to look like a header is ignored.
func Scan(r io.Reader) ([]Header, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), DefaultMaxBytes)

	var headers []Header
	expect := true
	for sc.Scan() {
		line := sc.Text()
		if line == "---" {
			expect = true
			continue
		}
		if expect {
			if h, ok := parseHeader(line); ok {
				headers = append(headers, h)
			}
		}
		expect = false
	}
	if err := sc.Err(); err != nil {
		return headers, fmt.Errorf("audit: scan: %w", err)
	}
	return headers, nil
}

func parseHeader(line string) (Header, bool) {
	parts := strings.SplitN(line, " | ", 5)
	if len(parts) != 5 {
		return Header{}, false
	}
	secs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Header{}, false
	}

	h := Header{Time: time.Unix(secs, 0)}
	fields := map[string]string{}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return Header{}, false
		}
		fields[k] = v
	}

	h.Tag = fields["lang"]
	h.WorkingDir = fields["cwd"]
	h.TimedOut = fields["timed_out"] == "true"
	if exit := fields["exit"]; exit != "None" {
		n, err := strconv.Atoi(exit)
		if err != nil {
			return Header{}, false
		}
		h.ExitCode = &n
	}
	return h, true
}

// Summarize aggregates headers.
func Summarize(headers []Header) *Summary {
	s := &Summary{ByTag: make(map[string]int)}
	for _, h := range headers {
		s.Total++
		s.ByTag[h.Tag]++
		if h.TimedOut {
			s.TimedOut++
		} else if h.ExitCode == nil || *h.ExitCode != 0 {
			s.Failed++
		}
		if s.First.IsZero() || h.Time.Before(s.First) {
			s.First = h.Time
		}
		if h.Time.After(s.Last) {
			s.Last = h.Time
		}
	}
	return s
}

// Stats summarizes the current file. A missing file yields an empty summary.
func (l *Log) Stats() (*Summary, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Summarize(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: stats: %w", err)
	}
	defer f.Close()

	headers, err := Scan(f)
	if err != nil {
		return nil, err
	}
	return Summarize(headers), nil
}

// FormatSummary renders a summary for the terminal.
func FormatSummary(s *Summary) string {
	if s.Total == 0 {
		return "No executions recorded.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Executions: %d (%d failed, %d timed out)\n", s.Total, s.Failed, s.TimedOut)
	fmt.Fprintf(&b, "Range: %s to %s UTC\n",
		s.First.UTC().Format("2006-01-02 15:04:05"), s.Last.UTC().Format("2006-01-02 15:04:05"))

	tags := make([]string, 0, len(s.ByTag))
	for t := range s.ByTag {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, fmt.Sprintf("%s=%d", t, s.ByTag[t]))
	}
	fmt.Fprintf(&b, "By tag: %s\n", strings.Join(parts, ", "))
	return b.String()
}
