package stream

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	maxSnippetLines = 20
	// maxCompactBytes is the hard ceiling on a compacted record. The
	// lifecycle report must never carry unbounded payloads.
	maxCompactBytes = 2000
	// maxFailures and maxFailureMessageBytes bound the failure list once
	// the ceiling is in play.
	maxFailures            = 10
	maxFailureMessageBytes = 160
)

// FailureLocation points at one reported failure.
type FailureLocation struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Compacted is the bounded form of a verbose command output: a one-line
// verdict, structured failure locations, and at most a short raw tail.
// Compaction is lossy; the full transcript is retained separately if at all.
type Compacted struct {
	Summary  string            `json:"summary"`
	Failures []FailureLocation `json:"failures,omitempty"`
	Snippet  string            `json:"snippet,omitempty"`
}

// Failed reports whether the compacted output describes a failure.
func (c Compacted) Failed() bool {
	return len(c.Failures) > 0 || strings.HasPrefix(c.Summary, "FAIL")
}

var (
	testPassedRe  = regexp.MustCompile(`(\d+)\s+passed`)
	testFailedRe  = regexp.MustCompile(`(\d+)\s+failed`)
	testErrorRe   = regexp.MustCompile(`(\d+)\s+error`)
	testFailLocRe = regexp.MustCompile(`FAILED\s+([^:\s]+)::(\w+)\s*-\s*(.+)`)

	typeErrCountRe = regexp.MustCompile(`Found\s+(\d+)\s+error`)
	typeErrLocRe   = regexp.MustCompile(`(?m)^([^\s:]+):(\d+):\s*error:\s*(.+?)(?:\s+\[|$)`)

	lintErrLocRe = regexp.MustCompile(`(?m)^([^\s:]+):(\d+):\d+:\s*(\S.+)$`)
)

// Compact compresses raw command output into a Compacted record using the
// strategy for commandType. It is pure and stateless: the same input always
// yields the same record, regardless of what was compacted before.
func Compact(raw string, commandType CommandType) Compacted {
	if strings.TrimSpace(raw) == "" {
		return Compacted{Summary: "no output"}
	}

	var c Compacted
	switch commandType {
	case CommandTestRunner:
		c = compactTestRun(raw)
	case CommandTypeChecker:
		c = compactTypeCheck(raw)
	case CommandLinter:
		c = compactLint(raw)
	default:
		c = Compacted{Summary: "output", Snippet: lastLines(raw, maxSnippetLines)}
	}
	return enforceCeiling(c)
}

func compactTestRun(raw string) Compacted {
	passed := firstCount(testPassedRe, raw)
	failed := firstCount(testFailedRe, raw)
	errored := firstCount(testErrorRe, raw)

	if failed+errored > 0 {
		var parts []string
		if failed > 0 {
			parts = append(parts, fmt.Sprintf("%d failed", failed))
		}
		if errored > 0 {
			parts = append(parts, fmt.Sprintf("%d error", errored))
		}
		if passed > 0 {
			parts = append(parts, fmt.Sprintf("%d passed", passed))
		}
		return Compacted{
			Summary:  "FAIL: " + strings.Join(parts, ", "),
			Failures: testFailures(raw),
			Snippet:  lastLines(raw, maxSnippetLines),
		}
	}
	if passed > 0 {
		return Compacted{Summary: fmt.Sprintf("PASS: %d passed", passed)}
	}
	return Compacted{Summary: "unrecognized test output", Snippet: lastLines(raw, maxSnippetLines)}
}

func testFailures(raw string) []FailureLocation {
	var out []FailureLocation
	for _, m := range testFailLocRe.FindAllStringSubmatch(raw, -1) {
		file := m[1]
		// The per-test line number, when present, appears elsewhere in the
		// transcript as "path:NN:".
		line := 0
		lineRe := regexp.MustCompile(regexp.QuoteMeta(file) + `:(\d+):`)
		if lm := lineRe.FindStringSubmatch(raw); lm != nil {
			line, _ = strconv.Atoi(lm[1])
		}
		out = append(out, FailureLocation{File: file, Line: line, Message: strings.TrimSpace(m[3])})
	}
	return out
}

func compactTypeCheck(raw string) Compacted {
	if strings.Contains(raw, "Success") {
		return Compacted{Summary: "PASS: type check clean"}
	}
	failures := locations(typeErrLocRe, raw)
	count := firstCount(typeErrCountRe, raw)
	if count == 0 {
		count = len(failures)
	}
	if count > 0 {
		return Compacted{
			Summary:  fmt.Sprintf("FAIL: %d type errors", count),
			Failures: failures,
			Snippet:  lastLines(raw, maxSnippetLines),
		}
	}
	return Compacted{Summary: "unrecognized type checker output", Snippet: lastLines(raw, maxSnippetLines)}
}

func compactLint(raw string) Compacted {
	failures := locations(lintErrLocRe, raw)
	if len(failures) > 0 {
		return Compacted{
			Summary:  fmt.Sprintf("FAIL: %d lint findings", len(failures)),
			Failures: failures,
			Snippet:  lastLines(raw, maxSnippetLines),
		}
	}
	return Compacted{Summary: "PASS: lint clean"}
}

func locations(re *regexp.Regexp, raw string) []FailureLocation {
	var out []FailureLocation
	for _, m := range re.FindAllStringSubmatch(raw, -1) {
		line, _ := strconv.Atoi(m[2])
		out = append(out, FailureLocation{File: m[1], Line: line, Message: strings.TrimSpace(m[3])})
	}
	return out
}

func firstCount(re *regexp.Regexp, raw string) int {
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// enforceCeiling trims a record down to maxCompactBytes. The snippet goes
// first, then failure messages are clipped, then failures are dropped from
// the end until the record fits.
func enforceCeiling(c Compacted) Compacted {
	if size(c) <= maxCompactBytes {
		return c
	}
	remaining := maxCompactBytes - len(c.Summary)
	for _, f := range c.Failures {
		remaining -= failureSize(f)
	}
	if remaining > 0 && c.Snippet != "" {
		c.Snippet = c.Snippet[:min(remaining, len(c.Snippet))]
		if size(c) <= maxCompactBytes {
			return c
		}
	}
	c.Snippet = ""
	if len(c.Failures) > maxFailures {
		c.Failures = c.Failures[:maxFailures]
	}
	for i, f := range c.Failures {
		if len(f.Message) > maxFailureMessageBytes {
			c.Failures[i].Message = f.Message[:maxFailureMessageBytes] + "..."
		}
	}
	for len(c.Failures) > 0 && size(c) > maxCompactBytes {
		c.Failures = c.Failures[:len(c.Failures)-1]
	}
	if len(c.Summary) > maxCompactBytes {
		c.Summary = c.Summary[:maxCompactBytes]
	}
	return c
}

func size(c Compacted) int {
	n := len(c.Summary) + len(c.Snippet)
	for _, f := range c.Failures {
		n += failureSize(f)
	}
	return n
}

func failureSize(f FailureLocation) int {
	return len(f.File) + len(f.Message) + 16
}
