package stream

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Collector accumulates running counters over a decoded event stream: tool
// calls per class, distinct files touched, error count. One Collector per
// agent run; it carries no state across runs.
type Collector struct {
	startedAt time.Time

	toolCalls map[ToolClass]int
	filesRead []string
	filesMod  []string
	errors    int
	sessionID string

	// lastShellCommand pairs a shell tool call with its following result
	// so the result can be compacted with the right strategy.
	lastShellCommand string
}

func NewCollector() *Collector {
	return &Collector{
		startedAt: time.Now(),
		toolCalls: make(map[ToolClass]int),
	}
}

// Observe feeds one event into the counters. For a tool result that follows
// a classified shell command it returns the compacted record; otherwise the
// second return is false.
func (c *Collector) Observe(ev Event) (Compacted, bool) {
	switch ev.Kind {
	case KindSession:
		if ev.SessionID != "" {
			c.sessionID = ev.SessionID
		}

	case KindToolCall:
		class := ClassifyTool(ev.Tool)
		c.toolCalls[class]++
		switch class {
		case ToolRead:
			c.filesRead = appendDistinct(c.filesRead, ev.Path)
		case ToolWrite:
			c.filesMod = appendDistinct(c.filesMod, ev.Path)
		case ToolShell:
			c.lastShellCommand = ev.Command
		}

	case KindToolResult:
		cmd := c.lastShellCommand
		c.lastShellCommand = ""
		if ev.IsError {
			c.errors++
		}
		if ct := ClassifyCommand(cmd); ct != CommandOther {
			compacted := Compact(ev.Text, ct)
			if compacted.Failed() && !ev.IsError {
				c.errors++
			}
			return compacted, true
		}
	}
	return Compacted{}, false
}

// SessionID returns the agent session identifier, if one was announced.
func (c *Collector) SessionID() string { return c.sessionID }

// FilesModified returns the distinct written paths in first-touch order.
func (c *Collector) FilesModified() []string { return c.filesMod }

// Errors returns the number of failed tool results seen.
func (c *Collector) Errors() int { return c.errors }

// ToolCalls returns the total tool invocation count.
func (c *Collector) ToolCalls() int {
	n := 0
	for _, v := range c.toolCalls {
		n += v
	}
	return n
}

// Summary renders the run's counters as a single bounded line, suitable for
// the lifecycle report.
func (c *Collector) Summary() string {
	duration := time.Since(c.startedAt).Round(time.Second)

	var b strings.Builder
	fmt.Fprintf(&b, "duration %s, %d tool calls, %d files read, %d files modified",
		duration, c.ToolCalls(), len(c.filesRead), len(c.filesMod))
	if len(c.filesMod) > 0 {
		names := make([]string, 0, 5)
		for _, p := range c.filesMod {
			if len(names) == 5 {
				names = append(names, fmt.Sprintf("+%d more", len(c.filesMod)-5))
				break
			}
			names = append(names, filepath.Base(p))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(names, ", "))
	}
	if c.errors > 0 {
		fmt.Fprintf(&b, ", %d errors", c.errors)
	}
	return b.String()
}

func appendDistinct(paths []string, p string) []string {
	if p == "" {
		return paths
	}
	for _, existing := range paths {
		if existing == p {
			return paths
		}
	}
	return append(paths, p)
}
