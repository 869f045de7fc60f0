package run

import (
	"strings"
	"testing"

	"github.com/CarpseDeam/Claude-Conductor/internal/stream"
)

func testModel() *Model {
	return &Model{theme: NewDefaultTheme()}
}

func TestRenderToolCallBadges(t *testing.T) {
	t.Parallel()
	m := testModel()

	line := m.renderUpdate(AgentUpdate{Event: stream.Event{
		Kind: stream.KindToolCall, Tool: "Read", Path: "/srv/demo/main.go",
	}})
	if !strings.Contains(line, "READ") || !strings.Contains(line, "main.go") {
		t.Fatalf("line = %q", line)
	}

	line = m.renderUpdate(AgentUpdate{Event: stream.Event{
		Kind: stream.KindToolCall, Tool: "Bash", Command: "pytest -q",
	}})
	if !strings.Contains(line, "SHELL") || !strings.Contains(line, "pytest -q") {
		t.Fatalf("line = %q", line)
	}
}

func TestRenderCompactedResult(t *testing.T) {
	t.Parallel()
	m := testModel()

	line := m.renderUpdate(AgentUpdate{
		Event: stream.Event{Kind: stream.KindToolResult},
		Compacted: &stream.Compacted{
			Summary: "FAIL: 2 failed, 8 passed",
			Failures: []stream.FailureLocation{
				{File: "tests/a.py", Line: 12, Message: "AssertionError"},
			},
		},
	})
	if !strings.Contains(line, "FAILED") || !strings.Contains(line, "tests/a.py:12") {
		t.Fatalf("line = %q", line)
	}

	line = m.renderUpdate(AgentUpdate{
		Event:     stream.Event{Kind: stream.KindToolResult},
		Compacted: &stream.Compacted{Summary: "PASS: 10 passed"},
	})
	if !strings.Contains(line, "OK") || !strings.Contains(line, "10 passed") {
		t.Fatalf("line = %q", line)
	}
}

func TestRenderErrorResult(t *testing.T) {
	t.Parallel()
	m := testModel()

	line := m.renderUpdate(AgentUpdate{Event: stream.Event{
		Kind: stream.KindToolResult, IsError: true, Text: "command not found",
	}})
	if !strings.Contains(line, "FAILED") || !strings.Contains(line, "command not found") {
		t.Fatalf("line = %q", line)
	}
}

func TestRenderSessionAnnouncement(t *testing.T) {
	t.Parallel()
	m := testModel()

	line := m.renderUpdate(AgentUpdate{Event: stream.Event{
		Kind: stream.KindSession, SessionID: "0123456789abcdef", Model: "sonnet",
	}})
	if !strings.Contains(line, "01234567") || !strings.Contains(line, "sonnet") {
		t.Fatalf("line = %q", line)
	}
	if strings.Contains(line, "0123456789abcdef") {
		t.Fatalf("session id should be shortened: %q", line)
	}
}

func TestAppendUpdateBoundsScrollback(t *testing.T) {
	t.Parallel()
	m := testModel()

	for i := 0; i < maxDisplayLines+500; i++ {
		m.appendUpdate(AgentUpdate{Event: stream.Event{Kind: stream.KindText, Text: "line"}})
	}
	if len(m.lines) != maxDisplayLines {
		t.Fatalf("lines = %d, want %d", len(m.lines), maxDisplayLines)
	}
}
