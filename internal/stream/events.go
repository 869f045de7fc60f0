// Package stream decodes the JSON-lines output of external agent CLIs into
// typed events, classifies the shell commands they run, and compacts verbose
// tool output into bounded summaries for lifecycle reporting.
package stream

import (
	"encoding/json"
	"strings"
)

// Kind tags an event variant.
type Kind string

const (
	// KindSession carries the agent's session announcement.
	KindSession Kind = "session"
	// KindText is assistant prose, possibly a partial delta.
	KindText Kind = "text"
	// KindToolCall is the start of a tool invocation.
	KindToolCall Kind = "tool_call"
	// KindToolResult is the outcome of a tool invocation.
	KindToolResult Kind = "tool_result"
	// KindResult is the agent's end-of-run marker.
	KindResult Kind = "result"
	// KindRaw wraps a line that did not parse as JSON.
	KindRaw Kind = "raw"
	// KindUnknown wraps valid JSON whose shape is not recognized. New
	// agent output shapes land here instead of breaking the stream.
	KindUnknown Kind = "unknown"
)

// Event is one decoded line of agent output. Only the fields relevant to its
// Kind are set.
type Event struct {
	Kind Kind

	SessionID string
	Model     string

	Tool    string
	Path    string
	Command string
	Pattern string

	Text    string
	IsError bool
}

// claude stream-json and gemini stream-json share no envelope, and codex is
// different again. Decoding keys off the "type" tag and falls through shape
// by shape; anything unrecognized degrades to KindUnknown or KindRaw.

type envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Model     string          `json:"model"`
	Message   json.RawMessage `json:"message"`
	Event     json.RawMessage `json:"event"`

	// gemini tool events
	ToolName   string          `json:"tool_name"`
	Parameters json.RawMessage `json:"parameters"`
	Status     string          `json:"status"`
	Output     json.RawMessage `json:"output"`
	IsError    bool            `json:"is_error"`
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`

	// generic tool shape
	Tool string `json:"tool"`
	Cmd  string `json:"cmd"`
}

type contentBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	IsError bool            `json:"is_error"`
	Content json.RawMessage `json:"content"`
}

type toolInput struct {
	FilePath string `json:"file_path"`
	Path     string `json:"path"`
	DirPath  string `json:"dir_path"`
	Command  string `json:"command"`
	Pattern  string `json:"pattern"`
}

// DecodeLine decodes one raw line of agent output into zero or more events.
// It never fails: unparsable lines come back as a single KindRaw event, and
// recognized-but-empty lines (heartbeats, blank lines) come back as nil.
func DecodeLine(line string) []Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return []Event{{Kind: KindRaw, Text: line}}
	}

	switch env.Type {
	case "system", "init":
		return []Event{{Kind: KindSession, SessionID: env.SessionID, Model: env.Model}}

	case "assistant":
		return decodeMessageBlocks(env.Message)

	case "user":
		return decodeToolResults(env.Message)

	case "stream_event":
		return decodeStreamEvent(env.Event)

	case "tool_use":
		ev := Event{Kind: KindToolCall, Tool: env.ToolName}
		applyInput(&ev, env.Parameters)
		return []Event{ev}

	case "tool":
		// Compact single-line tool shape some agents emit.
		return []Event{{Kind: KindToolCall, Tool: env.Tool, Command: env.Cmd}}

	case "tool_result":
		return []Event{{
			Kind:    KindToolResult,
			Text:    rawToText(env.Output),
			IsError: env.IsError || env.Status == "error",
		}}

	case "message":
		if env.Role == "assistant" {
			if text := rawToText(env.Content); text != "" {
				return []Event{{Kind: KindText, Text: text}}
			}
		}
		return nil

	case "result":
		return []Event{{Kind: KindResult}}
	}

	return []Event{{Kind: KindUnknown, Text: trimmed}}
}

func decodeMessageBlocks(raw json.RawMessage) []Event {
	var msg struct {
		Content []contentBlock `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	var out []Event
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			ev := Event{Kind: KindToolCall, Tool: block.Name}
			applyInput(&ev, block.Input)
			out = append(out, ev)
		case "text":
			if block.Text != "" {
				out = append(out, Event{Kind: KindText, Text: block.Text})
			}
		}
	}
	return out
}

func decodeToolResults(raw json.RawMessage) []Event {
	var msg struct {
		Content []contentBlock `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	var out []Event
	for _, block := range msg.Content {
		if block.Type != "tool_result" {
			continue
		}
		out = append(out, Event{
			Kind:    KindToolResult,
			Text:    rawToText(block.Content),
			IsError: block.IsError,
		})
	}
	return out
}

func decodeStreamEvent(raw json.RawMessage) []Event {
	var ev struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
		Message struct {
			Model string `json:"model"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil
	}
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
			return []Event{{Kind: KindText, Text: ev.Delta.Text}}
		}
	case "message_start":
		if ev.Message.Model != "" {
			return []Event{{Kind: KindSession, Model: ev.Message.Model}}
		}
	}
	return nil
}

func applyInput(ev *Event, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var in toolInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return
	}
	ev.Command = in.Command
	ev.Pattern = in.Pattern
	switch {
	case in.FilePath != "":
		ev.Path = in.FilePath
	case in.Path != "":
		ev.Path = in.Path
	case in.DirPath != "":
		ev.Path = in.DirPath
	}
}

// rawToText flattens the polymorphic content field: a string, or a list of
// {type,text} blocks, or anything else rendered as-is.
func rawToText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var b strings.Builder
		for _, blk := range blocks {
			b.WriteString(blk.Text)
		}
		return b.String()
	}
	return string(raw)
}
