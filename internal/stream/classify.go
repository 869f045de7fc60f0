package stream

import "strings"

// CommandType is the coarse class of a shell command, used to pick a
// compaction strategy for its output.
type CommandType string

const (
	CommandTestRunner  CommandType = "test-runner"
	CommandTypeChecker CommandType = "type-checker"
	CommandLinter      CommandType = "linter"
	CommandOther       CommandType = "other"
)

// ClassifyCommand maps a shell command to its CommandType. Best effort:
// anything unrecognized is CommandOther, never an error.
func ClassifyCommand(cmd string) CommandType {
	c := strings.ToLower(strings.TrimSpace(cmd))
	switch {
	case c == "":
		return CommandOther
	case hasPrefixAny(c, "pytest", "go test") ||
		strings.Contains(c, " -m pytest") ||
		strings.Contains(c, "npm test") ||
		strings.Contains(c, "npm run test"):
		return CommandTestRunner
	case hasPrefixAny(c, "mypy", "tsc") || strings.Contains(c, " -m mypy"):
		return CommandTypeChecker
	case hasPrefixAny(c, "ruff", "flake8", "golangci-lint", "eslint") ||
		strings.Contains(c, "lint"):
		return CommandLinter
	default:
		return CommandOther
	}
}

func hasPrefixAny(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ToolClass is the coarse class of an agent tool, used for per-kind counters
// and display badges.
type ToolClass string

const (
	ToolRead   ToolClass = "read"
	ToolWrite  ToolClass = "write"
	ToolShell  ToolClass = "shell"
	ToolSearch ToolClass = "search"
	ToolList   ToolClass = "list"
	ToolTodo   ToolClass = "todo"
	ToolOther  ToolClass = "other"
)

// ClassifyTool normalizes tool names across agent CLIs. claude and gemini
// name the same operations differently.
func ClassifyTool(tool string) ToolClass {
	switch tool {
	case "Read", "read_file":
		return ToolRead
	case "Write", "Edit", "MultiEdit", "write_file":
		return ToolWrite
	case "Bash", "run_shell_command", "Shell", "bash":
		return ToolShell
	case "Glob", "Grep", "FindFiles", "SearchText":
		return ToolSearch
	case "LS", "list_directory", "ReadFolder":
		return ToolList
	case "TodoWrite", "WriteTodos", "write_todos":
		return ToolTodo
	default:
		return ToolOther
	}
}
