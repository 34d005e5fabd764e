package agent

import "context"

// ToolResult is what a Tool's execution produces.
type ToolResult struct {
	Output string
	Error  string
}

// Tool is one callable action an agent may invoke. Command, when non-empty,
// is the run_command subcommand being executed and is what the Policy
// Gate's Classifier checks against the allowlist; other tool kinds leave it
// empty.
type Tool interface {
	Spec() ToolSpec
	Command(args map[string]any) string
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// Toolset looks up a Tool by name.
type Toolset map[string]Tool

func (ts Toolset) Lookup(name string) (Tool, bool) {
	t, ok := ts[name]
	return t, ok
}
