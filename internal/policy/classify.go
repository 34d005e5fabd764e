package policy

import "strings"

// defaultToolClasses is the conservative baseline tool-to-action-class
// table (§4.5). run_command has no entry here; Classify decides it from
// the command allowlist instead.
var defaultToolClasses = map[string]ActionClass{
	"read_file":      ActionReadOnly,
	"list_directory": ActionReadOnly,
	"search":         ActionReadOnly,
	"status":         ActionReadOnly,

	"create_file": ActionReversible,
	"edit_file":   ActionReversible,

	"delete_file":   ActionIrreversible,
	"http_request":  ActionIrreversible,
}

// Classifier resolves a tool name (and, for run_command, an allowlist) to
// an ActionClass. Overrides take precedence over defaultToolClasses;
// anything neither names falls back to the conservative "reversible"
// default rather than read_only or irreversible, per §4.5.
type Classifier struct {
	overrides       map[string]ActionClass
	commandAllowlist map[string]struct{}
}

// NewClassifier builds a Classifier from a config-supplied override table
// and an allowlist of run_command subcommands considered reversible.
func NewClassifier(overrides map[string]ActionClass, commandAllowlist []string) *Classifier {
	allow := make(map[string]struct{}, len(commandAllowlist))
	for _, c := range commandAllowlist {
		allow[c] = struct{}{}
	}
	return &Classifier{overrides: overrides, commandAllowlist: allow}
}

// Classify returns the ActionClass for a tool call. For "run_command", cmd
// is the subcommand being invoked (e.g. "git status"); it is checked
// against the allowlist to distinguish reversible from irreversible.
func (c *Classifier) Classify(tool, cmd string) ActionClass {
	if c.overrides != nil {
		if ac, ok := c.overrides[tool]; ok {
			return ac
		}
	}

	if tool == "run_command" {
		if c.allowlisted(cmd) {
			return ActionReversible
		}
		return ActionIrreversible
	}

	if ac, ok := defaultToolClasses[tool]; ok {
		return ac
	}
	return ActionReversible
}

func (c *Classifier) allowlisted(cmd string) bool {
	if len(c.commandAllowlist) == 0 {
		return false
	}
	head := cmd
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		head = cmd[:i]
	}
	_, ok := c.commandAllowlist[head]
	return ok
}
