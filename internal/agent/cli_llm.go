package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CLIAgentLLM implements LLM by shelling out to a non-interactive coding CLI
// (claude or codex), generalised from the teacher's cliCommand/runCLI
// activity idiom (internal/temporal/activities.go) down to the single
// provider-agnostic Chat call the Agent Runner depends on. Tool calls the
// turn loop would otherwise dispatch through the Policy Gate are instead
// handled by the CLI itself in --dangerously-skip-permissions mode, so Chat
// always returns a text-only ChatResponse.
type CLIAgentLLM struct {
	Agent   string // "claude" or "codex"
	WorkDir string
}

// NewCLIAgentLLM returns a CLIAgentLLM bound to agent and workDir.
func NewCLIAgentLLM(agentName, workDir string) *CLIAgentLLM {
	return &CLIAgentLLM{Agent: agentName, WorkDir: workDir}
}

// Chat renders history into a single prompt and runs it through the
// configured CLI agent. tools is accepted for interface compatibility but
// unused: these CLI agents manage their own tool use internally.
func (c *CLIAgentLLM) Chat(ctx context.Context, history []Message, tools []ToolSpec) (ChatResponse, int, error) {
	prompt := renderPrompt(history)
	cmd := c.command(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errOut := strings.TrimSpace(stderr.String())
		if errOut != "" {
			return ChatResponse{}, 0, fmt.Errorf("agent: cli %s: %w: %s", c.Agent, err, errOut)
		}
		return ChatResponse{}, 0, fmt.Errorf("agent: cli %s: %w", c.Agent, err)
	}

	output, tokens := parseCLIOutput(c.Agent, strings.TrimSpace(stdout.String()))
	return ChatResponse{Content: output}, tokens, nil
}

func (c *CLIAgentLLM) command(prompt string) *exec.Cmd {
	var cmd *exec.Cmd
	switch strings.ToLower(c.Agent) {
	case "codex":
		cmd = exec.Command("codex", "exec", "--full-auto", prompt)
	default:
		cmd = exec.Command("claude", "--print", "--output-format", "json", "--dangerously-skip-permissions", prompt)
	}
	cmd.Dir = c.WorkDir
	return cmd
}

func renderPrompt(history []Message) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case RoleTool:
			fmt.Fprintf(&b, "[tool result %s]\n%s\n\n", m.ToolCallID, m.Content)
		default:
			fmt.Fprintf(&b, "[%s]\n%s\n\n", m.Role, m.Content)
		}
	}
	return b.String()
}

type claudeCLIOutput struct {
	Result string `json:"result"`
	Usage  struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// parseCLIOutput extracts the text result and a rough token count from a
// CLI agent's output. claude's --output-format json gives both directly;
// other agents (codex) return plain text with no token accounting.
func parseCLIOutput(agentName, raw string) (string, int) {
	if !strings.EqualFold(agentName, "claude") {
		return raw, 0
	}
	var parsed claudeCLIOutput
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || parsed.Result == "" {
		return raw, 0
	}
	return parsed.Result, parsed.Usage.InputTokens + parsed.Usage.OutputTokens
}
