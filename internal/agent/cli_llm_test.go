package agent

import (
	"strings"
	"testing"
)

func TestRenderPromptIncludesAllRoles(t *testing.T) {
	history := []Message{
		{Role: RoleSystem, Content: "you are an agent"},
		{Role: RoleUser, Content: "do the thing"},
		{Role: RoleAssistant, Content: "ok, calling tool"},
		{Role: RoleTool, ToolCallID: "call-1", Content: "tool output"},
	}

	prompt := renderPrompt(history)

	for _, want := range []string{"you are an agent", "do the thing", "ok, calling tool", "tool output", "call-1"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("renderPrompt output missing %q:\n%s", want, prompt)
		}
	}
}

func TestParseCLIOutputClaudeJSON(t *testing.T) {
	raw := `{"result":"done","usage":{"input_tokens":10,"output_tokens":5}}`
	output, tokens := parseCLIOutput("claude", raw)
	if output != "done" {
		t.Errorf("expected output %q, got %q", "done", output)
	}
	if tokens != 15 {
		t.Errorf("expected 15 tokens, got %d", tokens)
	}
}

func TestParseCLIOutputClaudeMalformedFallsBackToRaw(t *testing.T) {
	raw := "not json"
	output, tokens := parseCLIOutput("claude", raw)
	if output != raw {
		t.Errorf("expected raw fallback %q, got %q", raw, output)
	}
	if tokens != 0 {
		t.Errorf("expected 0 tokens for malformed output, got %d", tokens)
	}
}

func TestParseCLIOutputCodexReturnsPlainText(t *testing.T) {
	raw := "codex plain output"
	output, tokens := parseCLIOutput("codex", raw)
	if output != raw {
		t.Errorf("expected codex output unchanged, got %q", output)
	}
	if tokens != 0 {
		t.Errorf("expected 0 tokens for codex, got %d", tokens)
	}
}

func TestCLIAgentLLMCommandSelectsBinaryByAgent(t *testing.T) {
	claude := NewCLIAgentLLM("claude", "/workdir")
	cmd := claude.command("hello")
	if got := cmd.Args[0]; got != "claude" {
		t.Errorf("expected claude binary, got %q", got)
	}
	if cmd.Dir != "/workdir" {
		t.Errorf("expected workdir /workdir, got %q", cmd.Dir)
	}

	codex := NewCLIAgentLLM("codex", "/workdir")
	cmd = codex.command("hello")
	if got := cmd.Args[0]; got != "codex" {
		t.Errorf("expected codex binary, got %q", got)
	}
}

