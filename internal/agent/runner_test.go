package agent_test

import (
	"context"
	"testing"

	"github.com/k-iijima/hiveforge/internal/agent"
	"github.com/k-iijima/hiveforge/internal/event"
	"github.com/k-iijima/hiveforge/internal/policy"
	"github.com/k-iijima/hiveforge/internal/ratelimit"
)

type scriptedLLM struct {
	responses []agent.ChatResponse
	calls     int
}

func (l *scriptedLLM) Chat(ctx context.Context, messages []agent.Message, tools []agent.ToolSpec) (agent.ChatResponse, int, error) {
	resp := l.responses[l.calls]
	l.calls++
	return resp, 10, nil
}

type echoTool struct{}

func (echoTool) Spec() agent.ToolSpec { return agent.ToolSpec{Name: "read_file", TimeoutSeconds: 1} }
func (echoTool) Command(args map[string]any) string { return "" }
func (echoTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	return agent.ToolResult{Output: "file contents"}, nil
}

type fakeSink struct {
	appended []*event.Event
}

func (f *fakeSink) Append(streamID string, e *event.Event) (*event.Event, error) {
	f.appended = append(f.appended, e)
	return e, nil
}

func newTestRunner(llm *scriptedLLM, sink *fakeSink, trust policy.TrustLevel) *agent.Runner {
	return agent.New(agent.Config{
		LLM:        llm,
		Tools:      agent.Toolset{"read_file": echoTool{}},
		Limiter:    ratelimit.New("test:model", ratelimit.Limits{RequestsPerMinute: 6000, Burst: 100, MaxConcurrent: 10}),
		Classifier: policy.NewClassifier(nil, nil),
		Sink:       sink,
		StreamID:   "run-1",
		Actor:      "worker:1",
		TrustLevel: trust,
		Scope:      policy.ScopeTask,
		ScopeID:    "t1",
	})
}

func TestRunNoToolCallsReturnsSuccess(t *testing.T) {
	llm := &scriptedLLM{responses: []agent.ChatResponse{{Content: "final answer"}}}
	r := newTestRunner(llm, &fakeSink{}, policy.TrustAutoNotify)
	result, pending, err := r.Run(context.Background(), "system", nil, "do the thing", event.NewID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending != nil {
		t.Fatalf("expected no pending approval")
	}
	if result.Outcome != agent.OutcomeSuccess || result.Output != "final answer" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunExecutesAllowedToolThenFinishes(t *testing.T) {
	llm := &scriptedLLM{responses: []agent.ChatResponse{
		{ToolCalls: []agent.ToolCall{{ID: "call-1", Name: "read_file"}}},
		{Content: "done"},
	}}
	r := newTestRunner(llm, &fakeSink{}, policy.TrustAutoNotify)
	result, pending, err := r.Run(context.Background(), "system", nil, "read something", event.NewID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending != nil {
		t.Fatalf("expected no pending approval")
	}
	if result.Outcome != agent.OutcomeSuccess {
		t.Fatalf("expected success outcome, got %s", result.Outcome)
	}
	foundToolResult := false
	for _, m := range result.History {
		if m.Role == agent.RoleTool && m.Content == "file contents" {
			foundToolResult = true
		}
	}
	if !foundToolResult {
		t.Fatalf("expected tool result in history: %+v", result.History)
	}
}

func TestRunUnknownToolProducesErrorMessage(t *testing.T) {
	llm := &scriptedLLM{responses: []agent.ChatResponse{
		{ToolCalls: []agent.ToolCall{{ID: "call-1", Name: "nonexistent_tool"}}},
		{Content: "done"},
	}}
	r := newTestRunner(llm, &fakeSink{}, policy.TrustAutoNotify)
	result, _, err := r.Run(context.Background(), "system", nil, "x", event.NewID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, m := range result.History {
		if m.Role == agent.RoleTool && m.Content == "error: unknown tool \"nonexistent_tool\"" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unknown-tool error message in history: %+v", result.History)
	}
}

func TestRunReportOnlyTrustParksForApproval(t *testing.T) {
	llm := &scriptedLLM{responses: []agent.ChatResponse{
		{ToolCalls: []agent.ToolCall{{ID: "call-1", Name: "edit_file"}}},
	}}
	sink := &fakeSink{}
	r := agent.New(agent.Config{
		LLM:        llm,
		Tools:      agent.Toolset{"edit_file": editTool{}},
		Limiter:    ratelimit.New("test:model", ratelimit.Limits{RequestsPerMinute: 6000, Burst: 100, MaxConcurrent: 10}),
		Classifier: policy.NewClassifier(nil, nil),
		Sink:       sink,
		StreamID:   "run-1",
		Actor:      "worker:1",
		TrustLevel: policy.TrustReportOnly,
		Scope:      policy.ScopeTask,
		ScopeID:    "t1",
	})
	result, pending, err := r.Run(context.Background(), "system", nil, "edit something", event.NewID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending == nil {
		t.Fatalf("expected a pending approval for a reversible edit under report_only")
	}
	if result.Outcome != agent.OutcomeAwaitingApproval {
		t.Fatalf("expected awaiting_approval outcome, got %s", result.Outcome)
	}
	foundApprovalEvent := false
	for _, e := range sink.appended {
		if e.Type == event.TypeApprovalRequested {
			foundApprovalEvent = true
		}
	}
	if !foundApprovalEvent {
		t.Fatalf("expected an approval_requested event to be emitted")
	}
}

type editTool struct{}

func (editTool) Spec() agent.ToolSpec { return agent.ToolSpec{Name: "edit_file", TimeoutSeconds: 1} }
func (editTool) Command(args map[string]any) string { return "" }
func (editTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	return agent.ToolResult{Output: "edited"}, nil
}

type deleteTool struct{}

func (deleteTool) Spec() agent.ToolSpec { return agent.ToolSpec{Name: "delete_file", TimeoutSeconds: 1} }
func (deleteTool) Command(args map[string]any) string { return "" }
func (deleteTool) Execute(ctx context.Context, args map[string]any) (agent.ToolResult, error) {
	return agent.ToolResult{Output: "deleted"}, nil
}

func TestRunDeniedToolProducesErrorMessage(t *testing.T) {
	llm := &scriptedLLM{responses: []agent.ChatResponse{
		{ToolCalls: []agent.ToolCall{{ID: "call-1", Name: "delete_file"}}},
		{Content: "done"},
	}}
	r := agent.New(agent.Config{
		LLM:        llm,
		Tools:      agent.Toolset{"delete_file": deleteTool{}},
		Limiter:    ratelimit.New("test:model", ratelimit.Limits{RequestsPerMinute: 6000, Burst: 100, MaxConcurrent: 10}),
		Classifier: policy.NewClassifier(nil, nil),
		Sink:       &fakeSink{},
		StreamID:   "run-1",
		Actor:      "worker:1",
		TrustLevel: policy.TrustReportOnly,
		Scope:      policy.ScopeTask,
		ScopeID:    "t1",
	})
	result, pending, err := r.Run(context.Background(), "system", nil, "delete something", event.NewID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending != nil {
		t.Fatalf("expected no pending approval on outright deny")
	}
	found := false
	for _, m := range result.History {
		if m.Role == agent.RoleTool && m.Content == "error: denied by policy gate: delete_file" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected policy-denial error message in history: %+v", result.History)
	}
}

func TestRunMaxIterationsExceeded(t *testing.T) {
	responses := make([]agent.ChatResponse, 0, 26)
	for i := 0; i < 26; i++ {
		responses = append(responses, agent.ChatResponse{ToolCalls: []agent.ToolCall{{ID: "call", Name: "read_file"}}})
	}
	llm := &scriptedLLM{responses: responses}
	r := newTestRunner(llm, &fakeSink{}, policy.TrustAutoNotify)
	result, _, err := r.Run(context.Background(), "system", nil, "loop forever", event.NewID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != agent.OutcomeMaxIterations {
		t.Fatalf("expected max_iterations_exceeded, got %s", result.Outcome)
	}
}

func TestRunCancelledContextAbortsEarly(t *testing.T) {
	llm := &scriptedLLM{responses: []agent.ChatResponse{{Content: "won't get here"}}}
	r := newTestRunner(llm, &fakeSink{}, policy.TrustAutoNotify)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, pending, err := r.Run(ctx, "system", nil, "x", event.NewID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pending != nil {
		t.Fatalf("expected no pending approval")
	}
	if result.Outcome != agent.OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %s", result.Outcome)
	}
}
