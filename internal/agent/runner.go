package agent

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/k-iijima/hiveforge/internal/event"
	"github.com/k-iijima/hiveforge/internal/policy"
	"github.com/k-iijima/hiveforge/internal/ratelimit"
)

var tracer = otel.Tracer("github.com/k-iijima/hiveforge/internal/agent")

// Outcome is the terminal result of a Run call.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeMaxIterations   Outcome = "max_iterations_exceeded"
	OutcomeCancelled       Outcome = "cancelled"
	OutcomeAwaitingApproval Outcome = "awaiting_approval"
)

// Result is what Run returns.
type Result struct {
	Outcome Outcome
	Output  string
	History []Message
}

// PendingApproval describes a parked turn waiting on an approval event.
type PendingApproval struct {
	ToolCall ToolCall
	Scope    policy.Scope
	ScopeID  string
}

// EventSink is the narrow slice of the Akashic Record the runner writes
// lifecycle events to. Separated from *akashic.Vault so tests can fake it.
type EventSink interface {
	Append(streamID string, e *event.Event) (*event.Event, error)
}

// Config wires a Runner's collaborators.
type Config struct {
	LLM         LLM
	Tools       Toolset
	Limiter     *ratelimit.Limiter
	Classifier  *policy.Classifier
	Sink        EventSink
	StreamID    string
	Actor       string
	TrustLevel  policy.TrustLevel
	Scope       policy.Scope
	ScopeID     string
	MaxIterations int
}

// Runner drives one agent's conversation loop (§4.8).
type Runner struct {
	cfg Config
}

// New constructs a Runner from cfg, defaulting MaxIterations to 25 when
// unset.
func New(cfg Config) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 25
	}
	return &Runner{cfg: cfg}
}

// Run executes the turn loop for one task invocation. systemPrompt and
// priorHistory seed the conversation, userInput is appended as the user
// turn, and triggeringEventID tags the OpenTelemetry span for this call.
func (r *Runner) Run(ctx context.Context, systemPrompt string, priorHistory []Message, userInput string, triggeringEventID event.ID) (Result, *PendingApproval, error) {
	ctx, span := tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("triggering_event_id", string(triggeringEventID)),
		attribute.String("actor", r.cfg.Actor),
	))
	defer span.End()

	history := make([]Message, 0, len(priorHistory)+2)
	history = append(history, Message{Role: RoleSystem, Content: systemPrompt})
	history = append(history, priorHistory...)
	history = append(history, Message{Role: RoleUser, Content: userInput})

	for iteration := 0; iteration < r.cfg.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return Result{Outcome: OutcomeCancelled, History: history}, nil, nil
		default:
		}

		resp, tokens, err := r.callLLM(ctx, history)
		if err != nil {
			return Result{}, nil, err
		}

		if len(resp.ToolCalls) == 0 {
			history = append(history, Message{Role: RoleAssistant, Content: resp.Content})
			return Result{Outcome: OutcomeSuccess, Output: resp.Content, History: history}, nil, nil
		}

		history = append(history, Message{Role: RoleAssistant, Content: resp.Content})
		_ = tokens

		for _, call := range resp.ToolCalls {
			pending, err := r.dispatchToolCall(ctx, &history, call, triggeringEventID)
			if err != nil {
				return Result{}, nil, err
			}
			if pending != nil {
				return Result{Outcome: OutcomeAwaitingApproval, History: history}, pending, nil
			}
		}
	}

	return Result{Outcome: OutcomeMaxIterations, History: history}, nil, nil
}

func (r *Runner) callLLM(ctx context.Context, history []Message) (ChatResponse, int, error) {
	lease, err := r.cfg.Limiter.Acquire(ctx)
	if err != nil {
		return ChatResponse{}, 0, fmt.Errorf("agent: rate limit: %w", err)
	}
	defer lease.Release()

	tools := make([]ToolSpec, 0, len(r.cfg.Tools))
	for _, t := range r.cfg.Tools {
		tools = append(tools, t.Spec())
	}
	return r.cfg.LLM.Chat(ctx, history, tools)
}

// dispatchToolCall handles one tool call per §4.8 step 4. A non-nil
// PendingApproval means the turn must park until the matching approval
// event arrives.
func (r *Runner) dispatchToolCall(ctx context.Context, history *[]Message, call ToolCall, triggeringEventID event.ID) (*PendingApproval, error) {
	tool, ok := r.cfg.Tools.Lookup(call.Name)
	if !ok {
		*history = append(*history, toolErrorMessage(call.ID, fmt.Sprintf("unknown tool %q", call.Name)))
		return nil, nil
	}

	cmd := tool.Command(call.Arguments)
	actionClass := r.cfg.Classifier.Classify(call.Name, cmd)
	decision, err := policy.Decide(r.cfg.Actor, actionClass, r.cfg.TrustLevel, r.cfg.Scope, r.cfg.ScopeID, policy.Context{})
	if err != nil {
		return nil, fmt.Errorf("agent: policy decide: %w", err)
	}

	switch decision {
	case policy.Deny:
		*history = append(*history, toolErrorMessage(call.ID, fmt.Sprintf("denied by policy gate: %s", call.Name)))
		return nil, nil

	case policy.RequireApproval:
		if r.cfg.Sink != nil {
			e := event.New(event.TypeApprovalRequested, r.cfg.Actor, event.OpaquePayload{
				"tool":      call.Name,
				"arguments": call.Arguments,
			})
			if _, err := r.cfg.Sink.Append(r.cfg.StreamID, e); err != nil {
				return nil, fmt.Errorf("agent: emit approval_requested: %w", err)
			}
		}
		return &PendingApproval{ToolCall: call, Scope: r.cfg.Scope, ScopeID: r.cfg.ScopeID}, nil

	case policy.Allow:
		return nil, r.executeTool(ctx, history, tool, call, triggeringEventID)

	default:
		return nil, fmt.Errorf("agent: unrecognised policy decision %q", decision)
	}
}

func (r *Runner) executeTool(ctx context.Context, history *[]Message, tool Tool, call ToolCall, triggeringEventID event.ID) error {
	spec := tool.Spec()
	timeout := time.Duration(spec.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := tool.Execute(toolCtx, call.Arguments)
	switch {
	case toolCtx.Err() == context.DeadlineExceeded:
		r.emit(event.TypeOperationTimeout, event.OpaquePayload{"tool": call.Name})
		*history = append(*history, toolErrorMessage(call.ID, fmt.Sprintf("tool %q timed out after %s", call.Name, timeout)))
		return nil

	case err != nil:
		r.emit(event.TypeOperationFailed, event.OperationFailedPayload{Reason: "tool_execution_failed", Detail: err.Error()})
		*history = append(*history, toolErrorMessage(call.ID, err.Error()))
		return nil

	default:
		*history = append(*history, Message{Role: RoleTool, ToolCallID: call.ID, Content: result.Output})
		return nil
	}
}

func (r *Runner) emit(typ event.Type, payload event.Payload) {
	if r.cfg.Sink == nil {
		return
	}
	e := event.New(typ, r.cfg.Actor, payload)
	_, _ = r.cfg.Sink.Append(r.cfg.StreamID, e)
}

func toolErrorMessage(toolCallID, msg string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Content: "error: " + msg}
}
