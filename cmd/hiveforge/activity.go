package main

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/k-iijima/hiveforge/internal/agent"
	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/policy"
	"github.com/k-iijima/hiveforge/internal/ratelimit"
	"github.com/k-iijima/hiveforge/internal/temporal"
)

// agentActivities hosts the Runner collaborators RunAgentTurnActivity needs:
// one rate limiter per provider:model key, a shared policy classifier, and
// the Akashic Vault every Runner writes its lifecycle events to. Held
// outside temporal.Activities since the worker it's registered on must not
// import internal/agent (see temporal.RunAgentTurnActivityName).
type agentActivities struct {
	vault      *akashic.Vault
	cfg        *config.Config
	limiters   *ratelimit.Registry
	classifier *policy.Classifier
}

func newAgentActivities(vault *akashic.Vault, cfg *config.Config) *agentActivities {
	return &agentActivities{
		vault:      vault,
		cfg:        cfg,
		limiters:   ratelimit.NewRegistry(nil),
		classifier: policy.NewClassifier(nil, nil),
	}
}

// RunAgentTurnActivity drives one Task's Agent Runner turn, resolving the
// Task's role to a CLI-backed LLM provider via the role's trust tier.
func (a *agentActivities) RunAgentTurnActivity(ctx context.Context, req temporal.AgentTurnRequest) (temporal.AgentTurnResult, error) {
	providers := a.cfg.ProviderForTier(req.Role)
	if len(providers) == 0 {
		providers = a.cfg.Tiers.Balanced
	}
	providerName := "claude"
	if len(providers) > 0 {
		providerName = providers[0]
	}
	provider := a.cfg.Providers[providerName]

	llm := agent.NewCLIAgentLLM(provider.CLI, ".")
	limiter := a.limiters.Get(providerName, provider.Model)

	runner := agent.New(agent.Config{
		LLM:           llm,
		Tools:         agent.Toolset{},
		Limiter:       limiter,
		Classifier:    a.classifier,
		Sink:          a.vault,
		StreamID:      fmt.Sprintf("run-%s", req.RunID),
		Actor:         fmt.Sprintf("agent:%s", req.TaskID),
		TrustLevel:    policy.TrustProposeConfirm,
		Scope:         policy.ScopeTask,
		ScopeID:       req.TaskID,
		MaxIterations: 25,
	})

	userInput := renderTaskPrompt(req)
	result, pending, err := runner.Run(ctx, systemPromptForRole(req.Role), nil, userInput, "")
	if err != nil {
		return temporal.AgentTurnResult{Success: false, ErrorMessage: err.Error()}, err
	}
	if pending != nil {
		return temporal.AgentTurnResult{
			Success:      false,
			ErrorMessage: fmt.Sprintf("awaiting approval for tool %q", pending.ToolCall.Name),
		}, nil
	}

	activity.RecordHeartbeat(ctx, "agent turn complete")
	return temporal.AgentTurnResult{
		Success: result.Outcome == agent.OutcomeSuccess,
		Output:  result.Output,
	}, nil
}

func systemPromptForRole(role string) string {
	return fmt.Sprintf("You are a %s agent in a HiveForge colony. Complete the assigned task and report your result.", role)
}

func renderTaskPrompt(req temporal.AgentTurnRequest) string {
	prompt := fmt.Sprintf("Goal: %s\nTask: %s\n", req.OriginalGoal, req.TaskID)
	for id, pred := range req.PredecessorResults {
		prompt += fmt.Sprintf("\nPredecessor %s output:\n%s\n", id, pred.Output)
	}
	return prompt
}
