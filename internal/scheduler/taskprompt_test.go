package scheduler

import (
	"strings"
	"testing"
)

func TestBuildSystemPromptWorkerIncludesPredecessorResults(t *testing.T) {
	tctx := TaskContext{
		OriginalGoal:  "ship the release",
		CurrentTaskID: "t2",
		PredecessorResults: map[string]PredecessorResult{
			"t1": {Output: "built the binary", Artifacts: []string{"dist/app"}},
		},
	}

	prompt := BuildSystemPrompt(tctx, "Package the release", "tar it up", "worker")

	for _, want := range []string{"ship the release", "Package the release", "t2", "built the binary", "dist/app", "Instructions (Worker)"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildSystemPromptReviewerOmitsWorkerInstructions(t *testing.T) {
	tctx := TaskContext{OriginalGoal: "goal", CurrentTaskID: "t1"}
	prompt := BuildSystemPrompt(tctx, "Review the PR", "", "reviewer")

	if !strings.Contains(prompt, "Instructions (Reviewer)") {
		t.Errorf("prompt missing reviewer instructions:\n%s", prompt)
	}
	if strings.Contains(prompt, "Instructions (Worker)") {
		t.Errorf("reviewer prompt should not include worker instructions:\n%s", prompt)
	}
}
