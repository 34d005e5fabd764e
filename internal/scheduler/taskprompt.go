package scheduler

import (
	"fmt"
	"strings"
)

// BuildSystemPrompt assembles the system prompt handed to an Agent Runner
// for one Task, generalised from the teacher's BuildPrompt string-builder
// idiom (originally bead title/description/acceptance sections) to
// TaskContext's goal/predecessor-result shape (§4.9c).
func BuildSystemPrompt(tctx TaskContext, taskTitle, taskDescription, role string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a %s agent working toward: %s\n\n", role, tctx.OriginalGoal)
	fmt.Fprintf(&b, "## Task: %s (%s)\n\n", taskTitle, tctx.CurrentTaskID)
	if taskDescription != "" {
		fmt.Fprintf(&b, "%s\n\n", taskDescription)
	}

	if len(tctx.PredecessorResults) > 0 {
		b.WriteString("## Prior task results\n")
		for id, r := range tctx.PredecessorResults {
			fmt.Fprintf(&b, "- %s: %s\n", id, r.Output)
			for _, a := range r.Artifacts {
				fmt.Fprintf(&b, "  artifact: %s\n", a)
			}
		}
		b.WriteString("\n")
	}

	switch role {
	case "reviewer":
		b.WriteString("## Instructions (Reviewer)\n")
		b.WriteString("1. Check prior task results for correctness and completeness\n")
		b.WriteString("2. Report any defects as tool-error-worthy findings\n")
	default:
		b.WriteString("## Instructions (Worker)\n")
		b.WriteString("1. Use the available tools to make progress on the task\n")
		b.WriteString("2. Report the final output and any artifacts produced\n")
	}

	return b.String()
}
