package scheduler

import "strings"

// AllRoles lists every agent role a Task can be dispatched under.
var AllRoles = []string{"queen", "worker", "reviewer"}

// InferRole maps a Task's title to the agent role that should run it,
// generalised from the teacher's label-based bead-to-role inference
// (internal/scheduler's original InferRole/ResolveAgent pair).
func InferRole(taskTitle string) string {
	lower := strings.ToLower(taskTitle)
	if containsAny(lower, "review", "verify", "audit") {
		return "reviewer"
	}
	return "worker"
}

// ResolveAgentID names the agent instance that should run a Task of the
// given role within a Colony.
func ResolveAgentID(colonyID, role string) string {
	return colonyID + "-" + role
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
