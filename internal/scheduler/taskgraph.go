// Package scheduler implements the Scheduler/Orchestrator (SPEC_FULL.md
// §4.9): the only component that writes Hive/Colony/Run/Task lifecycle
// events. Package-internal pieces follow the teacher's split of the
// original scheduler into small focused files (taskgraph, hive, silence,
// workerpool, conference, messenger, escalation).
package scheduler

import "sort"

// TaskNode is one node in a Run's dependency graph.
type TaskNode struct {
	ID        string
	DependsOn []string
	Priority  int
}

// TaskGraph is a directed dependency graph over Task IDs, generalised from
// the teacher's beads.DepGraph (internal/beads/beads.go: BuildDepGraph /
// FilterUnblockedOpen).
type TaskGraph struct {
	nodes   map[string]*TaskNode
	edges   map[string][]string // task -> depends on these
	reverse map[string][]string // task -> blocks these
}

// BuildTaskGraph constructs a TaskGraph from a slice of TaskNodes.
func BuildTaskGraph(nodes []TaskNode) *TaskGraph {
	g := &TaskGraph{
		nodes:   make(map[string]*TaskNode, len(nodes)),
		edges:   make(map[string][]string),
		reverse: make(map[string][]string),
	}
	for i := range nodes {
		g.nodes[nodes[i].ID] = &nodes[i]
	}
	for i := range nodes {
		n := &nodes[i]
		if len(n.DependsOn) == 0 {
			continue
		}
		g.edges[n.ID] = append(g.edges[n.ID], n.DependsOn...)
		for _, dep := range n.DependsOn {
			g.reverse[dep] = append(g.reverse[dep], n.ID)
		}
	}
	return g
}

// DependsOnIDs returns the IDs taskID directly depends on.
func (g *TaskGraph) DependsOnIDs(taskID string) []string { return g.edges[taskID] }

// BlocksIDs returns the IDs that directly depend on taskID.
func (g *TaskGraph) BlocksIDs(taskID string) []string { return g.reverse[taskID] }

// Ready returns the subset of candidate task IDs whose dependencies are all
// present in completed, sorted by Priority ascending then ID for
// determinism.
func (g *TaskGraph) Ready(candidates []string, completed map[string]bool) []string {
	var ready []string
	for _, id := range candidates {
		node, ok := g.nodes[id]
		if !ok {
			continue
		}
		if g.satisfied(node, completed) {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		pi, pj := g.nodes[ready[i]].Priority, g.nodes[ready[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return ready[i] < ready[j]
	})
	return ready
}

func (g *TaskGraph) satisfied(n *TaskNode, completed map[string]bool) bool {
	for _, dep := range n.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// DependentsOf returns every task ID (direct and transitive) that depends
// on failedID, used to compute which tasks become blocked on a terminal
// task failure (§4.9c).
func (g *TaskGraph) DependentsOf(failedID string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(id string)
	walk = func(id string) {
		for _, dependent := range g.reverse[id] {
			if seen[dependent] {
				continue
			}
			seen[dependent] = true
			out = append(out, dependent)
			walk(dependent)
		}
	}
	walk(failedID)
	sort.Strings(out)
	return out
}
