// Package waggle implements the Waggle Dance Validator (SPEC_FULL.md §4.7):
// schema-checks every inter-agent message by its direction and records the
// outcome to the Akashic Record through a thin Recorder shim.
package waggle

// Direction names one of the four supported inter-agent message routes.
// GuardResult is reserved and currently rejected as unsupported.
type Direction string

const (
	BeekeeperToQueen Direction = "beekeeper_to_queen"
	QueenToBeekeeper Direction = "queen_to_beekeeper"
	QueenToWorker    Direction = "queen_to_worker"
	WorkerToQueen    Direction = "worker_to_queen"
	GuardResult      Direction = "guard_result"
)

// OpinionRequest is carried beekeeper -> queen.
type OpinionRequest struct {
	ColonyID string
	Question string
	Context  string
}

// OpinionResponse is carried queen -> beekeeper.
type OpinionResponse struct {
	ColonyID   string
	Answer     string
	Confidence float64
}

// TaskAssignment is carried queen -> worker.
type TaskAssignment struct {
	TaskID        string
	ColonyID      string
	Instructions  string
	ToolsAllowed  []string
}

// TaskResult is carried worker -> queen.
type TaskResult struct {
	TaskID       string
	ColonyID     string
	Success      bool
	Artifacts    []string
	Evidence     string
	ErrorMessage string
}
