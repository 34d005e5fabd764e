package scheduler

import (
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// WorkerProcess describes one child-process-backed agent worker (§4.9g).
type WorkerProcess struct {
	ID          string
	Command     string
	Args        []string
	AutoRestart bool
	MaxRestarts int

	mu       sync.Mutex
	cmd      *exec.Cmd
	restarts int
	running  bool
}

// WorkerPool starts/stops/restarts WorkerProcesses with a bounded
// per-worker restart count, plus a fleet-level restart-rate budget that
// additionally bounds total restarts/minute across every worker (Open
// Question resolution, §9). Grounded on internal/chief's ceremony-throttle
// idiom: a sliding time window gates a repeating action.
type WorkerPool struct {
	mu      sync.Mutex
	workers map[string]*WorkerProcess

	fleetRestartBudget int
	fleetWindow        time.Duration
	fleetRestarts      []time.Time
}

// NewWorkerPool returns a pool with the given fleet-wide restart budget
// (restarts allowed within window, default 10/minute when zero).
func NewWorkerPool(fleetRestartBudget int, window time.Duration) *WorkerPool {
	if fleetRestartBudget <= 0 {
		fleetRestartBudget = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WorkerPool{
		workers:            make(map[string]*WorkerProcess),
		fleetRestartBudget: fleetRestartBudget,
		fleetWindow:        window,
	}
}

// Start registers and starts w.
func (p *WorkerPool) Start(w *WorkerProcess) error {
	p.mu.Lock()
	p.workers[w.ID] = w
	p.mu.Unlock()
	return p.startProcess(w)
}

func (p *WorkerPool) startProcess(w *WorkerProcess) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cmd := exec.Command(w.Command, w.Args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("scheduler: start worker %s: %w", w.ID, err)
	}
	w.cmd = cmd
	w.running = true
	return nil
}

// Stop terminates w and removes it from the pool.
func (p *WorkerPool) Stop(workerID string) error {
	p.mu.Lock()
	w, ok := p.workers[workerID]
	delete(p.workers, workerID)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: stop worker: unknown worker %s", workerID)
	}
	return p.killProcess(w)
}

func (p *WorkerPool) killProcess(w *WorkerProcess) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.cmd == nil || w.cmd.Process == nil {
		return nil
	}
	w.running = false
	return w.cmd.Process.Kill()
}

// OnCrash is called when a worker's process exits unexpectedly. It
// restarts the worker if AutoRestart is set, the per-worker restart budget
// isn't exceeded, and the fleet-level restart-rate budget has headroom.
func (p *WorkerPool) OnCrash(workerID string) error {
	p.mu.Lock()
	w, ok := p.workers[workerID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: crash callback for unknown worker %s", workerID)
	}

	if !w.AutoRestart {
		return nil
	}

	w.mu.Lock()
	if w.MaxRestarts > 0 && w.restarts >= w.MaxRestarts {
		w.mu.Unlock()
		return fmt.Errorf("scheduler: worker %s exceeded its restart budget (%d)", workerID, w.MaxRestarts)
	}
	w.mu.Unlock()

	if !p.fleetBudgetAvailable() {
		return fmt.Errorf("scheduler: fleet restart-rate budget exhausted (%d/%s)", p.fleetRestartBudget, p.fleetWindow)
	}

	w.mu.Lock()
	w.restarts++
	w.mu.Unlock()
	p.recordFleetRestart()

	return p.startProcess(w)
}

func (p *WorkerPool) fleetBudgetAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.fleetWindow)
	kept := p.fleetRestarts[:0]
	for _, t := range p.fleetRestarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.fleetRestarts = kept
	return len(p.fleetRestarts) < p.fleetRestartBudget
}

func (p *WorkerPool) recordFleetRestart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fleetRestarts = append(p.fleetRestarts, time.Now())
}

// Workers returns the IDs of every worker currently registered.
func (p *WorkerPool) Workers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	return ids
}
