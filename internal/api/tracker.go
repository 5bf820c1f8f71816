package api

import (
	"sync"
	"time"

	"github.com/JakeFAU/ecoles-crawler/internal/pipeline"
)

// Run states reported by the Tracker.
const (
	StateRunning  = "running"
	StateFinished = "finished"
	StateCanceled = "canceled"
)

// historySize is the number of finished runs kept.
const historySize = 20

// RunStatus is the JSON view of one run.
type RunStatus struct {
	RunID      string     `json:"run_id"`
	Stage      string     `json:"stage"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Schools    int        `json:"schools"`
	Reviews    int        `json:"reviews"`
	Criteria   int        `json:"criteria"`
	Failures   int        `json:"failures"`
	Files      []string   `json:"files,omitempty"`
	Objects    []string   `json:"objects,omitempty"`
}

// Tracker records run progress. It implements pipeline.Observer and is safe
// for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	current *RunStatus
	history []RunStatus
}

var _ pipeline.Observer = (*Tracker)(nil)

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// StageStarted marks runID as the current run.
func (t *Tracker) StageStarted(runID, stage string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = &RunStatus{RunID: runID, Stage: stage, State: StateRunning, StartedAt: at}
}

// StageFinished moves the finished run into the history.
func (t *Tracker) StageFinished(s pipeline.Summary) {
	finished := s.FinishedAt
	status := RunStatus{
		RunID:      s.RunID,
		Stage:      s.Stage,
		State:      StateFinished,
		StartedAt:  s.StartedAt,
		FinishedAt: &finished,
		Schools:    s.Schools,
		Reviews:    s.Reviews,
		Criteria:   s.Criteria,
		Failures:   len(s.Failures),
		Files:      append([]string(nil), s.Files...),
		Objects:    append([]string(nil), s.Objects...),
	}
	if s.Canceled {
		status.State = StateCanceled
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil && t.current.RunID == s.RunID {
		t.current = nil
	}
	t.history = append([]RunStatus{status}, t.history...)
	if len(t.history) > historySize {
		t.history = t.history[:historySize]
	}
}

// Current returns the run in progress, if any.
func (t *Tracker) Current() (RunStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return RunStatus{}, false
	}
	return *t.current, true
}

// Runs lists the current run followed by finished runs, newest first.
func (t *Tracker) Runs() []RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunStatus, 0, len(t.history)+1)
	if t.current != nil {
		out = append(out, *t.current)
	}
	return append(out, t.history...)
}

// Run looks a run up by ID.
func (t *Tracker) Run(id string) (RunStatus, bool) {
	for _, r := range t.Runs() {
		if r.RunID == id {
			return r, true
		}
	}
	return RunStatus{}, false
}
