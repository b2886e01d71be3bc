package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helios-labs/moonlander/internal/monitoring"
	"github.com/helios-labs/moonlander/internal/timeutil"
)

// StudyStatus represents the lifecycle state of a study run.
type StudyStatus string

const (
	StudyStatusIdle     StudyStatus = "idle"
	StudyStatusRunning  StudyStatus = "running"
	StudyStatusComplete StudyStatus = "complete"
	StudyStatusError    StudyStatus = "error"
)

// TrialState is the terminal state of one trial.
type TrialState string

const (
	TrialRunning  TrialState = "running"
	TrialComplete TrialState = "complete"
	TrialPruned   TrialState = "pruned"
	TrialFailed   TrialState = "failed"
)

// ErrStudyRunning is returned when Start is called on a live study.
var ErrStudyRunning = errors.New("study already in progress")

// ErrPruned is returned by objectives that honour a prune signal.
var ErrPruned = errors.New("trial pruned")

// Trial is one parameter assignment and its outcome.
type Trial struct {
	ID           string         `json:"id"`
	Number       int            `json:"number"`
	State        TrialState     `json:"state"`
	Params       map[string]any `json:"params"`
	Value        float64        `json:"value"`
	Seed         int64          `json:"seed"`
	Intermediate []float64      `json:"intermediate,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// StudyState is a snapshot of a study run.
type StudyState struct {
	Status          StudyStatus `json:"status"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	TotalTrials     int         `json:"total_trials"`
	CompletedTrials int         `json:"completed_trials"`
	PrunedTrials    int         `json:"pruned_trials"`
	FailedTrials    int         `json:"failed_trials"`
	Trials          []Trial     `json:"trials"`
	Best            *Trial      `json:"best,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// Objective evaluates one trial. Implementations should call
// handle.Report with intermediate metric values and stop with ErrPruned
// when Report returns false.
type Objective func(ctx context.Context, handle *TrialHandle) (float64, error)

// Recorder receives study lifecycle events for persistence. All methods
// are called with internal locks released; implementations may block.
type Recorder interface {
	StudyStarted(id string, cfg *StudyConfig) error
	TrialFinished(studyID string, trial Trial) error
	StudyFinished(id string, state StudyState) error
}

// Study orchestrates trials of an objective over a search space.
type Study struct {
	ID       string
	cfg      *StudyConfig
	sampler  Sampler
	recorder Recorder
	clock    timeutil.Clock

	mu     sync.RWMutex
	state  StudyState
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StudyOption configures optional Study collaborators.
type StudyOption func(*Study)

// WithRecorder attaches a persistence recorder.
func WithRecorder(r Recorder) StudyOption {
	return func(s *Study) { s.recorder = r }
}

// WithClock substitutes the time source, used by tests.
func WithClock(c timeutil.Clock) StudyOption {
	return func(s *Study) { s.clock = c }
}

// NewStudy creates a study for a validated sweep document.
func NewStudy(cfg *StudyConfig, opts ...StudyOption) (*Study, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sweep document: %w", err)
	}
	sampler, err := NewSampler(cfg.Sampler, cfg.StartupTrials)
	if err != nil {
		return nil, err
	}
	s := &Study{
		ID:      uuid.NewString(),
		cfg:     cfg,
		sampler: sampler,
		clock:   timeutil.NewRealClock(),
		state:   StudyState{Status: StudyStatusIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the study's sweep document.
func (s *Study) Config() *StudyConfig { return s.cfg }

// State returns a copy of the current study state.
func (s *Study) State() StudyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := s.state
	state.Trials = make([]Trial, len(s.state.Trials))
	copy(state.Trials, s.state.Trials)
	if s.state.Best != nil {
		best := *s.state.Best
		state.Best = &best
	}
	return state
}

// Best returns the best completed trial, or nil before any completes.
func (s *Study) Best() *Trial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.Best == nil {
		return nil
	}
	best := *s.state.Best
	return &best
}

// Start launches the study in the background. It returns immediately;
// use Wait or State to observe progress.
func (s *Study) Start(ctx context.Context, objective Objective) error {
	s.mu.Lock()
	if s.state.Status == StudyStatusRunning {
		s.mu.Unlock()
		return ErrStudyRunning
	}
	now := s.clock.Now()
	s.state = StudyState{
		Status:      StudyStatusRunning,
		StartedAt:   &now,
		TotalTrials: s.cfg.Trials,
		Trials:      make([]Trial, 0, s.cfg.Trials),
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.StudyStarted(s.ID, s.cfg); err != nil {
			s.finish(fmt.Errorf("recording study start: %w", err))
			cancel()
			return fmt.Errorf("recording study start: %w", err)
		}
	}

	s.wg.Add(1)
	go s.run(runCtx, objective)
	return nil
}

// Run executes the study synchronously.
func (s *Study) Run(ctx context.Context, objective Objective) (StudyState, error) {
	if err := s.Start(ctx, objective); err != nil {
		return s.State(), err
	}
	s.Wait()
	state := s.State()
	if state.Status == StudyStatusError {
		return state, errors.New(state.Error)
	}
	return state, nil
}

// Stop cancels a running study.
func (s *Study) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Wait blocks until the background run finishes.
func (s *Study) Wait() { s.wg.Wait() }

func (s *Study) run(ctx context.Context, objective Objective) {
	defer s.wg.Done()

	numbers := make(chan int)
	var workers sync.WaitGroup
	for w := 0; w < s.cfg.Jobs; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for number := range numbers {
				s.runTrial(ctx, number, objective)
			}
		}()
	}

	var cancelled bool
	for number := 0; number < s.cfg.Trials; number++ {
		select {
		case <-ctx.Done():
			cancelled = true
		case numbers <- number:
		}
		if cancelled {
			break
		}
	}
	close(numbers)
	workers.Wait()

	if cancelled {
		s.finish(fmt.Errorf("study stopped: %w", ctx.Err()))
		return
	}
	s.finish(nil)
}

// runTrial samples parameters, evaluates the objective and records the
// outcome.
func (s *Study) runTrial(ctx context.Context, number int, objective Objective) {
	s.mu.Lock()
	completed := s.observations()
	params, err := s.sampler.Suggest(s.trialRNG(number), &s.cfg.Space, completed)
	s.mu.Unlock()
	if err != nil {
		s.recordTrial(Trial{
			ID:        uuid.NewString(),
			Number:    number,
			State:     TrialFailed,
			Error:     err.Error(),
			StartedAt: s.clock.Now(),
		})
		return
	}

	trial := Trial{
		ID:        uuid.NewString(),
		Number:    number,
		State:     TrialRunning,
		Params:    params,
		Seed:      s.cfg.Seed + int64(number),
		StartedAt: s.clock.Now(),
	}
	handle := &TrialHandle{study: s, trial: &trial}

	monitoring.Logf("[sweep] trial %d/%d: %v", number+1, s.cfg.Trials, params)

	value, err := objective(ctx, handle)
	now := s.clock.Now()
	trial.CompletedAt = &now

	switch {
	case errors.Is(err, ErrPruned):
		trial.State = TrialPruned
	case err != nil:
		trial.State = TrialFailed
		trial.Error = err.Error()
		monitoring.Logf("[sweep] trial %d failed: %v", number+1, err)
	default:
		trial.State = TrialComplete
		trial.Value = value
	}
	s.recordTrial(trial)
}

// recordTrial folds a finished trial into the study state and notifies
// the recorder.
func (s *Study) recordTrial(trial Trial) {
	s.mu.Lock()
	s.state.Trials = append(s.state.Trials, trial)
	switch trial.State {
	case TrialComplete:
		s.state.CompletedTrials++
		if s.state.Best == nil || s.better(trial.Value, s.state.Best.Value) {
			best := trial
			s.state.Best = &best
		}
	case TrialPruned:
		s.state.PrunedTrials++
	case TrialFailed:
		s.state.FailedTrials++
	}
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.TrialFinished(s.ID, trial); err != nil {
			monitoring.Logf("[sweep] recording trial %d: %v", trial.Number, err)
		}
	}
}

func (s *Study) finish(runErr error) {
	s.mu.Lock()
	now := s.clock.Now()
	s.state.CompletedAt = &now
	if runErr != nil {
		s.state.Status = StudyStatusError
		s.state.Error = runErr.Error()
	} else {
		s.state.Status = StudyStatusComplete
	}
	state := s.state
	s.mu.Unlock()

	if s.recorder != nil {
		if err := s.recorder.StudyFinished(s.ID, state); err != nil {
			monitoring.Logf("[sweep] recording study finish: %v", err)
		}
	}
	if runErr == nil {
		if state.Best != nil {
			monitoring.Logf("[sweep] study %s complete: best value %.4f at %v",
				s.cfg.Study, state.Best.Value, state.Best.Params)
		} else {
			monitoring.Logf("[sweep] study %s complete: no successful trials", s.cfg.Study)
		}
	}
}

// better reports whether a beats b under the study direction.
func (s *Study) better(a, b float64) bool {
	if s.cfg.Direction == DirectionMinimize {
		return a < b
	}
	return a > b
}

// observations converts completed trials to canonical sampler input,
// negating values for maximize studies so lower is always better.
// Caller holds s.mu.
func (s *Study) observations() []Observation {
	obs := make([]Observation, 0, len(s.state.Trials))
	for _, t := range s.state.Trials {
		if t.State != TrialComplete {
			continue
		}
		v := t.Value
		if s.cfg.Direction == DirectionMaximize {
			v = -v
		}
		obs = append(obs, Observation{Params: t.Params, Value: v})
	}
	return obs
}

// trialRNG derives a deterministic per-trial random source.
func (s *Study) trialRNG(number int) *rand.Rand {
	return rand.New(rand.NewSource(s.cfg.Seed*1_000_003 + int64(number)))
}

// TrialHandle is the objective's view of its trial: sampled parameters,
// the trial seed and intermediate reporting with pruning.
type TrialHandle struct {
	study *Study
	trial *Trial
}

// Number returns the trial number.
func (h *TrialHandle) Number() int { return h.trial.Number }

// Params returns the sampled parameter assignment.
func (h *TrialHandle) Params() map[string]any { return h.trial.Params }

// Seed returns the deterministic seed for this trial's training run.
func (h *TrialHandle) Seed() int64 { return h.trial.Seed }

// Report records an intermediate metric value and reports whether the
// trial should continue. A false return means the value is below the
// median of completed trials at the same reporting step and the trial
// should stop with ErrPruned.
func (h *TrialHandle) Report(value float64) bool {
	h.trial.Intermediate = append(h.trial.Intermediate, value)
	step := len(h.trial.Intermediate) - 1
	return !h.study.shouldPrune(step, value, h.trial.Number)
}

// shouldPrune applies the median rule: prune when the reported value at
// this step is worse than the median of completed trials' values at the
// same step. Warmup trials are never pruned.
func (s *Study) shouldPrune(step int, value float64, number int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state.CompletedTrials < s.cfg.PruneWarmup {
		return false
	}

	var peers []float64
	for _, t := range s.state.Trials {
		if t.State != TrialComplete || step >= len(t.Intermediate) {
			continue
		}
		peers = append(peers, t.Intermediate[step])
	}
	if len(peers) < s.cfg.PruneWarmup {
		return false
	}

	med := median(peers)
	if s.cfg.Direction == DirectionMinimize {
		return value > med
	}
	return value < med
}

func median(vals []float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// BestValue returns the best completed value, honouring direction, or
// NaN before any trial completes.
func (s *Study) BestValue() float64 {
	best := s.Best()
	if best == nil {
		return math.NaN()
	}
	return best.Value
}
