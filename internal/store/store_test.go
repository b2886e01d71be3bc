package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-labs/moonlander/internal/sweep"
	"github.com/helios-labs/moonlander/internal/timeutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "studies.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testStudyConfig() *sweep.StudyConfig {
	return &sweep.StudyConfig{
		Study:     "fmppo-tuning",
		Metric:    "eval_mean_return",
		Direction: sweep.DirectionMaximize,
		Sampler:   sweep.SamplerRandom,
		Trials:    10,
		Jobs:      2,
		Seed:      7,
		Space: sweep.Space{Params: []sweep.ParamSpec{
			{Name: "algorithm.learning_rate", Type: sweep.ParamFloat, Low: 1e-4, High: 1e-2, Log: true},
		}},
	}
}

func finishedTrial(number int, state sweep.TrialState, value float64) sweep.Trial {
	started := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(number) * time.Minute)
	completed := started.Add(30 * time.Second)
	return sweep.Trial{
		ID:           uuid.NewString(),
		Number:       number,
		State:        state,
		Params:       map[string]any{"algorithm.learning_rate": 0.001 * float64(number+1)},
		Value:        value,
		Seed:         7 + int64(number),
		Intermediate: []float64{value - 1, value},
		StartedAt:    started,
		CompletedAt:  &completed,
	}
}

func TestStudyRoundTrip(t *testing.T) {
	s := openTestStore(t)
	cfg := testStudyConfig()
	id := uuid.NewString()

	require.NoError(t, s.StudyStarted(id, cfg))

	rec, err := s.GetStudy(id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "fmppo-tuning", rec.Name)
	assert.Equal(t, sweep.DirectionMaximize, rec.Direction)
	assert.Equal(t, sweep.SamplerRandom, rec.Sampler)
	assert.Equal(t, 10, rec.Trials)
	assert.Equal(t, string(sweep.StudyStatusRunning), rec.Status)
	assert.Nil(t, rec.CompletedAt)

	var space []sweep.ParamSpec
	require.NoError(t, json.Unmarshal(rec.Space, &space))
	require.Len(t, space, 1)
	assert.True(t, space[0].Log)

	now := time.Now().UTC().Truncate(time.Second)
	best := finishedTrial(3, sweep.TrialComplete, 42)
	require.NoError(t, s.StudyFinished(id, sweep.StudyState{
		Status:      sweep.StudyStatusComplete,
		Best:        &best,
		CompletedAt: &now,
	}))

	rec, err = s.GetStudy(id)
	require.NoError(t, err)
	assert.Equal(t, string(sweep.StudyStatusComplete), rec.Status)
	require.NotNil(t, rec.BestNumber)
	assert.Equal(t, 3, *rec.BestNumber)
	require.NotNil(t, rec.BestValue)
	assert.Equal(t, 42.0, *rec.BestValue)
	require.NotNil(t, rec.CompletedAt)
	assert.True(t, rec.CompletedAt.Equal(now))
}

func TestGetStudyMissing(t *testing.T) {
	s := openTestStore(t)
	rec, err := s.GetStudy("nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestTrialsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	id := uuid.NewString()
	require.NoError(t, s.StudyStarted(id, testStudyConfig()))

	// Insert out of order; reads come back by number.
	require.NoError(t, s.TrialFinished(id, finishedTrial(2, sweep.TrialComplete, 5)))
	require.NoError(t, s.TrialFinished(id, finishedTrial(0, sweep.TrialComplete, 9)))
	failed := finishedTrial(1, sweep.TrialFailed, 0)
	failed.Error = "exploded"
	failed.Intermediate = nil
	require.NoError(t, s.TrialFinished(id, failed))

	trials, err := s.Trials(id)
	require.NoError(t, err)
	require.Len(t, trials, 3)
	for i, trial := range trials {
		assert.Equal(t, i, trial.Number)
	}

	assert.Equal(t, string(sweep.TrialFailed), trials[1].State)
	assert.Equal(t, "exploded", trials[1].Error)
	assert.Nil(t, trials[1].Value)
	assert.Nil(t, trials[1].Intermediate)

	var params map[string]float64
	require.NoError(t, json.Unmarshal(trials[0].Params, &params))
	assert.InDelta(t, 0.001, params["algorithm.learning_rate"], 1e-12)

	var curve []float64
	require.NoError(t, json.Unmarshal(trials[0].Intermediate, &curve))
	assert.Equal(t, []float64{8, 9}, curve)
}

func TestBestTrialDirection(t *testing.T) {
	s := openTestStore(t)
	id := uuid.NewString()
	require.NoError(t, s.StudyStarted(id, testStudyConfig()))
	require.NoError(t, s.TrialFinished(id, finishedTrial(0, sweep.TrialComplete, 3)))
	require.NoError(t, s.TrialFinished(id, finishedTrial(1, sweep.TrialComplete, 8)))
	require.NoError(t, s.TrialFinished(id, finishedTrial(2, sweep.TrialPruned, 0)))

	best, err := s.BestTrial(id, sweep.DirectionMaximize)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 1, best.Number)

	best, err = s.BestTrial(id, sweep.DirectionMinimize)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, 0, best.Number)
}

func TestBestTrialEmpty(t *testing.T) {
	s := openTestStore(t)
	id := uuid.NewString()
	require.NoError(t, s.StudyStarted(id, testStudyConfig()))

	best, err := s.BestTrial(id, sweep.DirectionMaximize)
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestCompletedValues(t *testing.T) {
	s := openTestStore(t)
	id := uuid.NewString()
	require.NoError(t, s.StudyStarted(id, testStudyConfig()))
	require.NoError(t, s.TrialFinished(id, finishedTrial(0, sweep.TrialComplete, 1)))
	require.NoError(t, s.TrialFinished(id, finishedTrial(1, sweep.TrialPruned, 0)))
	require.NoError(t, s.TrialFinished(id, finishedTrial(2, sweep.TrialComplete, 4)))

	values, err := s.CompletedValues(id)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4}, values)
}

func TestLatestStudy(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.LatestStudy("")
	require.NoError(t, err)
	assert.Nil(t, rec)

	first := uuid.NewString()
	require.NoError(t, s.StudyStarted(first, testStudyConfig()))
	time.Sleep(1100 * time.Millisecond) // started_at has second resolution
	other := testStudyConfig()
	other.Study = "other"
	second := uuid.NewString()
	require.NoError(t, s.StudyStarted(second, other))

	rec, err = s.LatestStudy("")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, second, rec.ID)

	rec, err = s.LatestStudy("fmppo-tuning")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, first, rec.ID)
}

func TestRecorderInterface(t *testing.T) {
	var _ sweep.Recorder = (*Store)(nil)
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "database is locked", err: errors.New("database is locked (5) (SQLITE_BUSY)"), expected: true},
		{name: "SQLITE_BUSY", err: errors.New("SQLITE_BUSY"), expected: true},
		{name: "other error", err: errors.New("some other error"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isSQLiteBusy(tt.err))
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("success on first try", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Time{})
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, clock.Sleeps())
	})

	t.Run("retries busy then succeeds", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Time{})
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked (5) (SQLITE_BUSY)")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		// Linear backoff: the nth retry waits n * busyBackoff.
		assert.Equal(t, []time.Duration{busyBackoff, 2 * busyBackoff}, clock.Sleeps())
	})

	t.Run("non-busy error returned immediately", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Time{})
		calls := 0
		wantErr := errors.New("constraint failed")
		err := retryOnBusy(clock, func() error {
			calls++
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 1, calls)
		assert.Empty(t, clock.Sleeps())
	})

	t.Run("gives up after retries", func(t *testing.T) {
		clock := timeutil.NewMockClock(time.Time{})
		calls := 0
		err := retryOnBusy(clock, func() error {
			calls++
			return errors.New("SQLITE_BUSY")
		})
		require.Error(t, err)
		assert.Equal(t, busyRetries, calls)
		assert.Len(t, clock.Sleeps(), busyRetries-1)
	})
}
