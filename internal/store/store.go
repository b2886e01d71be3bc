// Package store persists sweep studies and trials in sqlite.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/helios-labs/moonlander/internal/sweep"
	"github.com/helios-labs/moonlander/internal/timeutil"
)

// StudyRecord is a persisted study row.
type StudyRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Direction   string          `json:"direction"`
	Sampler     string          `json:"sampler"`
	Metric      string          `json:"metric"`
	Trials      int             `json:"n_trials"`
	Jobs        int             `json:"n_jobs"`
	Seed        int64           `json:"seed"`
	Space       json.RawMessage `json:"space"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	BestNumber  *int            `json:"best_number,omitempty"`
	BestValue   *float64        `json:"best_value,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// TrialRecord is a persisted trial row.
type TrialRecord struct {
	ID           string          `json:"id"`
	StudyID      string          `json:"study_id"`
	Number       int             `json:"number"`
	State        string          `json:"state"`
	Params       json.RawMessage `json:"params"`
	Value        *float64        `json:"value,omitempty"`
	Seed         int64           `json:"seed"`
	Intermediate json.RawMessage `json:"intermediate,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Store wraps the sqlite database holding studies and trials. It
// implements sweep.Recorder so a Study can persist as it runs.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening study database: %w", err)
	}
	// A single writer avoids most SQLITE_BUSY churn under n_jobs > 1.
	db.SetMaxOpenConns(1)
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, clock: timeutil.NewRealClock()}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// StudyStarted inserts the study row. Implements sweep.Recorder.
func (s *Store) StudyStarted(id string, cfg *sweep.StudyConfig) error {
	space, err := json.Marshal(cfg.Space.Params)
	if err != nil {
		return fmt.Errorf("encoding search space: %w", err)
	}
	query := `
		INSERT INTO studies (
			id, name, direction, sampler, metric, n_trials, n_jobs, seed,
			space_json, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = retryOnBusy(s.clock, func() error {
		_, err := s.db.Exec(query,
			id, cfg.Study, cfg.Direction, cfg.Sampler, cfg.Metric,
			cfg.Trials, cfg.Jobs, cfg.Seed,
			string(space), string(sweep.StudyStatusRunning),
			s.clock.Now().UTC().Format(time.RFC3339),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting study %s: %w", id, err)
	}
	return nil
}

// TrialFinished inserts a finished trial row. Implements sweep.Recorder.
func (s *Store) TrialFinished(studyID string, trial sweep.Trial) error {
	params, err := json.Marshal(trial.Params)
	if err != nil {
		return fmt.Errorf("encoding trial params: %w", err)
	}
	var intermediate []byte
	if len(trial.Intermediate) > 0 {
		intermediate, err = json.Marshal(trial.Intermediate)
		if err != nil {
			return fmt.Errorf("encoding intermediate values: %w", err)
		}
	}

	var value *float64
	if trial.State == sweep.TrialComplete {
		v := trial.Value
		value = &v
	}

	query := `
		INSERT INTO trials (
			id, study_id, number, state, params_json, value, seed,
			intermediate_json, error, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = retryOnBusy(s.clock, func() error {
		_, err := s.db.Exec(query,
			trial.ID, studyID, trial.Number, string(trial.State),
			string(params), value, trial.Seed,
			nullJSON(intermediate), nullStr(trial.Error),
			trial.StartedAt.UTC().Format(time.RFC3339),
			timeStr(trial.CompletedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting trial %d of study %s: %w", trial.Number, studyID, err)
	}
	return nil
}

// StudyFinished updates the study row with its terminal state.
// Implements sweep.Recorder.
func (s *Store) StudyFinished(id string, state sweep.StudyState) error {
	var bestNumber *int
	var bestValue *float64
	if state.Best != nil {
		n, v := state.Best.Number, state.Best.Value
		bestNumber, bestValue = &n, &v
	}
	query := `
		UPDATE studies
		SET status = ?, error = ?, best_number = ?, best_value = ?, completed_at = ?
		WHERE id = ?
	`
	err := retryOnBusy(s.clock, func() error {
		_, err := s.db.Exec(query,
			string(state.Status), nullStr(state.Error),
			bestNumber, bestValue, timeStr(state.CompletedAt), id,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("finishing study %s: %w", id, err)
	}
	return nil
}

// GetStudy returns a study row by ID, or nil when absent.
func (s *Store) GetStudy(id string) (*StudyRecord, error) {
	query := `
		SELECT id, name, direction, sampler, metric, n_trials, n_jobs, seed,
		       space_json, status, error, best_number, best_value,
		       started_at, completed_at
		FROM studies
		WHERE id = ?
	`
	var rec StudyRecord
	var space string
	var errStr sql.NullString
	var startedAt string
	var completedAt sql.NullString
	err := s.db.QueryRow(query, id).Scan(
		&rec.ID, &rec.Name, &rec.Direction, &rec.Sampler, &rec.Metric,
		&rec.Trials, &rec.Jobs, &rec.Seed,
		&space, &rec.Status, &errStr, &rec.BestNumber, &rec.BestValue,
		&startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying study %s: %w", id, err)
	}
	rec.Space = json.RawMessage(space)
	rec.Error = errStr.String
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("study %s started_at: %w", id, err)
	}
	if rec.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("study %s completed_at: %w", id, err)
	}
	return &rec, nil
}

// LatestStudy returns the most recently started study named name, or the
// most recent study of any name when name is empty. Returns nil when the
// store is empty.
func (s *Store) LatestStudy(name string) (*StudyRecord, error) {
	query := `SELECT id FROM studies`
	args := []any{}
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY started_at DESC LIMIT 1`

	var id string
	err := s.db.QueryRow(query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest study: %w", err)
	}
	return s.GetStudy(id)
}

// Trials returns all trials of a study ordered by trial number.
func (s *Store) Trials(studyID string) ([]TrialRecord, error) {
	query := `
		SELECT id, study_id, number, state, params_json, value, seed,
		       intermediate_json, error, started_at, completed_at
		FROM trials
		WHERE study_id = ?
		ORDER BY number
	`
	rows, err := s.db.Query(query, studyID)
	if err != nil {
		return nil, fmt.Errorf("querying trials of study %s: %w", studyID, err)
	}
	defer rows.Close()

	var trials []TrialRecord
	for rows.Next() {
		rec, err := scanTrial(rows)
		if err != nil {
			return nil, err
		}
		trials = append(trials, *rec)
	}
	return trials, rows.Err()
}

// BestTrial returns the best completed trial of a study under the given
// direction, or nil when no trial completed.
func (s *Store) BestTrial(studyID, direction string) (*TrialRecord, error) {
	order := "DESC"
	if direction == sweep.DirectionMinimize {
		order = "ASC"
	}
	query := fmt.Sprintf(`
		SELECT id, study_id, number, state, params_json, value, seed,
		       intermediate_json, error, started_at, completed_at
		FROM trials
		WHERE study_id = ? AND state = ? AND value IS NOT NULL
		ORDER BY value %s
		LIMIT 1
	`, order)
	rows, err := s.db.Query(query, studyID, string(sweep.TrialComplete))
	if err != nil {
		return nil, fmt.Errorf("querying best trial of study %s: %w", studyID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanTrial(rows)
}

// CompletedValues returns the value of every completed trial of a study
// in trial order, for reporting.
func (s *Store) CompletedValues(studyID string) ([]float64, error) {
	query := `
		SELECT value FROM trials
		WHERE study_id = ? AND state = ? AND value IS NOT NULL
		ORDER BY number
	`
	rows, err := s.db.Query(query, studyID, string(sweep.TrialComplete))
	if err != nil {
		return nil, fmt.Errorf("querying values of study %s: %w", studyID, err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func scanTrial(rows *sql.Rows) (*TrialRecord, error) {
	var rec TrialRecord
	var params string
	var intermediate, errStr sql.NullString
	var startedAt string
	var completedAt sql.NullString
	err := rows.Scan(
		&rec.ID, &rec.StudyID, &rec.Number, &rec.State, &params,
		&rec.Value, &rec.Seed, &intermediate, &errStr,
		&startedAt, &completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning trial: %w", err)
	}
	rec.Params = json.RawMessage(params)
	if intermediate.Valid {
		rec.Intermediate = json.RawMessage(intermediate.String)
	}
	rec.Error = errStr.String
	if rec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("trial %d started_at: %w", rec.Number, err)
	}
	if rec.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, fmt.Errorf("trial %d completed_at: %w", rec.Number, err)
	}
	return &rec, nil
}

const (
	busyRetries = 5
	busyBackoff = 50 * time.Millisecond
)

// retryOnBusy retries fn with linear backoff while sqlite reports the
// database busy or locked.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = fn()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt < busyRetries-1 {
			clock.Sleep(busyBackoff * time.Duration(attempt+1))
		}
	}
	return err
}

// isSQLiteBusy reports whether err is a SQLITE_BUSY or locked error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// nullStr returns nil for empty strings, pointer to string otherwise.
func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON returns a nullable string for a JSON value, treating empty as
// NULL.
func nullJSON(data []byte) *string {
	if len(data) == 0 {
		return nil
	}
	s := string(data)
	return &s
}

func timeStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
