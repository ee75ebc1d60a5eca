package roast

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists roast profiles and curves in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProcessState reads the status and planned duration of a roasting
// process.
func (r *Repository) GetProcessState(ctx context.Context, processID string) (ProcessState, error) {
	var state ProcessState
	err := r.pool.QueryRow(ctx, `SELECT id, status, estimated_min FROM roasting_processes WHERE id=$1`, processID).
		Scan(&state.ID, &state.Status, &state.MaxDurationMin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProcessState{}, ErrProcessNotFound
		}
		return ProcessState{}, err
	}
	return state, nil
}

const profileColumns = `id, name, target_level, start_temp_c, target_temp_c, total_min,
first_crack_start_min, first_crack_end_min, second_crack_start_min, second_crack_end_min,
created_by, created_at, notes`

// InsertProfile stores a roast profile.
func (r *Repository) InsertProfile(ctx context.Context, p Profile) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO roast_profiles (`+profileColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.Name, p.TargetLevel, p.StartTempC, p.TargetTempC, p.TotalMin,
		p.FirstCrackStartMin, p.FirstCrackEndMin, p.SecondCrackStartMin, p.SecondCrackEndMin,
		p.CreatedBy, p.CreatedAt, p.Notes)
	return err
}

// GetProfile fetches a profile by id.
func (r *Repository) GetProfile(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM roast_profiles WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.TargetLevel, &p.StartTempC, &p.TargetTempC, &p.TotalMin,
			&p.FirstCrackStartMin, &p.FirstCrackEndMin, &p.SecondCrackStartMin, &p.SecondCrackEndMin,
			&p.CreatedBy, &p.CreatedAt, &p.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	return p, nil
}

// InsertSample appends one curve sample.
func (r *Repository) InsertSample(ctx context.Context, s Sample) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO roast_samples (id, process_id, seq, elapsed_min, temp_c, ror_c_per_min, airflow_pct, gas_level_pct, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.ProcessID, s.Seq, s.ElapsedMin, s.TempC, s.RoRCPerMin, s.AirflowPct, s.GasLevelPct, s.RecordedAt)
	return err
}

// LastSample returns the latest sample of a process, if any.
func (r *Repository) LastSample(ctx context.Context, processID string) (Sample, bool, error) {
	var s Sample
	err := r.pool.QueryRow(ctx, `SELECT id, process_id, seq, elapsed_min, temp_c, ror_c_per_min, airflow_pct, gas_level_pct, recorded_at
FROM roast_samples WHERE process_id=$1 ORDER BY seq DESC LIMIT 1`, processID).
		Scan(&s.ID, &s.ProcessID, &s.Seq, &s.ElapsedMin, &s.TempC, &s.RoRCPerMin, &s.AirflowPct, &s.GasLevelPct, &s.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sample{}, false, nil
		}
		return Sample{}, false, err
	}
	return s, true, nil
}

// ListSamples returns all samples of a process in recording order.
func (r *Repository) ListSamples(ctx context.Context, processID string) ([]Sample, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, process_id, seq, elapsed_min, temp_c, ror_c_per_min, airflow_pct, gas_level_pct, recorded_at
FROM roast_samples WHERE process_id=$1 ORDER BY seq ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var samples []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.ProcessID, &s.Seq, &s.ElapsedMin, &s.TempC, &s.RoRCPerMin, &s.AirflowPct, &s.GasLevelPct, &s.RecordedAt); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// InsertEvent stores a milestone.
func (r *Repository) InsertEvent(ctx context.Context, e Event) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO roast_events (id, process_id, event_type, elapsed_min, temp_c, operator_id, recorded_at, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ProcessID, string(e.Type), e.ElapsedMin, e.TempC, e.OperatorID, e.RecordedAt, e.Notes)
	return err
}

// ListEvents returns milestones of a process in elapsed order.
func (r *Repository) ListEvents(ctx context.Context, processID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, process_id, event_type, elapsed_min, temp_c, operator_id, recorded_at, notes
FROM roast_events WHERE process_id=$1 ORDER BY elapsed_min ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.ProcessID, &e.Type, &e.ElapsedMin, &e.TempC, &e.OperatorID, &e.RecordedAt, &e.Notes); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertAdjustment stores an operator intervention.
func (r *Repository) InsertAdjustment(ctx context.Context, a Adjustment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO roast_adjustments (id, process_id, kind, elapsed_min, from_value, to_value, operator_id, recorded_at, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.ProcessID, string(a.Kind), a.ElapsedMin, a.FromValue, a.ToValue, a.OperatorID, a.RecordedAt, a.Notes)
	return err
}

// ListAdjustments returns interventions of a process in elapsed order.
func (r *Repository) ListAdjustments(ctx context.Context, processID string) ([]Adjustment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, process_id, kind, elapsed_min, from_value, to_value, operator_id, recorded_at, notes
FROM roast_adjustments WHERE process_id=$1 ORDER BY elapsed_min ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var adjustments []Adjustment
	for rows.Next() {
		var a Adjustment
		if err := rows.Scan(&a.ID, &a.ProcessID, &a.Kind, &a.ElapsedMin, &a.FromValue, &a.ToValue, &a.OperatorID, &a.RecordedAt, &a.Notes); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}
