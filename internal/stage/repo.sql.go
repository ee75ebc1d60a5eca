package stage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cafetrace/cafetrace/internal/ledger"
	"github.com/cafetrace/cafetrace/internal/platform/db"
)

// Repository persists stage processes in PostgreSQL. Lot and journal writes
// are delegated to the embedded ledger transaction repository so that both
// halves of a transition share one transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	ledger.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stage repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}

func (t *txRepository) InsertMillingProcess(ctx context.Context, proc MillingProcess) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO milling_processes
(id, input_lot_id, output_lot_id, operator_id, input_kg, parchment_kg, first_grade_kg, second_grade_kg, waste_kg, moisture_after, status, processed_at, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		proc.ID, proc.InputLotID, nilIfEmpty(proc.OutputLotID), proc.OperatorID,
		proc.InputKg, proc.ParchmentKg, proc.FirstGradeKg, proc.SecondGradeKg, proc.WasteKg,
		proc.MoistureAfter, string(proc.Status), proc.ProcessedAt, proc.Notes)
	return err
}

func (t *txRepository) InsertRoastingProcess(ctx context.Context, proc RoastingProcess) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO roasting_processes
(id, input_lot_id, output_lot_id, operator_id, profile_id, input_kg, start_temp_c, target_temp_c, estimated_min, initial_air_pct, target_level,
 duration_min, final_temp_c, final_kg, achieved_level, aroma_score, acidity_score, balanced, status, processed_at, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		proc.ID, proc.InputLotID, nilIfEmpty(proc.OutputLotID), proc.OperatorID, nilIfEmpty(proc.ProfileID),
		proc.InputKg, proc.StartTempC, proc.TargetTempC, proc.EstimatedMin, proc.InitialAirPct, string(proc.TargetLevel),
		proc.DurationMin, proc.FinalTempC, proc.FinalKg, nilIfEmpty(string(proc.AchievedLevel)),
		proc.AromaScore, proc.AcidityScore, proc.Balanced, string(proc.Status), proc.ProcessedAt, proc.Notes)
	return err
}

func (t *txRepository) GetRoastingProcessForUpdate(ctx context.Context, id string) (RoastingProcess, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+roastingColumns+` FROM roasting_processes WHERE id=$1 FOR UPDATE`, id)
	return scanRoasting(row)
}

func (t *txRepository) UpdateRoastingProcess(ctx context.Context, proc RoastingProcess) error {
	_, err := t.tx.Exec(ctx, `UPDATE roasting_processes
SET output_lot_id=$1, duration_min=$2, final_temp_c=$3, final_kg=$4, achieved_level=$5, aroma_score=$6, acidity_score=$7, balanced=$8, status=$9, notes=$10
WHERE id=$11`,
		nilIfEmpty(proc.OutputLotID), proc.DurationMin, proc.FinalTempC, proc.FinalKg,
		nilIfEmpty(string(proc.AchievedLevel)), proc.AromaScore, proc.AcidityScore, proc.Balanced,
		string(proc.Status), proc.Notes, proc.ID)
	return err
}

func (t *txRepository) InsertPackagingProcess(ctx context.Context, proc PackagingProcess) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO packaging_processes
(id, input_lot_id, output_lot_id, operator_id, package_type, unit_weight_g, units, total_kg, product_name, barcode, status, packaged_at, expires_at, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		proc.ID, proc.InputLotID, nilIfEmpty(proc.OutputLotID), proc.OperatorID, string(proc.PackageType),
		proc.UnitWeightGrams, proc.Units, proc.TotalKg, proc.ProductName, proc.Barcode,
		string(proc.Status), proc.PackagedAt, proc.ExpiresAt, proc.Notes)
	return err
}

const millingColumns = `id, input_lot_id, output_lot_id, operator_id, input_kg, parchment_kg, first_grade_kg, second_grade_kg, waste_kg, moisture_after, status, processed_at, notes`

const roastingColumns = `id, input_lot_id, output_lot_id, operator_id, profile_id, input_kg, start_temp_c, target_temp_c, estimated_min, initial_air_pct, target_level, duration_min, final_temp_c, final_kg, achieved_level, aroma_score, acidity_score, balanced, status, processed_at, notes`

const packagingColumns = `id, input_lot_id, output_lot_id, operator_id, package_type, unit_weight_g, units, total_kg, product_name, barcode, status, packaged_at, expires_at, notes`

// GetMillingProcess fetches a milling process by id.
func (r *Repository) GetMillingProcess(ctx context.Context, id string) (MillingProcess, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+millingColumns+` FROM milling_processes WHERE id=$1`, id)
	return scanMilling(row)
}

// GetRoastingProcess fetches a roasting process by id.
func (r *Repository) GetRoastingProcess(ctx context.Context, id string) (RoastingProcess, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roastingColumns+` FROM roasting_processes WHERE id=$1`, id)
	return scanRoasting(row)
}

// GetPackagingProcess fetches a packaging process by id.
func (r *Repository) GetPackagingProcess(ctx context.Context, id string) (PackagingProcess, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+packagingColumns+` FROM packaging_processes WHERE id=$1`, id)
	return scanPackaging(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMilling(row rowScanner) (MillingProcess, error) {
	var p MillingProcess
	var outputLot *string
	err := row.Scan(&p.ID, &p.InputLotID, &outputLot, &p.OperatorID, &p.InputKg, &p.ParchmentKg,
		&p.FirstGradeKg, &p.SecondGradeKg, &p.WasteKg, &p.MoistureAfter, &p.Status, &p.ProcessedAt, &p.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MillingProcess{}, ErrProcessNotFound
		}
		return MillingProcess{}, err
	}
	if outputLot != nil {
		p.OutputLotID = *outputLot
	}
	return p, nil
}

func scanRoasting(row rowScanner) (RoastingProcess, error) {
	var p RoastingProcess
	var outputLot, profileID, achieved *string
	err := row.Scan(&p.ID, &p.InputLotID, &outputLot, &p.OperatorID, &profileID, &p.InputKg,
		&p.StartTempC, &p.TargetTempC, &p.EstimatedMin, &p.InitialAirPct, &p.TargetLevel,
		&p.DurationMin, &p.FinalTempC, &p.FinalKg, &achieved,
		&p.AromaScore, &p.AcidityScore, &p.Balanced, &p.Status, &p.ProcessedAt, &p.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoastingProcess{}, ErrProcessNotFound
		}
		return RoastingProcess{}, err
	}
	if outputLot != nil {
		p.OutputLotID = *outputLot
	}
	if profileID != nil {
		p.ProfileID = *profileID
	}
	if achieved != nil {
		p.AchievedLevel = RoastLevel(*achieved)
	}
	return p, nil
}

func scanPackaging(row rowScanner) (PackagingProcess, error) {
	var p PackagingProcess
	var outputLot *string
	err := row.Scan(&p.ID, &p.InputLotID, &outputLot, &p.OperatorID, &p.PackageType,
		&p.UnitWeightGrams, &p.Units, &p.TotalKg, &p.ProductName, &p.Barcode,
		&p.Status, &p.PackagedAt, &p.ExpiresAt, &p.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PackagingProcess{}, ErrProcessNotFound
		}
		return PackagingProcess{}, err
	}
	if outputLot != nil {
		p.OutputLotID = *outputLot
	}
	return p, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
