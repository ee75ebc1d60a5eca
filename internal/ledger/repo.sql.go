package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cafetrace/cafetrace/internal/platform/db"
)

// Lots live in one table per stage, all sharing the same column shape.
var lotTables = map[StageKind]string{
	StageGreen:     "green_lots",
	StageParchment: "parchment_lots",
	StageRoasted:   "roasted_lots",
	StagePackaged:  "packaged_lots",
}

func lotTable(stage StageKind) (string, error) {
	table, ok := lotTables[stage]
	if !ok {
		return "", fmt.Errorf("ledger: unknown stage %q", stage)
	}
	return table, nil
}

const lotColumns = `id, lot_code, total_kg, available_kg, status, version, purchase_id, process_id, location, classification, roast_level, units, created_at, expires_at`

// Repository persists lots and the movement journal in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open pgx transaction with the ledger write
// surface. Stage modules compose it into their own transaction repositories
// so lot updates and journal rows commit with the process record.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetLot fetches a lot without locking.
func (r *Repository) GetLot(ctx context.Context, stage StageKind, lotID string) (Lot, error) {
	table, err := lotTable(stage)
	if err != nil {
		return Lot{}, err
	}
	row := r.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM `+table+` WHERE id=$1`, lotID)
	return scanLot(row, stage)
}

// ListAvailableByStage returns consumable lots oldest first. The ordering is
// the FIFO policy, not an incidental default.
func (r *Repository) ListAvailableByStage(ctx context.Context, stage StageKind) ([]Lot, error) {
	table, err := lotTable(stage)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM `+table+`
WHERE status='AVAILABLE' AND available_kg > 0
ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows, stage)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// ListMovements queries the append-only journal.
func (r *Repository) ListMovements(ctx context.Context, filter JournalFilter) ([]MovementEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT id, actor_id, movement_type, stage, lot_id, before_kg, delta_kg, after_kg, reason, process_id, occurred_at
FROM inventory_movements WHERE 1=1`
	args := []any{}
	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		query += fmt.Sprintf(" AND stage=$%d", len(args))
	}
	if filter.LotID != "" {
		args = append(args, filter.LotID)
		query += fmt.Sprintf(" AND lot_id=$%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY occurred_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []MovementEntry
	for rows.Next() {
		var e MovementEntry
		var processID *string
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Type, &e.Stage, &e.LotID, &e.BeforeKg, &e.DeltaKg, &e.AfterKg, &e.Reason, &processID, &e.OccurredAt); err != nil {
			return nil, err
		}
		if processID != nil {
			e.ProcessID = *processID
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListExpiringBefore returns non-expired lots whose expiry falls before the
// cutoff, oldest expiry first. Used by the alert evaluator and expiry sweep.
func (r *Repository) ListExpiringBefore(ctx context.Context, stage StageKind, cutoff time.Time) ([]Lot, error) {
	table, err := lotTable(stage)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM `+table+`
WHERE expires_at IS NOT NULL AND expires_at <= $1 AND status <> 'EXPIRED'
ORDER BY expires_at ASC, id ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lots []Lot
	for rows.Next() {
		lot, err := scanLot(rows, stage)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// AvailableByStage sums available stock across a stage.
func (r *Repository) AvailableByStage(ctx context.Context, stage StageKind) (float64, error) {
	table, err := lotTable(stage)
	if err != nil {
		return 0, err
	}
	var total float64
	err = r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(available_kg), 0) FROM `+table+` WHERE status <> 'EXPIRED'`).Scan(&total)
	return total, err
}

func (t *txRepository) GetLotForUpdate(ctx context.Context, stage StageKind, lotID string) (Lot, error) {
	table, err := lotTable(stage)
	if err != nil {
		return Lot{}, err
	}
	row := t.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM `+table+` WHERE id=$1 FOR UPDATE`, lotID)
	return scanLot(row, stage)
}

func (t *txRepository) UpdateLot(ctx context.Context, lot Lot) error {
	table, err := lotTable(lot.Stage)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE `+table+`
SET total_kg=$1, available_kg=$2, status=$3, location=$4, version=version+1
WHERE id=$5 AND version=$6`,
		lot.TotalKg, lot.AvailableKg, string(lot.Status), lot.Location, lot.ID, lot.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (t *txRepository) InsertLot(ctx context.Context, lot Lot) error {
	table, err := lotTable(lot.Stage)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO `+table+` (`+lotColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		lot.ID, lot.LotCode, lot.TotalKg, lot.AvailableKg, string(lot.Status), lot.Version,
		nullString(lot.PurchaseID), nullString(lot.ProcessID), lot.Location,
		nullString(string(lot.Classification)), nullString(lot.RoastLevel), lot.Units,
		lot.CreatedAt, lot.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateLotCode, lot.LotCode)
		}
		return err
	}
	return nil
}

func (t *txRepository) InsertMovement(ctx context.Context, entry MovementEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory_movements (id, actor_id, movement_type, stage, lot_id, before_kg, delta_kg, after_kg, reason, process_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.ActorID, string(entry.Type), string(entry.Stage), entry.LotID,
		entry.BeforeKg, entry.DeltaKg, entry.AfterKg, entry.Reason,
		nullString(entry.ProcessID), entry.OccurredAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner, stage StageKind) (Lot, error) {
	var lot Lot
	var purchaseID, processID, classification, roastLevel *string
	err := row.Scan(&lot.ID, &lot.LotCode, &lot.TotalKg, &lot.AvailableKg, &lot.Status, &lot.Version,
		&purchaseID, &processID, &lot.Location, &classification, &roastLevel, &lot.Units,
		&lot.CreatedAt, &lot.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, err
	}
	lot.Stage = stage
	if purchaseID != nil {
		lot.PurchaseID = *purchaseID
	}
	if processID != nil {
		lot.ProcessID = *processID
	}
	if classification != nil {
		lot.Classification = Classification(*classification)
	}
	if roastLevel != nil {
		lot.RoastLevel = *roastLevel
	}
	return lot, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
