package trace

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cafetrace/cafetrace/internal/ledger"
	"github.com/cafetrace/cafetrace/internal/purchasing"
	"github.com/cafetrace/cafetrace/internal/stage"
)

// Repository is the assembler's read surface. It owns only the lot-code
// lookup and delegates everything else to the module repositories, so the
// chain walk reuses their scan logic.
type Repository struct {
	pool       *pgxpool.Pool
	ledger     *ledger.Repository
	stage      *stage.Repository
	purchasing *purchasing.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lr *ledger.Repository, sr *stage.Repository, pr *purchasing.Repository) *Repository {
	return &Repository{pool: pool, ledger: lr, stage: sr, purchasing: pr}
}

// GetPackagedLotByCode resolves a retail lot code to its packaged lot.
func (r *Repository) GetPackagedLotByCode(ctx context.Context, lotCode string) (ledger.Lot, error) {
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM packaged_lots WHERE lot_code=$1`, lotCode).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Lot{}, ledger.ErrLotNotFound
		}
		return ledger.Lot{}, err
	}
	return r.ledger.GetLot(ctx, ledger.StagePackaged, id)
}

// GetLot fetches a lot in any stage.
func (r *Repository) GetLot(ctx context.Context, kind ledger.StageKind, lotID string) (ledger.Lot, error) {
	return r.ledger.GetLot(ctx, kind, lotID)
}

// GetPackagingProcess fetches a packaging process.
func (r *Repository) GetPackagingProcess(ctx context.Context, id string) (stage.PackagingProcess, error) {
	return r.stage.GetPackagingProcess(ctx, id)
}

// GetRoastingProcess fetches a roasting process.
func (r *Repository) GetRoastingProcess(ctx context.Context, id string) (stage.RoastingProcess, error) {
	return r.stage.GetRoastingProcess(ctx, id)
}

// GetMillingProcess fetches a milling process.
func (r *Repository) GetMillingProcess(ctx context.Context, id string) (stage.MillingProcess, error) {
	return r.stage.GetMillingProcess(ctx, id)
}

// GetPurchase fetches a purchase invoice.
func (r *Repository) GetPurchase(ctx context.Context, id string) (purchasing.Purchase, error) {
	return r.purchasing.GetPurchase(ctx, id)
}

// GetSupplier fetches a supplier.
func (r *Repository) GetSupplier(ctx context.Context, id string) (purchasing.Supplier, error) {
	return r.purchasing.GetSupplier(ctx, id)
}
