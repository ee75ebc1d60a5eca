package purchasing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cafetrace/cafetrace/internal/ledger"
	"github.com/cafetrace/cafetrace/internal/platform/db"
)

// Repository persists suppliers and purchases in PostgreSQL.
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
		return errors.New("purchasing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}

const purchaseColumns = `id, invoice_number, supplier_id, buyer_id, purchased_at, expires_at, coffee_kind, variety, origin, method, quantity_kg, price_per_kg, total_price, sack_count, moisture, quality_score, defects, organic, fair_trade, status, green_lot_id, notes, created_at`

func (t *txRepository) InsertPurchase(ctx context.Context, p Purchase) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO purchases (`+purchaseColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		p.ID, p.InvoiceNumber, p.SupplierID, p.BuyerID, p.PurchasedAt, p.ExpiresAt,
		p.CoffeeKind, p.Variety, p.Origin, string(p.Method),
		p.QuantityKg, p.PricePerKg, p.TotalPrice, p.SackCount,
		p.Moisture, p.QualityScore, p.Defects, p.Organic, p.FairTrade,
		string(p.Status), nilIfEmpty(p.GreenLotID), p.Notes, p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateInvoice
		}
		return err
	}
	return nil
}

func (t *txRepository) GetPurchaseForUpdate(ctx context.Context, id string) (Purchase, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1 FOR UPDATE`, id)
	return scanPurchase(row)
}

func (t *txRepository) UpdatePurchase(ctx context.Context, p Purchase) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchases
SET status=$1, green_lot_id=$2, moisture=$3, quality_score=$4, defects=$5, notes=$6
WHERE id=$7`,
		string(p.Status), nilIfEmpty(p.GreenLotID), p.Moisture, p.QualityScore, p.Defects, p.Notes, p.ID)
	return err
}

// GetPurchase fetches a purchase by id.
func (r *Repository) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id=$1`, id)
	return scanPurchase(row)
}

// GetSupplier fetches a supplier by id.
func (r *Repository) GetSupplier(ctx context.Context, id string) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `SELECT id, name, kind, contact, phone, email, address, certifications, rating, active, created_at
FROM suppliers WHERE id=$1`, id).Scan(
		&s.ID, &s.Name, &s.Kind, &s.Contact, &s.Phone, &s.Email, &s.Address,
		&s.Certifications, &s.Rating, &s.Active, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrSupplierNotFound
		}
		return Supplier{}, err
	}
	return s, nil
}

// InsertSupplier persists a supplier.
func (r *Repository) InsertSupplier(ctx context.Context, s Supplier) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO suppliers (id, name, kind, contact, phone, email, address, certifications, rating, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.Name, string(s.Kind), s.Contact, s.Phone, s.Email, s.Address,
		s.Certifications, s.Rating, s.Active, s.CreatedAt)
	return err
}

func scanPurchase(row interface{ Scan(dest ...any) error }) (Purchase, error) {
	var p Purchase
	var greenLot *string
	err := row.Scan(&p.ID, &p.InvoiceNumber, &p.SupplierID, &p.BuyerID, &p.PurchasedAt, &p.ExpiresAt,
		&p.CoffeeKind, &p.Variety, &p.Origin, &p.Method,
		&p.QuantityKg, &p.PricePerKg, &p.TotalPrice, &p.SackCount,
		&p.Moisture, &p.QualityScore, &p.Defects, &p.Organic, &p.FairTrade,
		&p.Status, &greenLot, &p.Notes, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrPurchaseNotFound
		}
		return Purchase{}, err
	}
	if greenLot != nil {
		p.GreenLotID = *greenLot
	}
	return p, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
