package purchasing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cafetrace/cafetrace/internal/ledger"
)

type memoryRepo struct {
	suppliers map[string]Supplier
	purchases map[string]Purchase
	lots      map[string]ledger.Lot
	movements []ledger.MovementEntry
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		suppliers: make(map[string]Supplier),
		purchases: make(map[string]Purchase),
		lots:      make(map[string]ledger.Lot),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	purchases := make(map[string]Purchase, len(r.purchases))
	for k, v := range r.purchases {
		purchases[k] = v
	}
	lots := make(map[string]ledger.Lot, len(r.lots))
	for k, v := range r.lots {
		lots[k] = v
	}
	movs := len(r.movements)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.purchases = purchases
		r.lots = lots
		r.movements = r.movements[:movs]
		return err
	}
	return nil
}

func (r *memoryRepo) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	p, ok := r.purchases[id]
	if !ok {
		return Purchase{}, ErrPurchaseNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetSupplier(ctx context.Context, id string) (Supplier, error) {
	s, ok := r.suppliers[id]
	if !ok {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, nil
}

func (r *memoryRepo) InsertSupplier(ctx context.Context, s Supplier) error {
	r.suppliers[s.ID] = s
	return nil
}

func (tx *memoryTx) InsertPurchase(ctx context.Context, p Purchase) error {
	for _, existing := range tx.repo.purchases {
		if existing.InvoiceNumber == p.InvoiceNumber {
			return ErrDuplicateInvoice
		}
	}
	tx.repo.purchases[p.ID] = p
	return nil
}

func (tx *memoryTx) GetPurchaseForUpdate(ctx context.Context, id string) (Purchase, error) {
	return tx.repo.GetPurchase(ctx, id)
}

func (tx *memoryTx) UpdatePurchase(ctx context.Context, p Purchase) error {
	tx.repo.purchases[p.ID] = p
	return nil
}

func (tx *memoryTx) GetLotForUpdate(ctx context.Context, stage ledger.StageKind, lotID string) (ledger.Lot, error) {
	lot, ok := tx.repo.lots[lotID]
	if !ok {
		return ledger.Lot{}, ledger.ErrLotNotFound
	}
	return lot, nil
}

func (tx *memoryTx) UpdateLot(ctx context.Context, lot ledger.Lot) error {
	tx.repo.lots[lot.ID] = lot
	return nil
}

func (tx *memoryTx) InsertLot(ctx context.Context, lot ledger.Lot) error {
	tx.repo.lots[lot.ID] = lot
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, entry ledger.MovementEntry) error {
	tx.repo.movements = append(tx.repo.movements, entry)
	return nil
}

func seedSupplier(repo *memoryRepo) Supplier {
	s := Supplier{ID: uuid.NewString(), Name: "Cooperativa del Huila", Kind: SupplierCooperative, Rating: 9.2, Active: true}
	repo.suppliers[s.ID] = s
	return s
}

func purchaseFixture(supplierID string) PurchaseInput {
	return PurchaseInput{
		InvoiceNumber: "FAC-2025-001",
		SupplierID:    supplierID,
		BuyerID:       "buyer-1",
		CoffeeKind:    "Arabica",
		Variety:       "Caturra",
		Origin:        "Huila",
		Method:        MethodWashed,
		QuantityKg:    500,
		PricePerKg:    18.5,
		TotalPrice:    9250,
		QualityScore:  8,
	}
}

func TestCreatePurchase(t *testing.T) {
	repo := newMemoryRepo()
	supplier := seedSupplier(repo)
	svc := NewService(repo, nil)

	purchase, err := svc.CreatePurchase(context.Background(), purchaseFixture(supplier.ID))
	require.NoError(t, err)
	require.Equal(t, PurchasePending, purchase.Status)
	require.InDelta(t, 9250.0, purchase.TotalPrice, 1e-9)
}

func TestCreatePurchasePriceMismatch(t *testing.T) {
	repo := newMemoryRepo()
	supplier := seedSupplier(repo)
	svc := NewService(repo, nil)

	input := purchaseFixture(supplier.ID)
	input.TotalPrice = 9000
	_, err := svc.CreatePurchase(context.Background(), input)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreatePurchaseDuplicateInvoice(t *testing.T) {
	repo := newMemoryRepo()
	supplier := seedSupplier(repo)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreatePurchase(ctx, purchaseFixture(supplier.ID))
	require.NoError(t, err)
	_, err = svc.CreatePurchase(ctx, purchaseFixture(supplier.ID))
	require.ErrorIs(t, err, ErrDuplicateInvoice)
}

func TestCreatePurchaseUnknownSupplier(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)

	_, err := svc.CreatePurchase(context.Background(), purchaseFixture(uuid.NewString()))
	require.ErrorIs(t, err, ErrSupplierNotFound)
}

func TestReceivePurchaseCreatesGreenLot(t *testing.T) {
	repo := newMemoryRepo()
	supplier := seedSupplier(repo)
	svc := NewService(repo, nil)
	ctx := context.Background()

	purchase, err := svc.CreatePurchase(ctx, purchaseFixture(supplier.ID))
	require.NoError(t, err)

	lot, err := svc.ReceivePurchase(ctx, ReceiveInput{PurchaseID: purchase.ID, ActorID: "op-1", Location: "warehouse A"})
	require.NoError(t, err)
	require.Equal(t, ledger.StageGreen, lot.Stage)
	require.InDelta(t, 500.0, lot.AvailableKg, 1e-9)
	require.Equal(t, purchase.ID, lot.PurchaseID)
	require.NotEmpty(t, lot.LotCode)

	require.Equal(t, PurchaseReceived, repo.purchases[purchase.ID].Status)
	require.Equal(t, lot.ID, repo.purchases[purchase.ID].GreenLotID)

	require.Len(t, repo.movements, 1)
	require.Equal(t, ledger.MovementInbound, repo.movements[0].Type)
	require.InDelta(t, 500.0, repo.movements[0].AfterKg, 1e-9)
	require.NoError(t, ledger.CheckJournal(repo.movements))

	// Receiving twice is a state error, not a second lot.
	_, err = svc.ReceivePurchase(ctx, ReceiveInput{PurchaseID: purchase.ID, ActorID: "op-1"})
	require.ErrorIs(t, err, ErrPurchaseState)
	require.Len(t, repo.movements, 1)
}

func TestQualityCheckFlow(t *testing.T) {
	repo := newMemoryRepo()
	supplier := seedSupplier(repo)
	svc := NewService(repo, nil)
	ctx := context.Background()

	purchase, err := svc.CreatePurchase(ctx, purchaseFixture(supplier.ID))
	require.NoError(t, err)

	// Approval requires the goods to have arrived first.
	_, err = svc.RecordQualityCheck(ctx, QualityInput{PurchaseID: purchase.ID, ActorID: "qc-1", QualityScore: 8, Approved: true})
	require.ErrorIs(t, err, ErrPurchaseState)

	_, err = svc.ReceivePurchase(ctx, ReceiveInput{PurchaseID: purchase.ID, ActorID: "op-1"})
	require.NoError(t, err)

	checked, err := svc.RecordQualityCheck(ctx, QualityInput{PurchaseID: purchase.ID, ActorID: "qc-1", Moisture: 11.5, QualityScore: 8, Approved: true})
	require.NoError(t, err)
	require.Equal(t, PurchaseQualityChecked, checked.Status)

	// Received stock cannot be rejected any more.
	_, err = svc.RecordQualityCheck(ctx, QualityInput{PurchaseID: purchase.ID, ActorID: "qc-1", QualityScore: 3, Approved: false})
	require.ErrorIs(t, err, ErrPurchaseState)
}

func TestRejectPendingPurchase(t *testing.T) {
	repo := newMemoryRepo()
	supplier := seedSupplier(repo)
	svc := NewService(repo, nil)
	ctx := context.Background()

	purchase, err := svc.CreatePurchase(ctx, purchaseFixture(supplier.ID))
	require.NoError(t, err)

	rejected, err := svc.RecordQualityCheck(ctx, QualityInput{PurchaseID: purchase.ID, ActorID: "qc-1", QualityScore: 2, Defects: "mold", Approved: false})
	require.NoError(t, err)
	require.Equal(t, PurchaseRejected, rejected.Status)
	require.Empty(t, repo.lots)
}

func TestPurchaseExpiryBeforePurchaseDate(t *testing.T) {
	repo := newMemoryRepo()
	supplier := seedSupplier(repo)
	svc := NewService(repo, nil)

	input := purchaseFixture(supplier.ID)
	input.PurchasedAt = time.Now()
	past := input.PurchasedAt.Add(-24 * time.Hour)
	input.ExpiresAt = &past
	_, err := svc.CreatePurchase(context.Background(), input)
	require.ErrorIs(t, err, ErrValidation)
}
