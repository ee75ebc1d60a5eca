package purchasing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cafetrace/cafetrace/internal/ledger"
	"github.com/cafetrace/cafetrace/internal/shared"
)

// TxRepository embeds the ledger write surface: receiving a purchase creates
// the green lot and its journal row in the same transaction that flips the
// purchase status.
type TxRepository interface {
	ledger.TxRepository
	InsertPurchase(ctx context.Context, p Purchase) error
	GetPurchaseForUpdate(ctx context.Context, id string) (Purchase, error)
	UpdatePurchase(ctx context.Context, p Purchase) error
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchase(ctx context.Context, id string) (Purchase, error)
	GetSupplier(ctx context.Context, id string) (Supplier, error)
	InsertSupplier(ctx context.Context, s Supplier) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages suppliers, purchases and the receiving boundary into the
// green stage.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	audit    AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, validate: validator.New(), audit: audit}
}

// SupplierInput describes a new supplier.
type SupplierInput struct {
	Name           string       `validate:"required,min=2"`
	Kind           SupplierKind `validate:"required,oneof=COOPERATIVE FARM TRADER"`
	Contact        string
	Phone          string `validate:"omitempty,min=10"`
	Email          string `validate:"omitempty,email"`
	Address        string
	Certifications []string
	Rating         float64 `validate:"omitempty,gte=1,lte=10"`
}

// PurchaseInput describes a new purchase invoice.
type PurchaseInput struct {
	InvoiceNumber string `validate:"required"`
	SupplierID    string `validate:"required"`
	BuyerID       string `validate:"required"`
	PurchasedAt   time.Time
	ExpiresAt     *time.Time

	CoffeeKind string        `validate:"required"`
	Variety    string        `validate:"required"`
	Origin     string        `validate:"required"`
	Method     ProcessMethod `validate:"required,oneof=WASHED NATURAL HONEY SEMI_WASHED"`

	QuantityKg float64 `validate:"required,gte=0.1"`
	PricePerKg float64 `validate:"required,gt=0"`
	TotalPrice float64 `validate:"required,gt=0"`
	SackCount  int     `validate:"gte=0"`

	Moisture     float64 `validate:"gte=0,lte=100"`
	QualityScore int     `validate:"omitempty,gte=1,lte=10"`
	Organic      bool
	FairTrade    bool
	Notes        string
}

// ReceiveInput marks a purchase as received and creates its green lot.
type ReceiveInput struct {
	PurchaseID string `validate:"required"`
	ActorID    string `validate:"required"`
	LotCode    string `validate:"omitempty,min=5,max=50"`
	Location   string
	Notes      string
}

// QualityInput records the quality control outcome for a received purchase.
type QualityInput struct {
	PurchaseID   string  `validate:"required"`
	ActorID      string  `validate:"required"`
	Moisture     float64 `validate:"gte=0,lte=100"`
	QualityScore int     `validate:"required,gte=1,lte=10"`
	Defects      string
	Approved     bool
	Notes        string
}

// CreateSupplier registers a supplier.
func (s *Service) CreateSupplier(ctx context.Context, input SupplierInput) (Supplier, error) {
	if err := s.validate.Struct(input); err != nil {
		return Supplier{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	supplier := Supplier{
		ID:             uuid.NewString(),
		Name:           input.Name,
		Kind:           input.Kind,
		Contact:        input.Contact,
		Phone:          input.Phone,
		Email:          input.Email,
		Address:        input.Address,
		Certifications: input.Certifications,
		Rating:         input.Rating,
		Active:         true,
		CreatedAt:      time.Now(),
	}
	if err := s.repo.InsertSupplier(ctx, supplier); err != nil {
		return Supplier{}, err
	}
	return supplier, nil
}

// GetSupplier returns a supplier by id.
func (s *Service) GetSupplier(ctx context.Context, id string) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// CreatePurchase records a pending purchase invoice. The declared total must
// match quantity x unit price within PriceToleranceEps.
func (s *Service) CreatePurchase(ctx context.Context, input PurchaseInput) (Purchase, error) {
	if err := s.validate.Struct(input); err != nil {
		return Purchase{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if math.Abs(input.TotalPrice-input.QuantityKg*input.PricePerKg) > PriceToleranceEps {
		return Purchase{}, fmt.Errorf("%w: total price %.2f does not match %.2f kg x %.2f", ErrValidation, input.TotalPrice, input.QuantityKg, input.PricePerKg)
	}
	purchasedAt := input.PurchasedAt
	if purchasedAt.IsZero() {
		purchasedAt = time.Now()
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(purchasedAt) {
		return Purchase{}, fmt.Errorf("%w: expiry date must follow purchase date", ErrValidation)
	}
	if _, err := s.repo.GetSupplier(ctx, input.SupplierID); err != nil {
		return Purchase{}, err
	}
	purchase := Purchase{
		ID:            uuid.NewString(),
		InvoiceNumber: input.InvoiceNumber,
		SupplierID:    input.SupplierID,
		BuyerID:       input.BuyerID,
		PurchasedAt:   purchasedAt,
		ExpiresAt:     input.ExpiresAt,
		CoffeeKind:    input.CoffeeKind,
		Variety:       input.Variety,
		Origin:        input.Origin,
		Method:        input.Method,
		QuantityKg:    input.QuantityKg,
		PricePerKg:    input.PricePerKg,
		TotalPrice:    input.TotalPrice,
		SackCount:     input.SackCount,
		Moisture:      input.Moisture,
		QualityScore:  input.QualityScore,
		Organic:       input.Organic,
		FairTrade:     input.FairTrade,
		Status:        PurchasePending,
		Notes:         input.Notes,
		CreatedAt:     time.Now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertPurchase(ctx, purchase)
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordAudit(ctx, "purchase:create", purchase.ID, input.BuyerID, map[string]any{"invoice": input.InvoiceNumber, "kg": input.QuantityKg})
	return purchase, nil
}

// ReceivePurchase flips a pending purchase to RECEIVED and atomically creates
// the green lot with its INBOUND journal row.
func (s *Service) ReceivePurchase(ctx context.Context, input ReceiveInput) (ledger.Lot, error) {
	if err := s.validate.Struct(input); err != nil {
		return ledger.Lot{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	now := time.Now()
	var lot ledger.Lot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		purchase, err := tx.GetPurchaseForUpdate(ctx, input.PurchaseID)
		if err != nil {
			return err
		}
		if purchase.Status != PurchasePending {
			return fmt.Errorf("%w: purchase %s is %s", ErrPurchaseState, purchase.ID, purchase.Status)
		}
		code := input.LotCode
		if code == "" {
			code = shared.GenerateLotCode("GRN")
		}
		lot = ledger.Lot{
			ID:          uuid.NewString(),
			LotCode:     code,
			Stage:       ledger.StageGreen,
			TotalKg:     purchase.QuantityKg,
			AvailableKg: purchase.QuantityKg,
			Status:      ledger.LotAvailable,
			PurchaseID:  purchase.ID,
			Location:    input.Location,
			CreatedAt:   now,
			ExpiresAt:   purchase.ExpiresAt,
		}
		if err := tx.InsertLot(ctx, lot); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, ledger.InitialMovement(lot, ledger.MovementInbound, input.ActorID, "purchase received", "", now)); err != nil {
			return err
		}
		purchase.Status = PurchaseReceived
		purchase.GreenLotID = lot.ID
		return tx.UpdatePurchase(ctx, purchase)
	})
	if err != nil {
		return ledger.Lot{}, err
	}
	s.recordAudit(ctx, "purchase:receive", input.PurchaseID, input.ActorID, map[string]any{"lot_id": lot.ID, "lot_code": lot.LotCode})
	return lot, nil
}

// RecordQualityCheck stores quality control results. A rejected purchase
// must not hold stock: rejection is only possible before receiving.
func (s *Service) RecordQualityCheck(ctx context.Context, input QualityInput) (Purchase, error) {
	if err := s.validate.Struct(input); err != nil {
		return Purchase{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var purchase Purchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		purchase, err = tx.GetPurchaseForUpdate(ctx, input.PurchaseID)
		if err != nil {
			return err
		}
		switch {
		case input.Approved:
			if purchase.Status != PurchaseReceived {
				return fmt.Errorf("%w: purchase %s is %s, expected RECEIVED", ErrPurchaseState, purchase.ID, purchase.Status)
			}
			purchase.Status = PurchaseQualityChecked
		default:
			if purchase.Status != PurchasePending {
				return fmt.Errorf("%w: cannot reject purchase %s in state %s", ErrPurchaseState, purchase.ID, purchase.Status)
			}
			purchase.Status = PurchaseRejected
		}
		purchase.Moisture = input.Moisture
		purchase.QualityScore = input.QualityScore
		purchase.Defects = input.Defects
		return tx.UpdatePurchase(ctx, purchase)
	})
	if err != nil {
		return Purchase{}, err
	}
	s.recordAudit(ctx, "purchase:quality_check", purchase.ID, input.ActorID, map[string]any{"approved": input.Approved, "score": input.QualityScore})
	return purchase, nil
}

// GetPurchase returns a purchase by id.
func (s *Service) GetPurchase(ctx context.Context, id string) (Purchase, error) {
	return s.repo.GetPurchase(ctx, id)
}

func (s *Service) recordAudit(ctx context.Context, action, entityID, actorID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase",
		EntityID: entityID,
		Meta:     meta,
	})
}
