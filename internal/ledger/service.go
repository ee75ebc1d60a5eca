package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/cafetrace/cafetrace/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLot(ctx context.Context, stage StageKind, lotID string) (Lot, error)
	ListAvailableByStage(ctx context.Context, stage StageKind) ([]Lot, error)
	ListMovements(ctx context.Context, filter JournalFilter) ([]MovementEntry, error)
}

// TxRepository exposes the transactional operations shared by every
// ledger-mutating flow. Stage transition repositories embed it so a balance
// update and its journal row always land in the same transaction.
type TxRepository interface {
	GetLotForUpdate(ctx context.Context, stage StageKind, lotID string) (Lot, error)
	UpdateLot(ctx context.Context, lot Lot) error
	InsertLot(ctx context.Context, lot Lot) error
	InsertMovement(ctx context.Context, entry MovementEntry) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates ledger operations.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// CommitDeltaInput describes a direct quantity change request.
type CommitDeltaInput struct {
	Stage     StageKind
	LotID     string
	DeltaKg   float64
	Type      MovementType
	ActorID   string
	Reason    string
	ProcessID string
}

// Available returns the current available quantity of a lot.
func (s *Service) Available(ctx context.Context, stage StageKind, lotID string) (float64, error) {
	lot, err := s.repo.GetLot(ctx, stage, lotID)
	if err != nil {
		return 0, err
	}
	return lot.AvailableKg, nil
}

// Reserve marks a lot as in-process after verifying it can cover the
// requested quantity. Reservation changes status only; the quantity is
// deducted when the consuming transition commits.
func (s *Service) Reserve(ctx context.Context, stage StageKind, lotID string, kg float64) error {
	if kg <= 0 || math.IsNaN(kg) {
		return ErrInvalidDelta
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(ctx, stage, lotID)
		if err != nil {
			return err
		}
		if lot.AvailableKg < kg {
			return fmt.Errorf("%w: lot %s has %.2f kg, need %.2f kg", ErrInsufficientStock, lot.LotCode, lot.AvailableKg, kg)
		}
		lot.Status = LotInProcess
		return tx.UpdateLot(ctx, lot)
	})
}

// Release reverts a reservation, returning an in-process lot to AVAILABLE.
func (s *Service) Release(ctx context.Context, stage StageKind, lotID string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(ctx, stage, lotID)
		if err != nil {
			return err
		}
		if lot.Status != LotInProcess {
			return nil
		}
		lot.Status = statusForBalance(lot)
		return tx.UpdateLot(ctx, lot)
	})
}

// CommitDelta applies a signed quantity change and appends exactly one
// journal row in the same transaction.
func (s *Service) CommitDelta(ctx context.Context, input CommitDeltaInput) (MovementEntry, error) {
	if input.DeltaKg == 0 || math.IsNaN(input.DeltaKg) || math.IsInf(input.DeltaKg, 0) {
		return MovementEntry{}, ErrInvalidDelta
	}
	if input.ActorID == "" {
		input.ActorID = shared.ActorFromContext(ctx)
	}
	if input.ActorID == "" {
		return MovementEntry{}, shared.ErrActorRequired
	}
	if input.Type == "" {
		input.Type = MovementAdjustment
	}
	var entry MovementEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(ctx, input.Stage, input.LotID)
		if err != nil {
			return err
		}
		entry, _, err = ApplyDelta(ctx, tx, lot, input, time.Now())
		return err
	})
	if err != nil {
		return MovementEntry{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("ledger:%s", input.Type),
			Entity:   "lot",
			EntityID: input.LotID,
			Meta: map[string]any{
				"stage":  string(input.Stage),
				"delta":  input.DeltaKg,
				"reason": input.Reason,
			},
		})
	}
	return entry, nil
}

// MarkExpired retires a past-expiry lot. Any remaining quantity is written
// off through an ADJUSTMENT entry so the journal stays complete.
func (s *Service) MarkExpired(ctx context.Context, stage StageKind, lotID, actorID, reason string) (MovementEntry, error) {
	var entry MovementEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(ctx, stage, lotID)
		if err != nil {
			return err
		}
		if lot.Status == LotExpired {
			return nil
		}
		if lot.AvailableKg > 0 {
			input := CommitDeltaInput{
				Stage:   stage,
				LotID:   lotID,
				DeltaKg: -lot.AvailableKg,
				Type:    MovementAdjustment,
				ActorID: actorID,
				Reason:  reason,
			}
			entry, lot, err = ApplyDelta(ctx, tx, lot, input, time.Now())
			if err != nil {
				return err
			}
		}
		lot.Status = LotExpired
		return tx.UpdateLot(ctx, lot)
	})
	if err != nil {
		return MovementEntry{}, err
	}
	s.logger.Info("lot expired", "stage", string(stage), "lot_id", lotID, "written_off_kg", -entry.DeltaKg)
	return entry, nil
}

// FIFOStock builds an oldest-first allocation plan covering requiredKg.
// Consuming the oldest lot first is deliberate policy: traceability chains
// must prefer the oldest compliant stock.
func (s *Service) FIFOStock(ctx context.Context, stage StageKind, requiredKg float64) ([]LotShare, error) {
	if requiredKg <= 0 {
		return nil, ErrInvalidDelta
	}
	lots, err := s.repo.ListAvailableByStage(ctx, stage)
	if err != nil {
		return nil, err
	}
	var plan []LotShare
	remaining := requiredKg
	for _, lot := range lots {
		if remaining <= 0 {
			break
		}
		take := math.Min(lot.AvailableKg, remaining)
		if take <= 0 {
			continue
		}
		plan = append(plan, LotShare{LotID: lot.ID, LotCode: lot.LotCode, TakeKg: take})
		remaining -= take
	}
	if remaining > 1e-9 {
		return nil, fmt.Errorf("%w: stage %s short by %.2f kg", ErrInsufficientStock, stage, remaining)
	}
	return plan, nil
}

// Journal lists movement entries. The journal is never edited; corrections
// appear as new ADJUSTMENT rows.
func (s *Service) Journal(ctx context.Context, filter JournalFilter) ([]MovementEntry, error) {
	return s.repo.ListMovements(ctx, filter)
}

// ApplyDelta is the single write path for lot balances. It enforces the
// non-negativity invariant, persists the new balance and appends the paired
// journal row inside the caller's transaction, then returns both the entry
// and the updated lot.
func ApplyDelta(ctx context.Context, tx TxRepository, lot Lot, input CommitDeltaInput, now time.Time) (MovementEntry, Lot, error) {
	before := lot.AvailableKg
	after := before + input.DeltaKg
	if after < 0 {
		return MovementEntry{}, lot, fmt.Errorf("%w: lot %s balance %.2f kg, delta %.2f kg", ErrNegativeBalance, lot.LotCode, before, input.DeltaKg)
	}
	lot.AvailableKg = after
	if input.DeltaKg > 0 && lot.AvailableKg > lot.TotalKg {
		lot.TotalKg = lot.AvailableKg
	}
	lot.Status = statusForBalance(lot)
	if err := tx.UpdateLot(ctx, lot); err != nil {
		return MovementEntry{}, lot, err
	}
	entry := MovementEntry{
		ID:         uuid.NewString(),
		ActorID:    input.ActorID,
		Type:       input.Type,
		Stage:      lot.Stage,
		LotID:      lot.ID,
		BeforeKg:   before,
		DeltaKg:    input.DeltaKg,
		AfterKg:    after,
		Reason:     input.Reason,
		ProcessID:  input.ProcessID,
		OccurredAt: now,
	}
	if err := tx.InsertMovement(ctx, entry); err != nil {
		return MovementEntry{}, lot, err
	}
	lot.Version++
	return entry, lot, nil
}

// InitialMovement builds the journal row recording a freshly created lot.
func InitialMovement(lot Lot, movType MovementType, actorID, reason, processID string, now time.Time) MovementEntry {
	return MovementEntry{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		Type:       movType,
		Stage:      lot.Stage,
		LotID:      lot.ID,
		BeforeKg:   0,
		DeltaKg:    lot.TotalKg,
		AfterKg:    lot.TotalKg,
		Reason:     reason,
		ProcessID:  processID,
		OccurredAt: now,
	}
}

// CheckJournal verifies the arithmetic invariant over a lot's full history.
func CheckJournal(entries []MovementEntry) error {
	for _, e := range entries {
		if math.Abs(e.AfterKg-(e.BeforeKg+e.DeltaKg)) > 1e-9 {
			return fmt.Errorf("journal entry %s: after %.4f != before %.4f + delta %.4f", e.ID, e.AfterKg, e.BeforeKg, e.DeltaKg)
		}
		if e.AfterKg < 0 {
			return fmt.Errorf("journal entry %s: negative balance %.4f", e.ID, e.AfterKg)
		}
	}
	return nil
}

func statusForBalance(lot Lot) LotStatus {
	if lot.Status == LotExpired {
		return LotExpired
	}
	if lot.AvailableKg <= 0 {
		return LotDepleted
	}
	return LotAvailable
}
