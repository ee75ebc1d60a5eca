package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cafetrace/cafetrace/internal/ledger"
	"github.com/cafetrace/cafetrace/internal/shared"
)

// TxRepository embeds the ledger transaction surface so a transition's lot
// updates, journal rows and process record always commit as one unit.
type TxRepository interface {
	ledger.TxRepository
	InsertMillingProcess(ctx context.Context, proc MillingProcess) error
	InsertRoastingProcess(ctx context.Context, proc RoastingProcess) error
	GetRoastingProcessForUpdate(ctx context.Context, id string) (RoastingProcess, error)
	UpdateRoastingProcess(ctx context.Context, proc RoastingProcess) error
	InsertPackagingProcess(ctx context.Context, proc PackagingProcess) error
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMillingProcess(ctx context.Context, id string) (MillingProcess, error)
	GetRoastingProcess(ctx context.Context, id string) (RoastingProcess, error)
	GetPackagingProcess(ctx context.Context, id string) (PackagingProcess, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CompletionHandler receives transition events after commit.
type CompletionHandler interface {
	HandleStageCompleted(ctx context.Context, evt StageCompletedEvent) error
}

// Service is the gatekeeper for every stage boundary. No lot quantity moves
// across a stage except through one of its Commit methods.
type Service struct {
	repo        RepositoryPort
	validate    *validator.Validate
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	handler     CompletionHandler
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, handler CompletionHandler, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		validate:    validator.New(),
		audit:       audit,
		idempotency: idem,
		handler:     handler,
		logger:      logger,
	}
}

// MillingInput describes a Green -> Parchment transition.
type MillingInput struct {
	GreenLotID     string  `validate:"required"`
	OperatorID     string  `validate:"required"`
	InputKg        float64 `validate:"required,gt=0"`
	ParchmentKg    float64 `validate:"required,gt=0"`
	FirstGradeKg   float64 `validate:"gte=0"`
	SecondGradeKg  float64 `validate:"gte=0"`
	WasteKg        float64 `validate:"required,gt=0"`
	MoistureAfter  float64 `validate:"gte=0,lte=100"`
	LotCode        string  `validate:"omitempty,min=5,max=50"`
	Location       string
	Notes          string
	ExpiresAt      *time.Time
	IdempotencyKey string
}

// StartRoastingInput opens a roasting process over a parchment lot.
type StartRoastingInput struct {
	ParchmentLotID string  `validate:"required"`
	OperatorID     string  `validate:"required"`
	ProfileID      string
	InputKg        float64    `validate:"required,gt=0"`
	StartTempC     float64    `validate:"gte=0,lte=300"`
	TargetTempC    float64    `validate:"gte=0,lte=300"`
	EstimatedMin   int        `validate:"required,gte=5,lte=30"`
	InitialAirPct  int        `validate:"gte=0,lte=100"`
	TargetLevel    RoastLevel `validate:"required,oneof=LIGHT MEDIUM_LIGHT MEDIUM MEDIUM_DARK DARK"`
	Notes          string
}

// CompleteRoastingInput closes a roasting process with its measured results.
type CompleteRoastingInput struct {
	ProcessID      string     `validate:"required"`
	ActorID        string     `validate:"required"`
	DurationMin    int        `validate:"required,gte=1,lte=35"`
	FinalTempC     float64    `validate:"gte=0,lte=300"`
	FinalKg        float64    `validate:"required,gt=0"`
	AchievedLevel  RoastLevel `validate:"required,oneof=LIGHT MEDIUM_LIGHT MEDIUM MEDIUM_DARK DARK"`
	ExpiresAt      time.Time  `validate:"required"`
	AromaScore     int        `validate:"gte=0,lte=10"`
	AcidityScore   int        `validate:"gte=0,lte=10"`
	Balanced       bool
	LotCode        string `validate:"omitempty,min=5,max=50"`
	Location       string
	Notes          string
	IdempotencyKey string
}

// PackagingInput describes a Roasted -> Packaged transition.
type PackagingInput struct {
	RoastedLotID    string      `validate:"required"`
	OperatorID      string      `validate:"required"`
	PackageType     PackageType `validate:"required,oneof=VALVE_BAG PLAIN_BAG GLASS_JAR CAN OTHER"`
	UnitWeightGrams float64     `validate:"required,gte=50,lte=5000"`
	Units           int         `validate:"required,gte=1,lte=10000"`
	TotalKg         float64     `validate:"required,gt=0"`
	ProductName     string      `validate:"required,min=2"`
	Barcode         string
	PackagedAt      time.Time `validate:"required"`
	ExpiresAt       time.Time `validate:"required"`
	LotCode         string    `validate:"omitempty,min=5,max=50"`
	Location        string
	Notes           string
	IdempotencyKey  string
}

// CommitMilling validates and atomically applies a milling transition:
// it consumes the green lot, creates the graded parchment lot, records the
// process as COMPLETED and appends one journal row per lot touched. Any
// violation rejects the whole transition.
func (s *Service) CommitMilling(ctx context.Context, input MillingInput) (MillingProcess, error) {
	if err := s.validate.Struct(input); err != nil {
		return MillingProcess{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := Conservation(input.InputKg, []float64{input.ParchmentKg, input.WasteKg}, MillingToleranceKg); err != nil {
		return MillingProcess{}, err
	}
	if err := Conservation(input.ParchmentKg, []float64{input.FirstGradeKg, input.SecondGradeKg}, MillingToleranceKg); err != nil {
		return MillingProcess{}, err
	}
	if err := WasteInRange(input.InputKg, input.WasteKg); err != nil {
		return MillingProcess{}, err
	}
	release, err := s.beginIdempotent(ctx, input.IdempotencyKey, "stage:milling")
	if err != nil {
		return MillingProcess{}, err
	}

	now := time.Now()
	proc := MillingProcess{
		ID:            uuid.NewString(),
		InputLotID:    input.GreenLotID,
		OperatorID:    input.OperatorID,
		InputKg:       input.InputKg,
		ParchmentKg:   input.ParchmentKg,
		FirstGradeKg:  input.FirstGradeKg,
		SecondGradeKg: input.SecondGradeKg,
		WasteKg:       input.WasteKg,
		MoistureAfter: input.MoistureAfter,
		Status:        ProcessCompleted,
		ProcessedAt:   now,
		Notes:         input.Notes,
	}
	var output ledger.Lot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		green, err := tx.GetLotForUpdate(ctx, ledger.StageGreen, input.GreenLotID)
		if err != nil {
			return err
		}
		if green.AvailableKg < input.InputKg {
			return fmt.Errorf("%w: green lot %s has %.2f kg, need %.2f kg", ledger.ErrInsufficientStock, green.LotCode, green.AvailableKg, input.InputKg)
		}
		if _, _, err := ledger.ApplyDelta(ctx, tx, green, ledger.CommitDeltaInput{
			Stage:     ledger.StageGreen,
			LotID:     green.ID,
			DeltaKg:   -input.InputKg,
			Type:      ledger.MovementOutbound,
			ActorID:   input.OperatorID,
			Reason:    "milling consumption",
			ProcessID: proc.ID,
		}, now); err != nil {
			return err
		}
		output = ledger.Lot{
			ID:             uuid.NewString(),
			LotCode:        lotCodeOr(input.LotCode, "PRG"),
			Stage:          ledger.StageParchment,
			TotalKg:        input.ParchmentKg,
			AvailableKg:    input.ParchmentKg,
			Status:         ledger.LotAvailable,
			ProcessID:      proc.ID,
			Location:       input.Location,
			Classification: ledger.ClassParchment,
			CreatedAt:      now,
			ExpiresAt:      input.ExpiresAt,
		}
		if err := tx.InsertLot(ctx, output); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, ledger.InitialMovement(output, ledger.MovementInbound, input.OperatorID, "milling output", proc.ID, now)); err != nil {
			return err
		}
		proc.OutputLotID = output.ID
		return tx.InsertMillingProcess(ctx, proc)
	})
	if err != nil {
		release()
		return MillingProcess{}, err
	}
	s.afterCommit(ctx, "stage:milling", proc.ID, input.OperatorID, StageCompletedEvent{
		Stage:       ledger.StageParchment,
		ProcessID:   proc.ID,
		InputLotID:  input.GreenLotID,
		OutputLotID: output.ID,
		ConsumedKg:  input.InputKg,
		ProducedKg:  input.ParchmentKg,
		OperatorID:  input.OperatorID,
		CompletedAt: now,
	})
	return proc, nil
}

// StartRoasting opens an IN_PROGRESS roasting process and reserves the
// parchment lot. The quantity is deducted when the roast completes.
func (s *Service) StartRoasting(ctx context.Context, input StartRoastingInput) (RoastingProcess, error) {
	if err := s.validate.Struct(input); err != nil {
		return RoastingProcess{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.TargetTempC <= input.StartTempC {
		return RoastingProcess{}, fmt.Errorf("%w: target temperature %.0f must exceed start temperature %.0f", ErrValidation, input.TargetTempC, input.StartTempC)
	}
	proc := RoastingProcess{
		ID:            uuid.NewString(),
		InputLotID:    input.ParchmentLotID,
		OperatorID:    input.OperatorID,
		ProfileID:     input.ProfileID,
		InputKg:       input.InputKg,
		StartTempC:    input.StartTempC,
		TargetTempC:   input.TargetTempC,
		EstimatedMin:  input.EstimatedMin,
		InitialAirPct: input.InitialAirPct,
		TargetLevel:   input.TargetLevel,
		Status:        ProcessInProgress,
		ProcessedAt:   time.Now(),
		Notes:         input.Notes,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.GetLotForUpdate(ctx, ledger.StageParchment, input.ParchmentLotID)
		if err != nil {
			return err
		}
		if lot.AvailableKg < input.InputKg {
			return fmt.Errorf("%w: parchment lot %s has %.2f kg, need %.2f kg", ledger.ErrInsufficientStock, lot.LotCode, lot.AvailableKg, input.InputKg)
		}
		lot.Status = ledger.LotInProcess
		if err := tx.UpdateLot(ctx, lot); err != nil {
			return err
		}
		return tx.InsertRoastingProcess(ctx, proc)
	})
	if err != nil {
		return RoastingProcess{}, err
	}
	s.recordAudit(ctx, "stage:roasting_start", proc.ID, input.OperatorID, map[string]any{"lot_id": input.ParchmentLotID, "input_kg": input.InputKg})
	return proc, nil
}

// CommitRoasting closes an in-progress roast: consumes the parchment lot and
// creates the roasted lot with a mandatory expiry date.
func (s *Service) CommitRoasting(ctx context.Context, input CompleteRoastingInput) (RoastingProcess, error) {
	if err := s.validate.Struct(input); err != nil {
		return RoastingProcess{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	release, err := s.beginIdempotent(ctx, input.IdempotencyKey, "stage:roasting")
	if err != nil {
		return RoastingProcess{}, err
	}

	now := time.Now()
	var proc RoastingProcess
	var output ledger.Lot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		proc, err = tx.GetRoastingProcessForUpdate(ctx, input.ProcessID)
		if err != nil {
			return err
		}
		if proc.Status != ProcessInProgress {
			return fmt.Errorf("%w: roasting process %s is %s", ErrProcessState, proc.ID, proc.Status)
		}
		if input.FinalKg >= proc.InputKg {
			return fmt.Errorf("%w: final weight %.2f kg not below input %.2f kg", ErrConservation, input.FinalKg, proc.InputKg)
		}
		if !input.ExpiresAt.After(now) {
			return fmt.Errorf("%w: expiry date must be in the future", ErrValidation)
		}
		lot, err := tx.GetLotForUpdate(ctx, ledger.StageParchment, proc.InputLotID)
		if err != nil {
			return err
		}
		if lot.AvailableKg < proc.InputKg {
			return fmt.Errorf("%w: parchment lot %s has %.2f kg, need %.2f kg", ledger.ErrInsufficientStock, lot.LotCode, lot.AvailableKg, proc.InputKg)
		}
		if _, _, err := ledger.ApplyDelta(ctx, tx, lot, ledger.CommitDeltaInput{
			Stage:     ledger.StageParchment,
			LotID:     lot.ID,
			DeltaKg:   -proc.InputKg,
			Type:      ledger.MovementOutbound,
			ActorID:   input.ActorID,
			Reason:    "roasting consumption",
			ProcessID: proc.ID,
		}, now); err != nil {
			return err
		}
		expires := input.ExpiresAt
		output = ledger.Lot{
			ID:          uuid.NewString(),
			LotCode:     lotCodeOr(input.LotCode, "RST"),
			Stage:       ledger.StageRoasted,
			TotalKg:     input.FinalKg,
			AvailableKg: input.FinalKg,
			Status:      ledger.LotAvailable,
			ProcessID:   proc.ID,
			Location:    input.Location,
			RoastLevel:  string(input.AchievedLevel),
			CreatedAt:   now,
			ExpiresAt:   &expires,
		}
		if err := tx.InsertLot(ctx, output); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, ledger.InitialMovement(output, ledger.MovementInbound, input.ActorID, "roasting output", proc.ID, now)); err != nil {
			return err
		}
		proc.DurationMin = input.DurationMin
		proc.FinalTempC = input.FinalTempC
		proc.FinalKg = input.FinalKg
		proc.AchievedLevel = input.AchievedLevel
		proc.AromaScore = input.AromaScore
		proc.AcidityScore = input.AcidityScore
		proc.Balanced = input.Balanced
		proc.OutputLotID = output.ID
		proc.Status = ProcessCompleted
		return tx.UpdateRoastingProcess(ctx, proc)
	})
	if err != nil {
		release()
		return RoastingProcess{}, err
	}
	s.afterCommit(ctx, "stage:roasting", proc.ID, input.ActorID, StageCompletedEvent{
		Stage:       ledger.StageRoasted,
		ProcessID:   proc.ID,
		InputLotID:  proc.InputLotID,
		OutputLotID: output.ID,
		ConsumedKg:  proc.InputKg,
		ProducedKg:  input.FinalKg,
		OperatorID:  input.ActorID,
		CompletedAt: now,
	})
	return proc, nil
}

// CancelRoasting aborts an in-progress roast and releases the reserved
// parchment lot. Completed processes are append-only history and cannot be
// cancelled.
func (s *Service) CancelRoasting(ctx context.Context, processID, actorID string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		proc, err := tx.GetRoastingProcessForUpdate(ctx, processID)
		if err != nil {
			return err
		}
		switch proc.Status {
		case ProcessCancelled:
			return nil
		case ProcessCompleted:
			return fmt.Errorf("%w: completed process %s cannot be cancelled", ErrProcessState, processID)
		}
		lot, err := tx.GetLotForUpdate(ctx, ledger.StageParchment, proc.InputLotID)
		if err != nil {
			return err
		}
		if lot.Status == ledger.LotInProcess {
			if lot.AvailableKg > 0 {
				lot.Status = ledger.LotAvailable
			} else {
				lot.Status = ledger.LotDepleted
			}
			if err := tx.UpdateLot(ctx, lot); err != nil {
				return err
			}
		}
		proc.Status = ProcessCancelled
		return tx.UpdateRoastingProcess(ctx, proc)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "stage:roasting_cancel", processID, actorID, nil)
	return nil
}

// CommitPackaging validates and atomically applies a packaging transition.
// Unit math must hold exactly: units x unit weight equals the packaged total
// within 0.01 kg.
func (s *Service) CommitPackaging(ctx context.Context, input PackagingInput) (PackagingProcess, error) {
	if err := s.validate.Struct(input); err != nil {
		return PackagingProcess{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := UnitMath(input.Units, input.UnitWeightGrams, input.TotalKg); err != nil {
		return PackagingProcess{}, err
	}
	if !input.ExpiresAt.After(input.PackagedAt) {
		return PackagingProcess{}, fmt.Errorf("%w: expiry date must follow packaging date", ErrValidation)
	}
	release, err := s.beginIdempotent(ctx, input.IdempotencyKey, "stage:packaging")
	if err != nil {
		return PackagingProcess{}, err
	}

	now := time.Now()
	proc := PackagingProcess{
		ID:              uuid.NewString(),
		InputLotID:      input.RoastedLotID,
		OperatorID:      input.OperatorID,
		PackageType:     input.PackageType,
		UnitWeightGrams: input.UnitWeightGrams,
		Units:           input.Units,
		TotalKg:         input.TotalKg,
		ProductName:     input.ProductName,
		Barcode:         input.Barcode,
		Status:          ProcessCompleted,
		PackagedAt:      input.PackagedAt,
		ExpiresAt:       input.ExpiresAt,
		Notes:           input.Notes,
	}
	var output ledger.Lot
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		roasted, err := tx.GetLotForUpdate(ctx, ledger.StageRoasted, input.RoastedLotID)
		if err != nil {
			return err
		}
		if roasted.AvailableKg < input.TotalKg {
			return fmt.Errorf("%w: roasted lot %s has %.2f kg, need %.2f kg", ledger.ErrInsufficientStock, roasted.LotCode, roasted.AvailableKg, input.TotalKg)
		}
		if _, _, err := ledger.ApplyDelta(ctx, tx, roasted, ledger.CommitDeltaInput{
			Stage:     ledger.StageRoasted,
			LotID:     roasted.ID,
			DeltaKg:   -input.TotalKg,
			Type:      ledger.MovementOutbound,
			ActorID:   input.OperatorID,
			Reason:    "packaging consumption",
			ProcessID: proc.ID,
		}, now); err != nil {
			return err
		}
		expires := input.ExpiresAt
		output = ledger.Lot{
			ID:          uuid.NewString(),
			LotCode:     lotCodeOr(input.LotCode, "PKG"),
			Stage:       ledger.StagePackaged,
			TotalKg:     input.TotalKg,
			AvailableKg: input.TotalKg,
			Status:      ledger.LotAvailable,
			ProcessID:   proc.ID,
			Location:    input.Location,
			Units:       input.Units,
			CreatedAt:   now,
			ExpiresAt:   &expires,
		}
		if err := tx.InsertLot(ctx, output); err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, ledger.InitialMovement(output, ledger.MovementInbound, input.OperatorID, "packaging output", proc.ID, now)); err != nil {
			return err
		}
		proc.OutputLotID = output.ID
		return tx.InsertPackagingProcess(ctx, proc)
	})
	if err != nil {
		release()
		return PackagingProcess{}, err
	}
	s.afterCommit(ctx, "stage:packaging", proc.ID, input.OperatorID, StageCompletedEvent{
		Stage:       ledger.StagePackaged,
		ProcessID:   proc.ID,
		InputLotID:  input.RoastedLotID,
		OutputLotID: output.ID,
		ConsumedKg:  input.TotalKg,
		ProducedKg:  input.TotalKg,
		OperatorID:  input.OperatorID,
		CompletedAt: now,
	})
	return proc, nil
}

// GetRoastingProcess returns a roasting process by id.
func (s *Service) GetRoastingProcess(ctx context.Context, id string) (RoastingProcess, error) {
	return s.repo.GetRoastingProcess(ctx, id)
}

func (s *Service) beginIdempotent(ctx context.Context, key, scope string) (func(), error) {
	if key == "" || s.idempotency == nil {
		return func() {}, nil
	}
	if err := s.idempotency.Begin(ctx, key, scope); err != nil {
		return nil, err
	}
	return func() { _ = s.idempotency.Release(ctx, key) }, nil
}

func (s *Service) afterCommit(ctx context.Context, action, processID, actorID string, evt StageCompletedEvent) {
	s.recordAudit(ctx, action, processID, actorID, map[string]any{
		"input_lot":   evt.InputLotID,
		"output_lot":  evt.OutputLotID,
		"consumed_kg": evt.ConsumedKg,
		"produced_kg": evt.ProducedKg,
	})
	if s.handler != nil {
		if err := s.handler.HandleStageCompleted(ctx, evt); err != nil && s.logger != nil {
			s.logger.Warn("stage completion handler", slog.String("process_id", processID), slog.Any("error", err))
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, action, entityID, actorID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stage_process",
		EntityID: entityID,
		Meta:     meta,
	})
}

func lotCodeOr(code, prefix string) string {
	if code != "" {
		return code
	}
	return shared.GenerateLotCode(prefix)
}
