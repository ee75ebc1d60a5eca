package stage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cafetrace/cafetrace/internal/ledger"
)

type memoryRepo struct {
	lots         map[string]ledger.Lot
	movements    []ledger.MovementEntry
	milling      map[string]MillingProcess
	roasting     map[string]RoastingProcess
	packaging    map[string]PackagingProcess
	conflictOnce bool
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		lots:      make(map[string]ledger.Lot),
		milling:   make(map[string]MillingProcess),
		roasting:  make(map[string]RoastingProcess),
		packaging: make(map[string]PackagingProcess),
	}
}

func (r *memoryRepo) addLot(lot ledger.Lot) ledger.Lot {
	if lot.ID == "" {
		lot.ID = uuid.NewString()
	}
	if lot.Status == "" {
		lot.Status = ledger.LotAvailable
	}
	r.lots[lot.ID] = lot
	return lot
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	lots := make(map[string]ledger.Lot, len(r.lots))
	for k, v := range r.lots {
		lots[k] = v
	}
	movs := len(r.movements)
	milling := make(map[string]MillingProcess, len(r.milling))
	for k, v := range r.milling {
		milling[k] = v
	}
	roasting := make(map[string]RoastingProcess, len(r.roasting))
	for k, v := range r.roasting {
		roasting[k] = v
	}
	packaging := make(map[string]PackagingProcess, len(r.packaging))
	for k, v := range r.packaging {
		packaging[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.lots = lots
		r.movements = r.movements[:movs]
		r.milling = milling
		r.roasting = roasting
		r.packaging = packaging
		return err
	}
	return nil
}

func (r *memoryRepo) GetMillingProcess(ctx context.Context, id string) (MillingProcess, error) {
	p, ok := r.milling[id]
	if !ok {
		return MillingProcess{}, ErrProcessNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetRoastingProcess(ctx context.Context, id string) (RoastingProcess, error) {
	p, ok := r.roasting[id]
	if !ok {
		return RoastingProcess{}, ErrProcessNotFound
	}
	return p, nil
}

func (r *memoryRepo) GetPackagingProcess(ctx context.Context, id string) (PackagingProcess, error) {
	p, ok := r.packaging[id]
	if !ok {
		return PackagingProcess{}, ErrProcessNotFound
	}
	return p, nil
}

func (tx *memoryTx) GetLotForUpdate(ctx context.Context, stage ledger.StageKind, lotID string) (ledger.Lot, error) {
	lot, ok := tx.repo.lots[lotID]
	if !ok || lot.Stage != stage {
		return ledger.Lot{}, ledger.ErrLotNotFound
	}
	return lot, nil
}

func (tx *memoryTx) UpdateLot(ctx context.Context, lot ledger.Lot) error {
	if tx.repo.conflictOnce {
		tx.repo.conflictOnce = false
		return ledger.ErrConcurrentModification
	}
	current, ok := tx.repo.lots[lot.ID]
	if !ok {
		return ledger.ErrLotNotFound
	}
	if current.Version != lot.Version {
		return ledger.ErrConcurrentModification
	}
	lot.Version++
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

func (tx *memoryTx) InsertMillingProcess(ctx context.Context, proc MillingProcess) error {
	tx.repo.milling[proc.ID] = proc
	return nil
}

func (tx *memoryTx) InsertRoastingProcess(ctx context.Context, proc RoastingProcess) error {
	tx.repo.roasting[proc.ID] = proc
	return nil
}

func (tx *memoryTx) GetRoastingProcessForUpdate(ctx context.Context, id string) (RoastingProcess, error) {
	return tx.repo.GetRoastingProcess(ctx, id)
}

func (tx *memoryTx) UpdateRoastingProcess(ctx context.Context, proc RoastingProcess) error {
	tx.repo.roasting[proc.ID] = proc
	return nil
}

func (tx *memoryTx) InsertPackagingProcess(ctx context.Context, proc PackagingProcess) error {
	tx.repo.packaging[proc.ID] = proc
	return nil
}

func (r *memoryRepo) lotByStage(stage ledger.StageKind) (ledger.Lot, bool) {
	for _, lot := range r.lots {
		if lot.Stage == stage {
			return lot, true
		}
	}
	return ledger.Lot{}, false
}

func millingFixture(repo *memoryRepo) (ledger.Lot, MillingInput) {
	green := repo.addLot(ledger.Lot{Stage: ledger.StageGreen, LotCode: "GRN-FIX-1", TotalKg: 100, AvailableKg: 100, CreatedAt: time.Now()})
	return green, MillingInput{
		GreenLotID:    green.ID,
		OperatorID:    "op-1",
		InputKg:       100,
		ParchmentKg:   82,
		FirstGradeKg:  78,
		SecondGradeKg: 4,
		WasteKg:       18,
	}
}

func TestCommitMilling(t *testing.T) {
	repo := newMemoryRepo()
	green, input := millingFixture(repo)
	svc := NewService(repo, nil, nil, nil, nil)

	proc, err := svc.CommitMilling(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, ProcessCompleted, proc.Status)
	require.InDelta(t, 18.0, proc.WastePercent(), 0.01)

	require.InDelta(t, 0.0, repo.lots[green.ID].AvailableKg, 1e-9)
	require.Equal(t, ledger.LotDepleted, repo.lots[green.ID].Status)

	parchment, ok := repo.lotByStage(ledger.StageParchment)
	require.True(t, ok)
	require.InDelta(t, 82.0, parchment.AvailableKg, 1e-9)
	require.InDelta(t, 82.0, parchment.TotalKg, 1e-9)
	require.Equal(t, proc.ID, parchment.ProcessID)
	require.Equal(t, ledger.ClassParchment, parchment.Classification)

	require.Len(t, repo.movements, 2)
	require.Equal(t, ledger.MovementOutbound, repo.movements[0].Type)
	require.Equal(t, green.ID, repo.movements[0].LotID)
	require.Equal(t, ledger.MovementInbound, repo.movements[1].Type)
	require.Equal(t, parchment.ID, repo.movements[1].LotID)
	require.Equal(t, proc.ID, repo.movements[0].ProcessID)
	require.NoError(t, ledger.CheckJournal(repo.movements))
}

func TestCommitMillingConservationViolation(t *testing.T) {
	repo := newMemoryRepo()
	green, input := millingFixture(repo)
	input.ParchmentKg = 70
	input.FirstGradeKg = 66
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.CommitMilling(context.Background(), input)
	require.ErrorIs(t, err, ErrConservation)

	require.InDelta(t, 100.0, repo.lots[green.ID].AvailableKg, 1e-9)
	require.Empty(t, repo.movements)
	require.Empty(t, repo.milling)
	_, ok := repo.lotByStage(ledger.StageParchment)
	require.False(t, ok)
}

func TestCommitMillingGradeSplitViolation(t *testing.T) {
	repo := newMemoryRepo()
	_, input := millingFixture(repo)
	input.FirstGradeKg = 70
	input.SecondGradeKg = 4
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.CommitMilling(context.Background(), input)
	require.ErrorIs(t, err, ErrConservation)
}

func TestCommitMillingWasteRange(t *testing.T) {
	repo := newMemoryRepo()
	_, input := millingFixture(repo)
	input.ParchmentKg = 98
	input.FirstGradeKg = 94
	input.WasteKg = 2
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.CommitMilling(context.Background(), input)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCommitMillingInsufficientStock(t *testing.T) {
	repo := newMemoryRepo()
	green := repo.addLot(ledger.Lot{Stage: ledger.StageGreen, LotCode: "GRN-FIX-2", TotalKg: 50, AvailableKg: 50, CreatedAt: time.Now()})
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.CommitMilling(context.Background(), MillingInput{
		GreenLotID: green.ID, OperatorID: "op-1",
		InputKg: 100, ParchmentKg: 82, FirstGradeKg: 78, SecondGradeKg: 4, WasteKg: 18,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.Empty(t, repo.movements)
}

func TestConcurrentMillingOverconsumption(t *testing.T) {
	repo := newMemoryRepo()
	green := repo.addLot(ledger.Lot{Stage: ledger.StageGreen, LotCode: "GRN-RACE-1", TotalKg: 100, AvailableKg: 100, CreatedAt: time.Now()})
	svc := NewService(repo, nil, nil, nil, nil)
	input := MillingInput{
		GreenLotID: green.ID, OperatorID: "op-1",
		InputKg: 60, ParchmentKg: 49, FirstGradeKg: 46, SecondGradeKg: 3, WasteKg: 11,
	}

	_, err := svc.CommitMilling(context.Background(), input)
	require.NoError(t, err)

	_, err = svc.CommitMilling(context.Background(), input)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.InDelta(t, 40.0, repo.lots[green.ID].AvailableKg, 1e-9)
}

func TestCommitMillingVersionConflict(t *testing.T) {
	repo := newMemoryRepo()
	_, input := millingFixture(repo)
	repo.conflictOnce = true
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.CommitMilling(context.Background(), input)
	require.ErrorIs(t, err, ledger.ErrConcurrentModification)
	require.Empty(t, repo.movements)

	// Caller retries with fresh balances.
	_, err = svc.CommitMilling(context.Background(), input)
	require.NoError(t, err)
}

func TestRoastingLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	parchment := repo.addLot(ledger.Lot{Stage: ledger.StageParchment, LotCode: "PRG-FIX-1", TotalKg: 82, AvailableKg: 82, CreatedAt: time.Now()})
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	proc, err := svc.StartRoasting(ctx, StartRoastingInput{
		ParchmentLotID: parchment.ID,
		OperatorID:     "op-2",
		InputKg:        20,
		StartTempC:     165,
		TargetTempC:    210,
		EstimatedMin:   14,
		InitialAirPct:  70,
		TargetLevel:    RoastMedium,
	})
	require.NoError(t, err)
	require.Equal(t, ProcessInProgress, proc.Status)
	require.Equal(t, ledger.LotInProcess, repo.lots[parchment.ID].Status)

	done, err := svc.CommitRoasting(ctx, CompleteRoastingInput{
		ProcessID:     proc.ID,
		ActorID:       "op-2",
		DurationMin:   13,
		FinalTempC:    208,
		FinalKg:       16.6,
		AchievedLevel: RoastMedium,
		ExpiresAt:     time.Now().Add(180 * 24 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, ProcessCompleted, done.Status)
	require.InDelta(t, 17.0, done.WastePercent(), 0.5)

	require.InDelta(t, 62.0, repo.lots[parchment.ID].AvailableKg, 1e-9)
	roasted := repo.lots[done.OutputLotID]
	require.InDelta(t, 16.6, roasted.AvailableKg, 1e-9)
	require.NotNil(t, roasted.ExpiresAt)
	require.Equal(t, string(RoastMedium), roasted.RoastLevel)
	require.NoError(t, ledger.CheckJournal(repo.movements))

	// Completed processes are history: no cancellation, no double completion.
	require.ErrorIs(t, svc.CancelRoasting(ctx, proc.ID, "op-2"), ErrProcessState)
	_, err = svc.CommitRoasting(ctx, CompleteRoastingInput{
		ProcessID: proc.ID, ActorID: "op-2", DurationMin: 13, FinalTempC: 208,
		FinalKg: 16.6, AchievedLevel: RoastMedium, ExpiresAt: time.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, ErrProcessState)
}

func TestCommitRoastingWeightGain(t *testing.T) {
	repo := newMemoryRepo()
	parchment := repo.addLot(ledger.Lot{Stage: ledger.StageParchment, LotCode: "PRG-FIX-2", TotalKg: 30, AvailableKg: 30, CreatedAt: time.Now()})
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	proc, err := svc.StartRoasting(ctx, StartRoastingInput{
		ParchmentLotID: parchment.ID, OperatorID: "op-2", InputKg: 20,
		StartTempC: 160, TargetTempC: 196, EstimatedMin: 12, InitialAirPct: 75, TargetLevel: RoastLight,
	})
	require.NoError(t, err)

	_, err = svc.CommitRoasting(ctx, CompleteRoastingInput{
		ProcessID: proc.ID, ActorID: "op-2", DurationMin: 12, FinalTempC: 196,
		FinalKg: 21, AchievedLevel: RoastLight, ExpiresAt: time.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, ErrConservation)
}

func TestCancelRoastingReleasesLot(t *testing.T) {
	repo := newMemoryRepo()
	parchment := repo.addLot(ledger.Lot{Stage: ledger.StageParchment, LotCode: "PRG-FIX-3", TotalKg: 30, AvailableKg: 30, CreatedAt: time.Now()})
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	proc, err := svc.StartRoasting(ctx, StartRoastingInput{
		ParchmentLotID: parchment.ID, OperatorID: "op-2", InputKg: 20,
		StartTempC: 160, TargetTempC: 196, EstimatedMin: 12, InitialAirPct: 75, TargetLevel: RoastLight,
	})
	require.NoError(t, err)
	require.Equal(t, ledger.LotInProcess, repo.lots[parchment.ID].Status)

	require.NoError(t, svc.CancelRoasting(ctx, proc.ID, "op-2"))
	require.Equal(t, ledger.LotAvailable, repo.lots[parchment.ID].Status)
	require.Equal(t, ProcessCancelled, repo.roasting[proc.ID].Status)
	require.Empty(t, repo.movements)
}

func TestCommitPackaging(t *testing.T) {
	repo := newMemoryRepo()
	roasted := repo.addLot(ledger.Lot{Stage: ledger.StageRoasted, LotCode: "RST-FIX-1", TotalKg: 16.6, AvailableKg: 16.6, CreatedAt: time.Now()})
	svc := NewService(repo, nil, nil, nil, nil)
	packagedAt := time.Now()

	proc, err := svc.CommitPackaging(context.Background(), PackagingInput{
		RoastedLotID:    roasted.ID,
		OperatorID:      "op-3",
		PackageType:     PackageValveBag,
		UnitWeightGrams: 250,
		Units:           64,
		TotalKg:         16,
		ProductName:     "Huila Single Origin",
		PackagedAt:      packagedAt,
		ExpiresAt:       packagedAt.Add(365 * 24 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, ProcessCompleted, proc.Status)

	require.InDelta(t, 0.6, repo.lots[roasted.ID].AvailableKg, 1e-9)
	packaged := repo.lots[proc.OutputLotID]
	require.InDelta(t, 16.0, packaged.AvailableKg, 1e-9)
	require.Equal(t, 64, packaged.Units)
	require.NoError(t, ledger.CheckJournal(repo.movements))
}

func TestCommitPackagingUnitMathMismatch(t *testing.T) {
	repo := newMemoryRepo()
	roasted := repo.addLot(ledger.Lot{Stage: ledger.StageRoasted, LotCode: "RST-FIX-2", TotalKg: 20, AvailableKg: 20, CreatedAt: time.Now()})
	svc := NewService(repo, nil, nil, nil, nil)
	packagedAt := time.Now()

	_, err := svc.CommitPackaging(context.Background(), PackagingInput{
		RoastedLotID:    roasted.ID,
		OperatorID:      "op-3",
		PackageType:     PackagePlainBag,
		UnitWeightGrams: 250,
		Units:           64,
		TotalKg:         17,
		ProductName:     "Huila Single Origin",
		PackagedAt:      packagedAt,
		ExpiresAt:       packagedAt.Add(time.Hour),
	})
	require.ErrorIs(t, err, ErrConservation)
	require.Empty(t, repo.movements)
}

func TestCommitPackagingExpiryBeforePackaging(t *testing.T) {
	repo := newMemoryRepo()
	roasted := repo.addLot(ledger.Lot{Stage: ledger.StageRoasted, LotCode: "RST-FIX-3", TotalKg: 20, AvailableKg: 20, CreatedAt: time.Now()})
	svc := NewService(repo, nil, nil, nil, nil)
	packagedAt := time.Now()

	_, err := svc.CommitPackaging(context.Background(), PackagingInput{
		RoastedLotID:    roasted.ID,
		OperatorID:      "op-3",
		PackageType:     PackageCan,
		UnitWeightGrams: 500,
		Units:           32,
		TotalKg:         16,
		ProductName:     "Huila Single Origin",
		PackagedAt:      packagedAt,
		ExpiresAt:       packagedAt.Add(-time.Hour),
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestStartRoastingTemperatureOrder(t *testing.T) {
	repo := newMemoryRepo()
	parchment := repo.addLot(ledger.Lot{Stage: ledger.StageParchment, LotCode: "PRG-FIX-4", TotalKg: 30, AvailableKg: 30, CreatedAt: time.Now()})
	svc := NewService(repo, nil, nil, nil, nil)

	_, err := svc.StartRoasting(context.Background(), StartRoastingInput{
		ParchmentLotID: parchment.ID, OperatorID: "op-2", InputKg: 20,
		StartTempC: 200, TargetTempC: 180, EstimatedMin: 12, InitialAirPct: 75, TargetLevel: RoastLight,
	})
	require.ErrorIs(t, err, ErrValidation)
}
