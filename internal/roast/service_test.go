package roast

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	states      map[string]ProcessState
	profiles    map[string]Profile
	samples     map[string][]Sample
	events      map[string][]Event
	adjustments map[string][]Adjustment
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		states:      make(map[string]ProcessState),
		profiles:    make(map[string]Profile),
		samples:     make(map[string][]Sample),
		events:      make(map[string][]Event),
		adjustments: make(map[string][]Adjustment),
	}
}

func (r *memoryRepo) GetProcessState(ctx context.Context, processID string) (ProcessState, error) {
	state, ok := r.states[processID]
	if !ok {
		return ProcessState{}, ErrProcessNotFound
	}
	return state, nil
}

func (r *memoryRepo) InsertProfile(ctx context.Context, p Profile) error {
	r.profiles[p.ID] = p
	return nil
}

func (r *memoryRepo) GetProfile(ctx context.Context, id string) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (r *memoryRepo) InsertSample(ctx context.Context, s Sample) error {
	r.samples[s.ProcessID] = append(r.samples[s.ProcessID], s)
	return nil
}

func (r *memoryRepo) LastSample(ctx context.Context, processID string) (Sample, bool, error) {
	samples := r.samples[processID]
	if len(samples) == 0 {
		return Sample{}, false, nil
	}
	return samples[len(samples)-1], true, nil
}

func (r *memoryRepo) ListSamples(ctx context.Context, processID string) ([]Sample, error) {
	return r.samples[processID], nil
}

func (r *memoryRepo) InsertEvent(ctx context.Context, e Event) error {
	r.events[e.ProcessID] = append(r.events[e.ProcessID], e)
	return nil
}

func (r *memoryRepo) ListEvents(ctx context.Context, processID string) ([]Event, error) {
	return r.events[processID], nil
}

func (r *memoryRepo) InsertAdjustment(ctx context.Context, a Adjustment) error {
	r.adjustments[a.ProcessID] = append(r.adjustments[a.ProcessID], a)
	return nil
}

func (r *memoryRepo) ListAdjustments(ctx context.Context, processID string) ([]Adjustment, error) {
	return r.adjustments[processID], nil
}

func openProcess(repo *memoryRepo) string {
	id := uuid.NewString()
	repo.states[id] = ProcessState{ID: id, Status: "IN_PROGRESS"}
	return id
}

func TestAppendSampleDerivesRateOfRise(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	processID := openProcess(repo)

	readings := []struct {
		min   float64
		tempC float64
		ror   float64
	}{
		{0, 165, 0},
		{1, 172, 7},
		{2, 180, 8},
	}
	for _, rd := range readings {
		sample, err := svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: rd.min, TempC: rd.tempC})
		require.NoError(t, err)
		require.InDelta(t, rd.ror, sample.RoRCPerMin, 1e-9)
	}

	curve, err := svc.Curve(ctx, processID)
	require.NoError(t, err)
	require.Len(t, curve, 3)
	require.Equal(t, 3, curve[2].Seq)
}

func TestAppendSampleOutOfOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	processID := openProcess(repo)

	_, err := svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: 2, TempC: 180})
	require.NoError(t, err)
	_, err = svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: 2, TempC: 181})
	require.ErrorIs(t, err, ErrOutOfOrderSample)
	_, err = svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: 1.5, TempC: 181})
	require.ErrorIs(t, err, ErrOutOfOrderSample)
}

func TestAppendSampleClosedProcess(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	id := uuid.NewString()
	repo.states[id] = ProcessState{ID: id, Status: "COMPLETED"}
	_, err := svc.AppendSample(ctx, SampleInput{ProcessID: id, ElapsedMin: 1, TempC: 170})
	require.ErrorIs(t, err, ErrProcessClosed)

	_, err = svc.AppendSample(ctx, SampleInput{ProcessID: uuid.NewString(), ElapsedMin: 1, TempC: 170})
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestRecordEventOrdering(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	processID := openProcess(repo)

	_, err := svc.RecordEvent(ctx, EventInput{ProcessID: processID, Type: EventFirstCrackStart, ElapsedMin: 8.5, TempC: 196, OperatorID: "op-1"})
	require.NoError(t, err)
	_, err = svc.RecordEvent(ctx, EventInput{ProcessID: processID, Type: EventFirstCrackEnd, ElapsedMin: 10, TempC: 202, OperatorID: "op-1"})
	require.NoError(t, err)

	// Already past first crack, cannot record its start again.
	_, err = svc.RecordEvent(ctx, EventInput{ProcessID: processID, Type: EventFirstCrackStart, ElapsedMin: 11, TempC: 204, OperatorID: "op-1"})
	require.ErrorIs(t, err, ErrEventOrder)

	// Second crack cannot begin before first crack ended.
	_, err = svc.RecordEvent(ctx, EventInput{ProcessID: processID, Type: EventSecondCrackStart, ElapsedMin: 9, TempC: 200, OperatorID: "op-1"})
	require.ErrorIs(t, err, ErrEventOrder)

	_, err = svc.RecordEvent(ctx, EventInput{ProcessID: processID, Type: EventDrop, ElapsedMin: 12.5, TempC: 212, OperatorID: "op-1"})
	require.NoError(t, err)
}

func TestCreateProfileValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	base := ProfileInput{
		Name:                "City Roast",
		TargetLevel:         "MEDIUM",
		StartTempC:          160,
		TargetTempC:         212,
		TotalMin:            13,
		FirstCrackStartMin:  8,
		FirstCrackEndMin:    10,
		SecondCrackStartMin: 11.5,
		CreatedBy:           "roaster-1",
	}
	profile, err := svc.CreateProfile(ctx, base)
	require.NoError(t, err)
	require.NotEmpty(t, profile.ID)

	cold := base
	cold.TargetTempC = 150
	_, err = svc.CreateProfile(ctx, cold)
	require.ErrorIs(t, err, ErrValidation)

	crossed := base
	crossed.FirstCrackEndMin = 7
	_, err = svc.CreateProfile(ctx, crossed)
	require.ErrorIs(t, err, ErrValidation)

	overlong := base
	overlong.SecondCrackStartMin = 14
	_, err = svc.CreateProfile(ctx, overlong)
	require.ErrorIs(t, err, ErrValidation)
}

func TestSummary(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	processID := openProcess(repo)

	for _, rd := range [][2]float64{{0, 165}, {1, 172}, {2, 180}, {4, 192}, {8.5, 199}, {12, 211}} {
		_, err := svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: rd[0], TempC: rd[1]})
		require.NoError(t, err)
	}
	_, err := svc.RecordEvent(ctx, EventInput{ProcessID: processID, Type: EventFirstCrackStart, ElapsedMin: 8.5, TempC: 199, OperatorID: "op-1"})
	require.NoError(t, err)
	_, err = svc.RecordEvent(ctx, EventInput{ProcessID: processID, Type: EventDrop, ElapsedMin: 12, TempC: 211, OperatorID: "op-1"})
	require.NoError(t, err)
	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{ProcessID: processID, Kind: AdjustAirflow, ElapsedMin: 5, FromValue: 40, ToValue: 60, OperatorID: "op-1"})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, processID)
	require.NoError(t, err)
	require.Equal(t, 6, summary.SampleCount)
	require.Equal(t, 2, summary.EventCount)
	require.Equal(t, 1, summary.AdjustmentCount)
	require.InDelta(t, 12.0, summary.DurationMin, 1e-9)
	require.InDelta(t, 165.0, summary.MinTempC, 1e-9)
	require.InDelta(t, 211.0, summary.MaxTempC, 1e-9)
	require.InDelta(t, 8.0, summary.MaxRoRCPerMin, 1e-9)
	require.NotNil(t, summary.FirstCrackMin)
	require.InDelta(t, 8.5, *summary.FirstCrackMin, 1e-9)
	require.NotNil(t, summary.DropMin)
}

func TestAppendSampleRangeLimits(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	processID := openProcess(repo)

	_, err := svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: 1, TempC: 5000})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: 999, TempC: 180})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: 1, TempC: 180, AirflowPct: 150})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: 1, TempC: 180, GasLevelPct: -5})
	require.ErrorIs(t, err, ErrValidation)

	curve, err := svc.Curve(ctx, processID)
	require.NoError(t, err)
	require.Empty(t, curve)
}

func TestAppendSampleSuppliedRateOfRise(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	processID := openProcess(repo)

	_, err := svc.AppendSample(ctx, SampleInput{ProcessID: processID, ElapsedMin: 0, TempC: 165})
	require.NoError(t, err)

	probeRoR := 6.5
	sample, err := svc.AppendSample(ctx, SampleInput{
		ProcessID:   processID,
		ElapsedMin:  1,
		TempC:       172,
		AirflowPct:  60,
		GasLevelPct: 70,
		RoRCPerMin:  &probeRoR,
	})
	require.NoError(t, err)
	require.InDelta(t, 6.5, sample.RoRCPerMin, 1e-9)
	require.Equal(t, 60, sample.AirflowPct)
	require.Equal(t, 70, sample.GasLevelPct)
}

func TestRecordBeyondRoastLimit(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	processID := openProcess(repo)

	_, err := svc.RecordEvent(ctx, EventInput{
		ProcessID:  processID,
		Type:       EventFirstCrackStart,
		ElapsedMin: 999,
		TempC:      196,
		OperatorID: "op-1",
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.RecordAdjustment(ctx, AdjustmentInput{
		ProcessID:  processID,
		Kind:       AdjustGas,
		ElapsedMin: 999,
		FromValue:  70,
		ToValue:    55,
		OperatorID: "op-1",
	})
	require.ErrorIs(t, err, ErrValidation)

	events, err := repo.ListEvents(ctx, processID)
	require.NoError(t, err)
	require.Empty(t, events)
}
