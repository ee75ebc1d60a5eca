package roast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// RepositoryPort describes repository operations used by Service. The curve
// engine reads process state through its own port instead of depending on the
// transition layer.
type RepositoryPort interface {
	GetProcessState(ctx context.Context, processID string) (ProcessState, error)

	InsertProfile(ctx context.Context, p Profile) error
	GetProfile(ctx context.Context, id string) (Profile, error)

	InsertSample(ctx context.Context, s Sample) error
	LastSample(ctx context.Context, processID string) (Sample, bool, error)
	ListSamples(ctx context.Context, processID string) ([]Sample, error)

	InsertEvent(ctx context.Context, e Event) error
	ListEvents(ctx context.Context, processID string) ([]Event, error)

	InsertAdjustment(ctx context.Context, a Adjustment) error
	ListAdjustments(ctx context.Context, processID string) ([]Adjustment, error)
}

// Service records roast curves: temperature samples with derived rate of
// rise, milestone events and operator adjustments.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, validate: validator.New(), logger: logger}
}

// ProfileInput describes a new roast profile.
type ProfileInput struct {
	Name        string  `validate:"required,min=2"`
	TargetLevel string  `validate:"required,oneof=LIGHT MEDIUM_LIGHT MEDIUM MEDIUM_DARK DARK"`
	StartTempC  float64 `validate:"required,gt=0"`
	TargetTempC float64 `validate:"required,gt=0"`
	TotalMin    float64 `validate:"required,gt=0"`

	FirstCrackStartMin  float64 `validate:"gte=0"`
	FirstCrackEndMin    float64 `validate:"gte=0"`
	SecondCrackStartMin float64 `validate:"gte=0"`
	SecondCrackEndMin   float64 `validate:"gte=0"`

	CreatedBy string `validate:"required"`
	Notes     string
}

// SampleInput appends one temperature reading to a live roast. RoRCPerMin is
// optional; when nil the rate of rise is derived from the previous sample.
type SampleInput struct {
	ProcessID   string  `validate:"required"`
	ElapsedMin  float64 `validate:"gte=0"`
	TempC       float64 `validate:"required,gt=0,lte=300"`
	AirflowPct  int     `validate:"gte=0,lte=100"`
	GasLevelPct int     `validate:"gte=0,lte=100"`
	RoRCPerMin  *float64
}

// EventInput records a roast milestone.
type EventInput struct {
	ProcessID  string    `validate:"required"`
	Type       EventType `validate:"required"`
	ElapsedMin float64   `validate:"gte=0"`
	TempC      float64   `validate:"gte=0,lte=300"`
	OperatorID string    `validate:"required"`
	Notes      string
}

// AdjustmentInput records an operator intervention.
type AdjustmentInput struct {
	ProcessID  string         `validate:"required"`
	Kind       AdjustmentKind `validate:"required,oneof=AIRFLOW GAS TEMPERATURE"`
	ElapsedMin float64        `validate:"gte=0"`
	FromValue  float64
	ToValue    float64
	OperatorID string `validate:"required"`
	Notes      string
}

// CreateProfile validates and stores a roast profile. The temperature window
// must rise and the crack windows must sit in canonical order inside the
// planned duration.
func (s *Service) CreateProfile(ctx context.Context, input ProfileInput) (Profile, error) {
	if err := s.validate.Struct(input); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if input.TargetTempC <= input.StartTempC {
		return Profile{}, fmt.Errorf("%w: target temperature %.1f must exceed start %.1f", ErrValidation, input.TargetTempC, input.StartTempC)
	}
	if err := checkCrackWindows(input); err != nil {
		return Profile{}, err
	}
	profile := Profile{
		ID:                  uuid.NewString(),
		Name:                input.Name,
		TargetLevel:         input.TargetLevel,
		StartTempC:          input.StartTempC,
		TargetTempC:         input.TargetTempC,
		TotalMin:            input.TotalMin,
		FirstCrackStartMin:  input.FirstCrackStartMin,
		FirstCrackEndMin:    input.FirstCrackEndMin,
		SecondCrackStartMin: input.SecondCrackStartMin,
		SecondCrackEndMin:   input.SecondCrackEndMin,
		CreatedBy:           input.CreatedBy,
		CreatedAt:           time.Now(),
		Notes:               input.Notes,
	}
	if err := s.repo.InsertProfile(ctx, profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func checkCrackWindows(input ProfileInput) error {
	marks := []struct {
		name string
		min  float64
	}{
		{"first crack start", input.FirstCrackStartMin},
		{"first crack end", input.FirstCrackEndMin},
		{"second crack start", input.SecondCrackStartMin},
		{"second crack end", input.SecondCrackEndMin},
	}
	prev := 0.0
	for _, m := range marks {
		if m.min == 0 {
			continue
		}
		if m.min <= prev {
			return fmt.Errorf("%w: %s at %.1f min breaks crack ordering", ErrValidation, m.name, m.min)
		}
		if m.min > input.TotalMin {
			return fmt.Errorf("%w: %s at %.1f min exceeds planned %.1f min", ErrValidation, m.name, m.min, input.TotalMin)
		}
		prev = m.min
	}
	return nil
}

// GetProfile returns a profile by id.
func (s *Service) GetProfile(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetProfile(ctx, id)
}

// AppendSample stores one temperature reading. Elapsed time must strictly
// increase and stay within the roast duration limit; rate of rise is derived
// from the previous sample when the probe does not supply one, and is zero
// for the first reading.
func (s *Service) AppendSample(ctx context.Context, input SampleInput) (Sample, error) {
	if err := s.validate.Struct(input); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	state, err := s.requireOpen(ctx, input.ProcessID)
	if err != nil {
		return Sample{}, err
	}
	if input.ElapsedMin > state.MaxElapsedMin() {
		return Sample{}, fmt.Errorf("%w: %.2f min exceeds the %.0f min roast limit", ErrValidation, input.ElapsedMin, state.MaxElapsedMin())
	}
	prev, found, err := s.repo.LastSample(ctx, input.ProcessID)
	if err != nil {
		return Sample{}, err
	}
	sample := Sample{
		ID:          uuid.NewString(),
		ProcessID:   input.ProcessID,
		Seq:         1,
		ElapsedMin:  input.ElapsedMin,
		TempC:       input.TempC,
		AirflowPct:  input.AirflowPct,
		GasLevelPct: input.GasLevelPct,
		RecordedAt:  time.Now(),
	}
	if found {
		if input.ElapsedMin <= prev.ElapsedMin {
			return Sample{}, fmt.Errorf("%w: %.2f min is not after %.2f min", ErrOutOfOrderSample, input.ElapsedMin, prev.ElapsedMin)
		}
		sample.Seq = prev.Seq + 1
	}
	switch {
	case input.RoRCPerMin != nil:
		sample.RoRCPerMin = *input.RoRCPerMin
	case found:
		sample.RoRCPerMin = (input.TempC - prev.TempC) / (input.ElapsedMin - prev.ElapsedMin)
	}
	if err := s.repo.InsertSample(ctx, sample); err != nil {
		return Sample{}, err
	}
	return sample, nil
}

// RecordEvent stores a roast milestone. Milestones are recorded at most once
// per process and must follow the canonical crack-to-drop order, at an
// elapsed time not before the latest recorded milestone.
func (s *Service) RecordEvent(ctx context.Context, input EventInput) (Event, error) {
	if err := s.validate.Struct(input); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	rank, ok := eventRank[input.Type]
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown event type %q", ErrValidation, input.Type)
	}
	state, err := s.requireOpen(ctx, input.ProcessID)
	if err != nil {
		return Event{}, err
	}
	if input.ElapsedMin > state.MaxElapsedMin() {
		return Event{}, fmt.Errorf("%w: %.2f min exceeds the %.0f min roast limit", ErrValidation, input.ElapsedMin, state.MaxElapsedMin())
	}
	existing, err := s.repo.ListEvents(ctx, input.ProcessID)
	if err != nil {
		return Event{}, err
	}
	for _, e := range existing {
		if eventRank[e.Type] >= rank {
			return Event{}, fmt.Errorf("%w: %s cannot follow %s", ErrEventOrder, input.Type, e.Type)
		}
		if input.ElapsedMin < e.ElapsedMin {
			return Event{}, fmt.Errorf("%w: %s at %.2f min precedes %s at %.2f min", ErrEventOrder, input.Type, input.ElapsedMin, e.Type, e.ElapsedMin)
		}
	}
	event := Event{
		ID:         uuid.NewString(),
		ProcessID:  input.ProcessID,
		Type:       input.Type,
		ElapsedMin: input.ElapsedMin,
		TempC:      input.TempC,
		OperatorID: input.OperatorID,
		RecordedAt: time.Now(),
		Notes:      input.Notes,
	}
	if err := s.repo.InsertEvent(ctx, event); err != nil {
		return Event{}, err
	}
	s.logger.Info("roast event recorded", "process_id", input.ProcessID, "type", input.Type, "elapsed_min", input.ElapsedMin)
	return event, nil
}

// RecordAdjustment stores an operator intervention on a live roast.
func (s *Service) RecordAdjustment(ctx context.Context, input AdjustmentInput) (Adjustment, error) {
	if err := s.validate.Struct(input); err != nil {
		return Adjustment{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	state, err := s.requireOpen(ctx, input.ProcessID)
	if err != nil {
		return Adjustment{}, err
	}
	if input.ElapsedMin > state.MaxElapsedMin() {
		return Adjustment{}, fmt.Errorf("%w: %.2f min exceeds the %.0f min roast limit", ErrValidation, input.ElapsedMin, state.MaxElapsedMin())
	}
	adj := Adjustment{
		ID:         uuid.NewString(),
		ProcessID:  input.ProcessID,
		Kind:       input.Kind,
		ElapsedMin: input.ElapsedMin,
		FromValue:  input.FromValue,
		ToValue:    input.ToValue,
		OperatorID: input.OperatorID,
		RecordedAt: time.Now(),
		Notes:      input.Notes,
	}
	if err := s.repo.InsertAdjustment(ctx, adj); err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// Curve returns all samples of a process in recording order.
func (s *Service) Curve(ctx context.Context, processID string) ([]Sample, error) {
	if _, err := s.repo.GetProcessState(ctx, processID); err != nil {
		return nil, err
	}
	return s.repo.ListSamples(ctx, processID)
}

// Summary aggregates the recorded curve of a process.
func (s *Service) Summary(ctx context.Context, processID string) (CurveSummary, error) {
	if _, err := s.repo.GetProcessState(ctx, processID); err != nil {
		return CurveSummary{}, err
	}
	samples, err := s.repo.ListSamples(ctx, processID)
	if err != nil {
		return CurveSummary{}, err
	}
	events, err := s.repo.ListEvents(ctx, processID)
	if err != nil {
		return CurveSummary{}, err
	}
	adjustments, err := s.repo.ListAdjustments(ctx, processID)
	if err != nil {
		return CurveSummary{}, err
	}
	summary := CurveSummary{
		ProcessID:       processID,
		SampleCount:     len(samples),
		EventCount:      len(events),
		AdjustmentCount: len(adjustments),
	}
	for i, smp := range samples {
		if i == 0 {
			summary.MinTempC = smp.TempC
			summary.MaxTempC = smp.TempC
		}
		if smp.TempC < summary.MinTempC {
			summary.MinTempC = smp.TempC
		}
		if smp.TempC > summary.MaxTempC {
			summary.MaxTempC = smp.TempC
		}
		if smp.RoRCPerMin > summary.MaxRoRCPerMin {
			summary.MaxRoRCPerMin = smp.RoRCPerMin
		}
		summary.DurationMin = smp.ElapsedMin
	}
	for _, e := range events {
		min := e.ElapsedMin
		switch e.Type {
		case EventFirstCrackStart:
			summary.FirstCrackMin = &min
		case EventDrop:
			summary.DropMin = &min
		}
	}
	return summary, nil
}

func (s *Service) requireOpen(ctx context.Context, processID string) (ProcessState, error) {
	state, err := s.repo.GetProcessState(ctx, processID)
	if err != nil {
		return ProcessState{}, err
	}
	if !state.Open() {
		return ProcessState{}, fmt.Errorf("%w: process %s is %s", ErrProcessClosed, state.ID, state.Status)
	}
	return state, nil
}
