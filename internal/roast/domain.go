package roast

import (
	"errors"
	"time"
)

// Profile is a reusable roast plan: target level, temperature window and the
// expected crack timing used to compare live roasts against the plan.
type Profile struct {
	ID          string
	Name        string
	TargetLevel string
	StartTempC  float64
	TargetTempC float64
	TotalMin    float64

	FirstCrackStartMin  float64
	FirstCrackEndMin    float64
	SecondCrackStartMin float64
	SecondCrackEndMin   float64

	CreatedBy string
	CreatedAt time.Time
	Notes     string
}

// MaxRoastDurationMin caps elapsed time on any recorded curve point. It
// matches the longest roast duration accepted at completion.
const MaxRoastDurationMin = 35.0

// Sample is one point on a roast curve. RoRCPerMin is derived at append time
// from the previous sample unless the logging probe supplies its own reading.
type Sample struct {
	ID          string
	ProcessID   string
	Seq         int
	ElapsedMin  float64
	TempC       float64
	RoRCPerMin  float64
	AirflowPct  int
	GasLevelPct int
	RecordedAt  time.Time
}

// EventType enumerates roast milestones in their canonical order.
type EventType string

const (
	EventFirstCrackStart  EventType = "FIRST_CRACK_START"
	EventFirstCrackEnd    EventType = "FIRST_CRACK_END"
	EventSecondCrackStart EventType = "SECOND_CRACK_START"
	EventSecondCrackEnd   EventType = "SECOND_CRACK_END"
	EventCoolingStart     EventType = "COOLING_START"
	EventDrop             EventType = "DROP"
)

// eventRank orders milestones. A new event must outrank everything already
// recorded for the process.
var eventRank = map[EventType]int{
	EventFirstCrackStart:  1,
	EventFirstCrackEnd:    2,
	EventSecondCrackStart: 3,
	EventSecondCrackEnd:   4,
	EventCoolingStart:     5,
	EventDrop:             6,
}

// Event marks a milestone on a roast curve.
type Event struct {
	ID         string
	ProcessID  string
	Type       EventType
	ElapsedMin float64
	TempC      float64
	OperatorID string
	RecordedAt time.Time
	Notes      string
}

// AdjustmentKind enumerates operator interventions during a roast.
type AdjustmentKind string

const (
	AdjustAirflow     AdjustmentKind = "AIRFLOW"
	AdjustGas         AdjustmentKind = "GAS"
	AdjustTemperature AdjustmentKind = "TEMPERATURE"
)

// Adjustment records an operator intervention.
type Adjustment struct {
	ID         string
	ProcessID  string
	Kind       AdjustmentKind
	ElapsedMin float64
	FromValue  float64
	ToValue    float64
	OperatorID string
	RecordedAt time.Time
	Notes      string
}

// CurveSummary aggregates a recorded curve for reporting.
type CurveSummary struct {
	ProcessID       string
	SampleCount     int
	EventCount      int
	AdjustmentCount int
	DurationMin     float64
	MinTempC        float64
	MaxTempC        float64
	MaxRoRCPerMin   float64
	FirstCrackMin   *float64
	DropMin         *float64
}

// ProcessState is the slice of a roasting process the curve engine needs:
// whether the roast is still open for recording and how long it may run.
type ProcessState struct {
	ID             string
	Status         string
	MaxDurationMin float64
}

// Open reports whether samples and events may still be appended.
func (p ProcessState) Open() bool { return p.Status == "IN_PROGRESS" }

// MaxElapsedMin is the latest elapsed minute a sample, event or adjustment
// may carry. A roast may overrun its estimate, but never the drum limit.
func (p ProcessState) MaxElapsedMin() float64 {
	if p.MaxDurationMin > MaxRoastDurationMin {
		return p.MaxDurationMin
	}
	return MaxRoastDurationMin
}

var (
	// ErrValidation indicates malformed profile or curve input.
	ErrValidation = errors.New("roast: invalid input")
	// ErrProfileNotFound indicates the profile does not exist.
	ErrProfileNotFound = errors.New("roast: profile not found")
	// ErrProcessNotFound indicates the roasting process does not exist.
	ErrProcessNotFound = errors.New("roast: process not found")
	// ErrProcessClosed indicates the roast is completed or cancelled and
	// its curve is immutable.
	ErrProcessClosed = errors.New("roast: process is closed")
	// ErrOutOfOrderSample indicates a sample at or before the latest
	// recorded elapsed time.
	ErrOutOfOrderSample = errors.New("roast: sample out of order")
	// ErrEventOrder indicates a milestone recorded out of canonical order.
	ErrEventOrder = errors.New("roast: event out of order")
)
