package stage

import (
	"errors"
	"time"
)

// ProcessStatus describes the lifecycle of a stage process.
type ProcessStatus string

const (
	ProcessInProgress ProcessStatus = "IN_PROGRESS"
	ProcessCompleted  ProcessStatus = "COMPLETED"
	ProcessCancelled  ProcessStatus = "CANCELLED"
)

// RoastLevel enumerates target and achieved roast levels.
type RoastLevel string

const (
	RoastLight       RoastLevel = "LIGHT"
	RoastMediumLight RoastLevel = "MEDIUM_LIGHT"
	RoastMedium      RoastLevel = "MEDIUM"
	RoastMediumDark  RoastLevel = "MEDIUM_DARK"
	RoastDark        RoastLevel = "DARK"
)

// PackageType enumerates supported retail packaging.
type PackageType string

const (
	PackageValveBag PackageType = "VALVE_BAG"
	PackagePlainBag PackageType = "PLAIN_BAG"
	PackageGlassJar PackageType = "GLASS_JAR"
	PackageCan      PackageType = "CAN"
	PackageOther    PackageType = "OTHER"
)

// MillingProcess consumes a green lot and produces a graded parchment lot.
type MillingProcess struct {
	ID            string
	InputLotID    string
	OutputLotID   string
	OperatorID    string
	InputKg       float64
	ParchmentKg   float64
	FirstGradeKg  float64
	SecondGradeKg float64
	WasteKg       float64
	MoistureAfter float64
	Status        ProcessStatus
	ProcessedAt   time.Time
	Notes         string
}

// WastePercent reports milling mass loss relative to input.
func (p MillingProcess) WastePercent() float64 {
	if p.InputKg == 0 {
		return 0
	}
	return p.WasteKg / p.InputKg * 100
}

// RoastingProcess consumes a parchment lot and produces a roasted lot. It is
// opened IN_PROGRESS while the roast curve is being recorded and completed
// with the final weight and duration.
type RoastingProcess struct {
	ID            string
	InputLotID    string
	OutputLotID   string
	OperatorID    string
	ProfileID     string
	InputKg       float64
	StartTempC    float64
	TargetTempC   float64
	EstimatedMin  int
	InitialAirPct int
	TargetLevel   RoastLevel

	DurationMin   int
	FinalTempC    float64
	FinalKg       float64
	AchievedLevel RoastLevel
	AromaScore    int
	AcidityScore  int
	Balanced      bool

	Status      ProcessStatus
	ProcessedAt time.Time
	Notes       string
}

// WastePercent reports roasting mass loss relative to input.
func (p RoastingProcess) WastePercent() float64 {
	if p.InputKg == 0 {
		return 0
	}
	return (p.InputKg - p.FinalKg) / p.InputKg * 100
}

// PackagingProcess consumes a roasted lot and produces a packaged lot.
type PackagingProcess struct {
	ID              string
	InputLotID      string
	OutputLotID     string
	OperatorID      string
	PackageType     PackageType
	UnitWeightGrams float64
	Units           int
	TotalKg         float64
	ProductName     string
	Barcode         string
	Status          ProcessStatus
	PackagedAt      time.Time
	ExpiresAt       time.Time
	Notes           string
}

// ErrValidation indicates malformed or out-of-range transition input.
var ErrValidation = errors.New("stage: invalid input")

// ErrConservation indicates a mass-balance mismatch beyond tolerance.
var ErrConservation = errors.New("stage: conservation violation")

// ErrProcessNotFound indicates the process does not exist.
var ErrProcessNotFound = errors.New("stage: process not found")

// ErrProcessState indicates an operation illegal for the process status,
// e.g. completing a cancelled roast or cancelling completed history.
var ErrProcessState = errors.New("stage: invalid process state")
