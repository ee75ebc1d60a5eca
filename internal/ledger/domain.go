package ledger

import (
	"errors"
	"time"
)

// StageKind identifies the production stage a lot belongs to.
type StageKind string

const (
	StageGreen     StageKind = "GREEN"
	StageParchment StageKind = "PARCHMENT"
	StageRoasted   StageKind = "ROASTED"
	StagePackaged  StageKind = "PACKAGED"
)

// LotStatus describes the lifecycle state of a lot.
type LotStatus string

const (
	LotAvailable LotStatus = "AVAILABLE"
	LotInProcess LotStatus = "IN_PROCESS"
	LotDepleted  LotStatus = "DEPLETED"
	LotExpired   LotStatus = "EXPIRED"
)

// MovementType enumerates journal movement kinds.
type MovementType string

const (
	MovementInbound    MovementType = "INBOUND"
	MovementOutbound   MovementType = "OUTBOUND"
	MovementProcess    MovementType = "PROCESS"
	MovementAdjustment MovementType = "ADJUSTMENT"
)

// Classification grades parchment output.
type Classification string

const (
	ClassParchment   Classification = "PARCHMENT"
	ClassFirstGrade  Classification = "FIRST"
	ClassSecondGrade Classification = "SECOND"
)

// Lot is a quantity of stock at one production stage. Green lots link to the
// purchase that created them; every other stage links to its producing process.
type Lot struct {
	ID             string
	LotCode        string
	Stage          StageKind
	TotalKg        float64
	AvailableKg    float64
	Status         LotStatus
	Version        int64
	PurchaseID     string
	ProcessID      string
	Location       string
	Classification Classification
	RoastLevel     string
	Units          int
	CreatedAt      time.Time
	ExpiresAt      *time.Time
}

// MovementEntry is one immutable journal row. AfterKg always equals
// BeforeKg + DeltaKg and is never negative.
type MovementEntry struct {
	ID         string
	ActorID    string
	Type       MovementType
	Stage      StageKind
	LotID      string
	BeforeKg   float64
	DeltaKg    float64
	AfterKg    float64
	Reason     string
	ProcessID  string
	OccurredAt time.Time
}

// LotShare is one slice of a FIFO allocation plan.
type LotShare struct {
	LotID   string
	LotCode string
	TakeKg  float64
}

// JournalFilter narrows journal queries.
type JournalFilter struct {
	Stage StageKind
	LotID string
	From  time.Time
	To    time.Time
	Limit int
}

// ErrLotNotFound indicates the lot does not exist in the given stage.
var ErrLotNotFound = errors.New("ledger: lot not found")

// ErrInsufficientStock indicates a lot cannot cover the requested quantity.
var ErrInsufficientStock = errors.New("ledger: insufficient stock")

// ErrNegativeBalance indicates the delta would drive a balance below zero.
var ErrNegativeBalance = errors.New("ledger: negative balance not allowed")

// ErrConcurrentModification indicates a lost update race; callers may retry
// with fresh balances.
var ErrConcurrentModification = errors.New("ledger: concurrent modification")

// ErrDuplicateLotCode indicates a lot code collision.
var ErrDuplicateLotCode = errors.New("ledger: duplicate lot code")

// ErrInvalidDelta indicates a zero or non-finite quantity change.
var ErrInvalidDelta = errors.New("ledger: delta must be non zero")
