package stage

import (
	"time"

	"github.com/cafetrace/cafetrace/internal/ledger"
)

// StageCompletedEvent is emitted after a transition commits.
type StageCompletedEvent struct {
	Stage       ledger.StageKind
	ProcessID   string
	InputLotID  string
	OutputLotID string
	ConsumedKg  float64
	ProducedKg  float64
	OperatorID  string
	CompletedAt time.Time
}
