package trace

import (
	"errors"
	"time"

	"github.com/cafetrace/cafetrace/internal/ledger"
	"github.com/cafetrace/cafetrace/internal/purchasing"
	"github.com/cafetrace/cafetrace/internal/stage"
)

// Chain is a point-in-time snapshot of a packaged product's full history,
// assembled by walking process links backwards from the retail lot code.
// Later writes do not mutate an assembled chain.
type Chain struct {
	ProductCode string
	AssembledAt time.Time

	Packaged  *PackagedLink
	Roasted   *RoastedLink
	Parchment *ParchmentLink
	Green     *GreenLink
}

// PackagedLink is the retail end of the chain.
type PackagedLink struct {
	Lot     ledger.Lot
	Process stage.PackagingProcess
}

// RoastedLink covers the roasting step.
type RoastedLink struct {
	Lot          ledger.Lot
	Process      stage.RoastingProcess
	YieldPercent float64
}

// ParchmentLink covers the milling step.
type ParchmentLink struct {
	Lot          ledger.Lot
	Process      stage.MillingProcess
	YieldPercent float64
}

// GreenLink is the origin end: the received lot, its purchase invoice and
// the supplier it came from.
type GreenLink struct {
	Lot      ledger.Lot
	Purchase purchasing.Purchase
	Supplier purchasing.Supplier
}

// Complete reports whether every link back to the supplier was resolved.
func (c Chain) Complete() bool {
	return c.Packaged != nil && c.Roasted != nil && c.Parchment != nil && c.Green != nil
}

var (
	// ErrProductNotFound indicates no packaged lot carries the code.
	ErrProductNotFound = errors.New("trace: product not found")
	// ErrBrokenChain indicates a missing link while walking backwards. The
	// partial chain assembled up to the break is still returned.
	ErrBrokenChain = errors.New("trace: broken chain")
)
