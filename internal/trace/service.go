package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cafetrace/cafetrace/internal/ledger"
	"github.com/cafetrace/cafetrace/internal/purchasing"
	"github.com/cafetrace/cafetrace/internal/stage"
)

// RepositoryPort is the read surface the assembler walks. It never writes.
type RepositoryPort interface {
	GetPackagedLotByCode(ctx context.Context, lotCode string) (ledger.Lot, error)
	GetLot(ctx context.Context, kind ledger.StageKind, lotID string) (ledger.Lot, error)
	GetPackagingProcess(ctx context.Context, id string) (stage.PackagingProcess, error)
	GetRoastingProcess(ctx context.Context, id string) (stage.RoastingProcess, error)
	GetMillingProcess(ctx context.Context, id string) (stage.MillingProcess, error)
	GetPurchase(ctx context.Context, id string) (purchasing.Purchase, error)
	GetSupplier(ctx context.Context, id string) (purchasing.Supplier, error)
}

// Service assembles traceability chains.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Assemble walks from a packaged lot code back to the supplier:
// packaging -> roasting -> milling -> purchase -> supplier. A missing link
// returns the partial chain with ErrBrokenChain wrapped around the gap.
func (s *Service) Assemble(ctx context.Context, productCode string) (Chain, error) {
	chain := Chain{ProductCode: productCode, AssembledAt: time.Now()}

	packagedLot, err := s.repo.GetPackagedLotByCode(ctx, productCode)
	if err != nil {
		if errors.Is(err, ledger.ErrLotNotFound) {
			return chain, fmt.Errorf("%w: %s", ErrProductNotFound, productCode)
		}
		return chain, err
	}
	packaging, err := s.repo.GetPackagingProcess(ctx, packagedLot.ProcessID)
	if err != nil {
		return chain, s.broken(chain, "packaging process", packagedLot.ProcessID, err)
	}
	chain.Packaged = &PackagedLink{Lot: packagedLot, Process: packaging}

	roastedLot, err := s.repo.GetLot(ctx, ledger.StageRoasted, packaging.InputLotID)
	if err != nil {
		return chain, s.broken(chain, "roasted lot", packaging.InputLotID, err)
	}
	roasting, err := s.repo.GetRoastingProcess(ctx, roastedLot.ProcessID)
	if err != nil {
		return chain, s.broken(chain, "roasting process", roastedLot.ProcessID, err)
	}
	chain.Roasted = &RoastedLink{
		Lot:          roastedLot,
		Process:      roasting,
		YieldPercent: yieldPercent(roasting.FinalKg, roasting.InputKg),
	}

	parchmentLot, err := s.repo.GetLot(ctx, ledger.StageParchment, roasting.InputLotID)
	if err != nil {
		return chain, s.broken(chain, "parchment lot", roasting.InputLotID, err)
	}
	milling, err := s.repo.GetMillingProcess(ctx, parchmentLot.ProcessID)
	if err != nil {
		return chain, s.broken(chain, "milling process", parchmentLot.ProcessID, err)
	}
	chain.Parchment = &ParchmentLink{
		Lot:          parchmentLot,
		Process:      milling,
		YieldPercent: yieldPercent(milling.ParchmentKg, milling.InputKg),
	}

	greenLot, err := s.repo.GetLot(ctx, ledger.StageGreen, milling.InputLotID)
	if err != nil {
		return chain, s.broken(chain, "green lot", milling.InputLotID, err)
	}
	purchase, err := s.repo.GetPurchase(ctx, greenLot.PurchaseID)
	if err != nil {
		return chain, s.broken(chain, "purchase", greenLot.PurchaseID, err)
	}
	supplier, err := s.repo.GetSupplier(ctx, purchase.SupplierID)
	if err != nil {
		return chain, s.broken(chain, "supplier", purchase.SupplierID, err)
	}
	chain.Green = &GreenLink{Lot: greenLot, Purchase: purchase, Supplier: supplier}

	return chain, nil
}

// broken classifies a failed hop. Only a missing record is a broken chain;
// anything else (a connection failure, a scan error) is passed through so the
// caller does not mistake an outage for corrupted lineage.
func (s *Service) broken(chain Chain, link, id string, cause error) error {
	if !missingLink(cause) {
		return cause
	}
	s.logger.Error("traceability chain broken",
		"product_code", chain.ProductCode, "missing", link, "ref", id, "error", cause)
	return fmt.Errorf("%w: missing %s %s: %v", ErrBrokenChain, link, id, cause)
}

func missingLink(err error) bool {
	return errors.Is(err, ledger.ErrLotNotFound) ||
		errors.Is(err, stage.ErrProcessNotFound) ||
		errors.Is(err, purchasing.ErrPurchaseNotFound) ||
		errors.Is(err, purchasing.ErrSupplierNotFound)
}

func yieldPercent(outputKg, inputKg float64) float64 {
	if inputKg == 0 {
		return 0
	}
	return outputKg / inputKg * 100
}
