package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cafetrace/cafetrace/internal/ledger"
)

// StockPort is the ledger read surface the evaluator scans.
type StockPort interface {
	AvailableByStage(ctx context.Context, stage ledger.StageKind) (float64, error)
	ListExpiringBefore(ctx context.Context, stage ledger.StageKind, cutoff time.Time) ([]ledger.Lot, error)
}

// Service evaluates stock and expiry alerts.
type Service struct {
	stock      StockPort
	thresholds Thresholds
	printer    *message.Printer
	group      singleflight.Group
	logger     *slog.Logger
}

// NewService builds Service. Zero threshold fields fall back to defaults.
func NewService(stock StockPort, thresholds Thresholds, logger *slog.Logger) *Service {
	defaults := DefaultThresholds()
	if thresholds.MinGreenKg == 0 {
		thresholds.MinGreenKg = defaults.MinGreenKg
	}
	if thresholds.MinRoastedKg == 0 {
		thresholds.MinRoastedKg = defaults.MinRoastedKg
	}
	if thresholds.ExpiryHorizon == 0 {
		thresholds.ExpiryHorizon = defaults.ExpiryHorizon
	}
	if thresholds.ExpirySoon == 0 {
		thresholds.ExpirySoon = defaults.ExpirySoon
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		stock:      stock,
		thresholds: thresholds,
		printer:    message.NewPrinter(language.English),
		logger:     logger,
	}
}

// Evaluate runs all scans in parallel and returns the findings in a stable
// order. Concurrent callers share one run via singleflight.
func (s *Service) Evaluate(ctx context.Context) (Snapshot, error) {
	result, err, _ := s.group.Do("evaluate", func() (any, error) {
		return s.evaluate(ctx)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return result.(Snapshot), nil
}

func (s *Service) evaluate(ctx context.Context) (Snapshot, error) {
	now := time.Now()
	cutoff := now.Add(s.thresholds.ExpiryHorizon)

	var stockAlerts, expiryAlerts []Alert
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stockAlerts, err = s.scanStock(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		expiryAlerts, err = s.scanExpiry(ctx, now, cutoff)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	alerts := append(stockAlerts, expiryAlerts...)
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Kind != alerts[j].Kind {
			return alerts[i].Kind < alerts[j].Kind
		}
		if alerts[i].Stage != alerts[j].Stage {
			return alerts[i].Stage < alerts[j].Stage
		}
		return alerts[i].LotCode < alerts[j].LotCode
	})

	s.logger.Info("alert evaluation finished", "alerts", len(alerts))
	return Snapshot{EvaluatedAt: now, Alerts: alerts}, nil
}

func (s *Service) scanStock(ctx context.Context) ([]Alert, error) {
	checks := []struct {
		stage       ledger.StageKind
		thresholdKg float64
	}{
		{ledger.StageGreen, s.thresholds.MinGreenKg},
		{ledger.StageRoasted, s.thresholds.MinRoastedKg},
	}
	var alerts []Alert
	for _, check := range checks {
		available, err := s.stock.AvailableByStage(ctx, check.stage)
		if err != nil {
			return nil, fmt.Errorf("scan %s stock: %w", check.stage, err)
		}
		if available >= check.thresholdKg {
			continue
		}
		alert := Alert{
			Kind:        KindLowStock,
			Severity:    stockSeverity(available, check.thresholdKg),
			Stage:       check.stage,
			AvailableKg: available,
			ThresholdKg: check.thresholdKg,
			Message: s.printer.Sprintf("%s stock at %.1f kg, below the %.1f kg minimum",
				check.stage, available, check.thresholdKg),
		}
		if available <= 0 {
			alert.Kind = KindOutOfStock
			alert.Message = s.printer.Sprintf("%s stock depleted", check.stage)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func (s *Service) scanExpiry(ctx context.Context, now, cutoff time.Time) ([]Alert, error) {
	var alerts []Alert
	for _, stage := range []ledger.StageKind{ledger.StageGreen, ledger.StageRoasted, ledger.StagePackaged} {
		lots, err := s.stock.ListExpiringBefore(ctx, stage, cutoff)
		if err != nil {
			return nil, fmt.Errorf("scan %s expiry: %w", stage, err)
		}
		for _, lot := range lots {
			if lot.ExpiresAt == nil {
				continue
			}
			alert := Alert{
				Kind:        KindExpiring,
				Severity:    expirySeverity(now, *lot.ExpiresAt, s.thresholds.ExpirySoon),
				Stage:       stage,
				LotID:       lot.ID,
				LotCode:     lot.LotCode,
				AvailableKg: lot.AvailableKg,
				ExpiresAt:   lot.ExpiresAt,
			}
			if !lot.ExpiresAt.After(now) {
				alert.Kind = KindExpired
				alert.Message = s.printer.Sprintf("lot %s (%.1f kg) expired on %s",
					lot.LotCode, lot.AvailableKg, lot.ExpiresAt.Format("2006-01-02"))
			} else {
				alert.Message = s.printer.Sprintf("lot %s (%.1f kg) expires on %s",
					lot.LotCode, lot.AvailableKg, lot.ExpiresAt.Format("2006-01-02"))
			}
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}
