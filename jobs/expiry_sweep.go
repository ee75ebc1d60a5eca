package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cafetrace/cafetrace/internal/jobs"
	"github.com/cafetrace/cafetrace/internal/ledger"
)

// ExpiryPort lists lots whose expiry has passed.
type ExpiryPort interface {
	ListExpiringBefore(ctx context.Context, stage ledger.StageKind, cutoff time.Time) ([]ledger.Lot, error)
}

// ExpirySweepJob writes off lots past their expiry date across all stages.
type ExpirySweepJob struct {
	Ledger  *ledger.Service
	Stock   ExpiryPort
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpirySweepJob initialises the expiry sweep handler.
func NewExpirySweepJob(svc *ledger.Service, stock ExpiryPort, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	return &ExpirySweepJob{
		Ledger:  svc,
		Stock:   stock,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

var sweepStages = []ledger.StageKind{
	ledger.StageGreen,
	ledger.StageParchment,
	ledger.StageRoasted,
	ledger.StagePackaged,
}

// Handle executes one sweep.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil || j.Stock == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	var payload ExpirySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = j.now()
	}
	actorID := payload.ActorID
	if actorID == "" {
		actorID = "system"
	}

	tracker := j.Metrics.Track(TaskExpirySweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Time("as_of", asOf))
	swept := 0
	for _, stage := range sweepStages {
		lots, err := j.Stock.ListExpiringBefore(ctx, stage, asOf)
		if err != nil {
			resultErr = err
			logger.Error("expiry listing failed", slog.String("stage", string(stage)), slog.Any("error", err))
			return resultErr
		}
		for _, lot := range lots {
			if _, err := j.Ledger.MarkExpired(ctx, stage, lot.ID, actorID, "expiry sweep"); err != nil {
				// Another writer may race the sweep; leave the lot for
				// the next run.
				if errors.Is(err, ledger.ErrConcurrentModification) {
					logger.Warn("expiry write-off skipped", slog.String("lot_code", lot.LotCode))
					continue
				}
				resultErr = err
				logger.Error("expiry write-off failed", slog.String("lot_code", lot.LotCode), slog.Any("error", err))
				return resultErr
			}
			swept++
			j.Metrics.AddExpired(string(stage), 1)
		}
	}

	logger.Info("completed expiry sweep", slog.Int("expired", swept))
	return resultErr
}

func (j *ExpirySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskExpirySweep))
	}
	return slog.Default().With(slog.String("job", TaskExpirySweep))
}

func (j *ExpirySweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
