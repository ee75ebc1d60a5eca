package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cafetrace/cafetrace/internal/alerts"
	jobmetrics "github.com/cafetrace/cafetrace/internal/jobs"
)

// AlertScanJob evaluates stock and expiry alerts and refreshes the cached
// snapshot.
type AlertScanJob struct {
	Alerts  *alerts.Service
	Cache   *alerts.SnapshotCache
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAlertScanJob initialises the alert scan handler.
func NewAlertScanJob(svc *alerts.Service, cache *alerts.SnapshotCache, logger *slog.Logger, metrics *jobmetrics.Metrics) *AlertScanJob {
	return &AlertScanJob{Alerts: svc, Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle executes one evaluation run.
func (j *AlertScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Alerts == nil {
		return errors.New("alert scan: handler not configured")
	}
	var payload AlertScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskAlertScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	snapshot, err := j.Alerts.Evaluate(ctx)
	if err != nil {
		resultErr = err
		logger.Error("alert evaluation failed", slog.Any("error", err))
		return resultErr
	}

	for _, a := range snapshot.Alerts {
		logger.Warn("stock alert",
			slog.String("kind", string(a.Kind)),
			slog.String("severity", string(a.Severity)),
			slog.String("stage", string(a.Stage)),
			slog.String("lot_code", a.LotCode),
			slog.String("message", a.Message),
		)
		j.Metrics.AddAlerts(string(a.Severity), string(a.Stage), 1)
	}

	if j.Cache != nil {
		if err := j.Cache.Store(ctx, snapshot); err != nil {
			resultErr = err
			logger.Error("snapshot cache write failed", slog.Any("error", err))
			return resultErr
		}
	}

	logger.Info("completed alert scan",
		slog.Int("alerts", len(snapshot.Alerts)),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *AlertScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAlertScan))
	}
	return slog.Default().With(slog.String("job", TaskAlertScan))
}
