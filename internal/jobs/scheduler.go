package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"ledger-api/internal/config"
	"ledger-api/internal/engine"
	"ledger-api/internal/ingest"
	"ledger-api/internal/monitoring"
)

const jobTimeout = 5 * time.Minute

// Scheduler runs the background sweeps: projection reconciliation and
// webhook replay. Both are idempotent, so overlapping or repeated runs
// are harmless.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *engine.Reconciler
	webhooks   *ingest.Service
	metrics    *monitoring.Metrics
	cfg        config.JobsConfig
	logger     *logrus.Logger
}

func NewScheduler(
	reconciler *engine.Reconciler,
	webhooks *ingest.Service,
	metrics *monitoring.Metrics,
	cfg config.JobsConfig,
	logger *logrus.Logger,
) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		reconciler: reconciler,
		webhooks:   webhooks,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ReconcileSchedule, s.runReconcile); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.WebhookReplay, s.runWebhookReplay); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"reconcile_schedule":      s.cfg.ReconcileSchedule,
		"webhook_replay_schedule": s.cfg.WebhookReplay,
	}).Info("Background jobs started")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	repaired, err := s.reconciler.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Reconciliation sweep failed")
	}
	if repaired > 0 {
		s.metrics.RecordDriftRepairs(repaired)
		s.logger.WithField("repaired", repaired).Warn("Reconciliation sweep repaired drifted projections")
	}
}

func (s *Scheduler) runWebhookReplay() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	recovered, err := s.webhooks.Replay(ctx, s.cfg.WebhookReplayBatch)
	if err != nil {
		s.logger.WithError(err).Error("Webhook replay sweep failed")
	}
	if recovered > 0 {
		s.metrics.RecordWebhookReplay(recovered)
		s.logger.WithField("recovered", recovered).Info("Webhook replay sweep recovered failed deliveries")
	}
}
