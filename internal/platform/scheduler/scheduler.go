package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"toollend-backend/internal/lending/reconcile"
	"toollend-backend/internal/platform/config"
)

const jobTimeout = 2 * time.Minute

// Sweeper replays journalled compensations.
type Sweeper interface {
	Sweep(ctx context.Context) (reconcile.Stats, error)
}

// LedgerExporter copies the active borrows somewhere staff can read them.
type LedgerExporter interface {
	ExportToSheets(ctx context.Context) (int, error)
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron     *cron.Cron
	cfg      config.SchedulerConfig
	sweeper  Sweeper
	exporter LedgerExporter
	logger   *zap.Logger
}

// NewScheduler creates a new scheduler instance. exporter may be nil when no
// spreadsheet is configured.
func NewScheduler(cfg config.SchedulerConfig, sweeper Sweeper, exporter LedgerExporter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	// 5 fields: min, hour, dom, month, dow. Times are UTC.
	c := cron.New(cron.WithLocation(time.UTC))

	return &Scheduler{
		cron:     c,
		cfg:      cfg,
		sweeper:  sweeper,
		exporter: exporter,
		logger:   logger,
	}
}

// Start registers the jobs and starts the scheduler. A bad cron expression
// is returned before anything runs.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler")

	if s.sweeper != nil && s.cfg.ReconcileSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.ReconcileSpec, s.RunReconcile); err != nil {
			return fmt.Errorf("schedule reconcile %q: %w", s.cfg.ReconcileSpec, err)
		}
	}
	if s.exporter != nil && s.cfg.LedgerSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.LedgerSpec, s.RunLedgerExport); err != nil {
			return fmt.Errorf("schedule ledger export %q: %w", s.cfg.LedgerSpec, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

// Jobs returns how many jobs are registered.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

func (s *Scheduler) RunReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.Error("reconcile sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) RunLedgerExport() {
	s.logger.Info("exporting ledger")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.exporter.ExportToSheets(ctx)
	if err != nil {
		s.logger.Error("failed to export ledger", zap.Error(err))
		return
	}
	s.logger.Info("ledger exported successfully", zap.Int("rows", n))
}
