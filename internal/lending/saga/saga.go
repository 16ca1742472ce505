// Package saga records the reversible steps of a multi-record write and
// undoes them when a later step fails.
//
// Rollback runs every recorded compensation concurrently; each targets a
// different record. A compensation is retried with exponential backoff and,
// when it still fails, written to the compensation journal so the
// reconciliation sweep can finish it later.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"toollend-backend/internal/platform/docstore"
)

// ErrCompensationFailed is returned by Rollback when at least one
// compensation had to be journalled.
var ErrCompensationFailed = errors.New("compensation failed")

// Backoff controls how often a single compensation is retried inline.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

var DefaultBackoff = Backoff{Attempts: 4, Initial: 50 * time.Millisecond, Max: time.Second}

// delay returns the wait before retry n (n starts at 1).
func (b Backoff) delay(n int) time.Duration {
	d := b.Initial << (n - 1)
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}

const rollbackTimeout = 30 * time.Second

type Runner struct {
	exec    *Executor
	journal docstore.CompensationStore
	logger  *zap.Logger
	backoff Backoff
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Runner)

func WithBackoff(b Backoff) Option { return func(r *Runner) { r.backoff = b } }

func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

func NewRunner(store docstore.Store, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		exec:    NewExecutor(store),
		journal: store,
		logger:  logger,
		backoff: DefaultBackoff,
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	if r.backoff.Attempts <= 0 {
		r.backoff.Attempts = 1
	}
	return r
}

func (r *Runner) Executor() *Executor { return r.exec }

// Begin starts an empty saga.
func (r *Runner) Begin() *Saga {
	return &Saga{runner: r}
}

// Saga collects the compensations of the forward steps taken so far.
type Saga struct {
	runner *Runner
	steps  []docstore.Compensation
}

func (s *Saga) Len() int { return len(s.steps) }

// Steps returns a copy of the recorded compensations.
func (s *Saga) Steps() []docstore.Compensation {
	return append([]docstore.Compensation(nil), s.steps...)
}

func (s *Saga) record(c docstore.Compensation) {
	s.steps = append(s.steps, c)
}

func (s *Saga) ReceiptCreated(id string) {
	s.record(docstore.Compensation{Kind: docstore.CompDeleteReceipt, TargetID: id})
}

func (s *Saga) BorrowItemCreated(id string) {
	s.record(docstore.Compensation{Kind: docstore.CompDeleteBorrowItem, TargetID: id})
}

// InventoryUpdated takes the record as read before the write and as left by it.
func (s *Saga) InventoryUpdated(prev, applied *docstore.InventoryRecord) {
	s.record(docstore.Compensation{
		Kind:     docstore.CompRestoreInventory,
		TargetID: applied.ItemID,
		Previous: prev.Clone(),
		Applied:  applied.Clone(),
	})
}

// ReceiptUpdated takes the receipt as read before the write and as left by it.
func (s *Saga) ReceiptUpdated(prev, applied *docstore.Receipt) {
	s.record(docstore.Compensation{
		Kind:           docstore.CompRestoreReceipt,
		TargetID:       applied.ID,
		Receipt:        prev.Clone(),
		ReceiptApplied: applied.Clone(),
	})
}

func (s *Saga) BorrowItemUpdated(prev, applied *docstore.BorrowItem) {
	s.record(docstore.Compensation{
		Kind:              docstore.CompRestoreBorrowItem,
		TargetID:          applied.ID,
		BorrowItem:        prev.Clone(),
		BorrowItemApplied: applied.Clone(),
	})
}

// Rollback applies every recorded compensation. It keeps going after the
// caller's context is cancelled, bounded by its own timeout. The returned
// error wraps ErrCompensationFailed and the individual failures.
func (s *Saga) Rollback(ctx context.Context) error {
	if len(s.steps) == 0 {
		return nil
	}
	r := s.runner
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	var (
		mu       sync.Mutex
		failures []error
		g        errgroup.Group
	)
	for _, step := range s.steps {
		g.Go(func() error {
			if err := r.applyWithRetry(ctx, step); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s %s: %w", step.Kind, step.TargetID, err))
				mu.Unlock()
				r.park(ctx, step, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) == 0 {
		r.logger.Info("rolled back", zap.Int("steps", len(s.steps)))
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCompensationFailed, errors.Join(failures...))
}

func (r *Runner) applyWithRetry(ctx context.Context, c docstore.Compensation) error {
	var err error
	for n := 1; n <= r.backoff.Attempts; n++ {
		if err = r.exec.Apply(ctx, c); err == nil {
			return nil
		}
		if errors.Is(err, ErrCannotRestore) || n == r.backoff.Attempts {
			break
		}
		r.logger.Warn("compensation failed, retrying",
			zap.String("kind", string(c.Kind)),
			zap.String("target", c.TargetID),
			zap.Int("attempt", n),
			zap.Error(err),
		)
		if serr := r.sleep(ctx, r.backoff.delay(n)); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

// park journals a compensation that could not be applied.
func (r *Runner) park(ctx context.Context, c docstore.Compensation, cause error) {
	now := r.now().UTC()
	c.ID = uuid.NewString()
	c.Attempts = r.backoff.Attempts
	c.LastError = cause.Error()
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := r.journal.SaveCompensation(ctx, &c); err != nil {
		// last resort: the log line carries everything needed to repair by hand
		r.logger.Error("compensation lost",
			zap.String("kind", string(c.Kind)),
			zap.String("target", c.TargetID),
			zap.Any("compensation", c),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}
	r.logger.Error("compensation journalled",
		zap.String("id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.String("target", c.TargetID),
		zap.Error(cause),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
