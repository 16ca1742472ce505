// Package reconcile replays compensations a rollback could not apply.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"toollend-backend/internal/lending/saga"
	"toollend-backend/internal/platform/docstore"
)

const (
	defaultBatch = 100
	// after this many failed attempts an entry is logged at error level on every sweep
	alertAfter = 10
)

// Applier applies one compensation; *saga.Executor implements it.
type Applier interface {
	Apply(ctx context.Context, c docstore.Compensation) error
}

var _ Applier = (*saga.Executor)(nil)

type Sweeper struct {
	journal docstore.CompensationStore
	exec    Applier
	logger  *zap.Logger
	batch   int
	now     func() time.Time
}

type Stats struct {
	Applied int
	Failed  int
}

func NewSweeper(journal docstore.CompensationStore, exec Applier, logger *zap.Logger, batch int) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Sweeper{journal: journal, exec: exec, logger: logger, batch: batch, now: time.Now}
}

// Sweep applies up to one batch of journalled compensations, oldest first.
// Applied entries are removed; failed ones keep their place with the attempt
// counter bumped. The error is only non-nil when the journal itself fails.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	var st Stats

	pending, err := s.journal.ListCompensations(ctx, s.batch)
	if err != nil {
		return st, fmt.Errorf("list compensations: %w", err)
	}

	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		applyErr := s.exec.Apply(ctx, c)
		if applyErr == nil {
			if err := s.journal.DeleteCompensation(ctx, c.ID); err != nil {
				return st, fmt.Errorf("delete compensation %s: %w", c.ID, err)
			}
			st.Applied++
			s.logger.Info("compensation applied",
				zap.String("id", c.ID),
				zap.String("kind", string(c.Kind)),
				zap.String("target", c.TargetID),
			)
			continue
		}

		st.Failed++
		c.Attempts++
		c.LastError = applyErr.Error()
		c.UpdatedAt = s.now().UTC()
		if err := s.journal.SaveCompensation(ctx, &c); err != nil {
			return st, fmt.Errorf("save compensation %s: %w", c.ID, err)
		}

		fields := []zap.Field{
			zap.String("id", c.ID),
			zap.String("kind", string(c.Kind)),
			zap.String("target", c.TargetID),
			zap.Int("attempts", c.Attempts),
			zap.Error(applyErr),
		}
		switch {
		case errors.Is(applyErr, saga.ErrCannotRestore), c.Attempts >= alertAfter:
			// 手動対応が必要
			s.logger.Error("compensation still failing", fields...)
		default:
			s.logger.Warn("compensation failed, will retry", fields...)
		}
	}

	if st.Applied+st.Failed > 0 {
		s.logger.Info("reconcile sweep done", zap.Int("applied", st.Applied), zap.Int("failed", st.Failed))
	}
	return st, nil
}
