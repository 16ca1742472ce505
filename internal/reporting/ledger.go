// Package reporting turns the active borrows into a ledger for staff: a CSV
// download and a daily copy appended to Google Sheets.
package reporting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"toollend-backend/internal/lending/borrows"
	"toollend-backend/internal/platform/docstore"
)

// Source pages through active receipts; *borrows.Service implements it.
type Source interface {
	ActiveReceipts(ctx context.Context, fn func(docstore.Receipt) error) error
}

var _ Source = (*borrows.Service)(nil)

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Row is one line of the ledger.
type Row struct {
	Reference   string
	UserID      string
	Items       string // "drill-1 x2, mill-2 x1" (未返却分)
	Outstanding int
	BorrowedAt  time.Time
	DueDate     time.Time
	Overdue     bool
	Subject     string
}

var header = []string{"reference", "user_id", "items", "outstanding", "borrowed_at", "due_date", "overdue", "subject"}

func (r Row) strings() []string {
	return []string{
		r.Reference,
		r.UserID,
		r.Items,
		strconv.Itoa(r.Outstanding),
		r.BorrowedAt.Format(time.DateOnly),
		r.DueDate.Format(time.DateOnly),
		strconv.FormatBool(r.Overdue),
		r.Subject,
	}
}

type Service struct {
	src    Source
	sheets Appender
	rng    string
	clock  Clock
	logger *zap.Logger
}

type Option func(*Service)

func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithSheets enables ExportToSheets, appending to rng (e.g. "Ledger!A:I").
func WithSheets(a Appender, rng string) Option {
	return func(s *Service) { s.sheets, s.rng = a, rng }
}

func NewService(src Source, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{src: src, clock: realClock{}, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ledger lists every active receipt, or only the overdue ones.
func (s *Service) Ledger(ctx context.Context, overdueOnly bool) ([]Row, error) {
	now := s.clock.Now()
	var rows []Row
	err := s.src.ActiveReceipts(ctx, func(r docstore.Receipt) error {
		overdue := borrows.IsOverdue(r, now)
		if overdueOnly && !overdue {
			return nil
		}
		rows = append(rows, toRow(r, overdue))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect ledger: %w", err)
	}
	return rows, nil
}

// ExportToSheets appends today's ledger to the configured spreadsheet, each
// row prefixed with the export date. It returns the number of rows written.
func (s *Service) ExportToSheets(ctx context.Context) (int, error) {
	if s.sheets == nil {
		return 0, nil
	}
	rows, err := s.Ledger(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		s.logger.Info("ledger export skipped, nothing is borrowed")
		return 0, nil
	}

	day := s.clock.Now().Format(time.DateOnly)
	values := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		line := make([]interface{}, 0, len(header)+1)
		line = append(line, day)
		for _, v := range r.strings() {
			line = append(line, v)
		}
		values = append(values, line)
	}
	if err := s.sheets.AppendRows(ctx, s.rng, values); err != nil {
		return 0, err
	}
	s.logger.Info("ledger exported", zap.Int("rows", len(values)), zap.String("range", s.rng))
	return len(values), nil
}

func toRow(r docstore.Receipt, overdue bool) Row {
	var (
		items []string
		out   int
	)
	for i, id := range r.ItemIDs {
		n := r.Outstanding(i)
		if n <= 0 {
			continue
		}
		items = append(items, fmt.Sprintf("%s x%d", id, n))
		out += n
	}
	row := Row{
		Reference:   r.Reference,
		UserID:      r.UserID,
		Items:       strings.Join(items, ", "),
		Outstanding: out,
		BorrowedAt:  r.CreatedAt,
		DueDate:     r.DueDate,
		Overdue:     overdue,
	}
	if r.Subject != nil {
		row.Subject = *r.Subject
	}
	return row
}
