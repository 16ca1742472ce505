// Package mysqldoc keeps the lending documents in MySQL tables. Array fields
// of a receipt live in JSON columns.
package mysqldoc

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	mysql "github.com/go-sql-driver/mysql"
	jsoniter "github.com/json-iterator/go"

	"toollend-backend/internal/platform/db"
	"toollend-backend/internal/platform/docstore"
)

const (
	dialectMySQL = "mysql"

	tableReceipts      = "borrow_receipts"
	tableBorrowItems   = "borrow_items"
	tableInventory     = "inventory"
	tableCompensations = "compensations"

	errDuplicateEntry = 1062
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed schema.sql
var schemaSQL string

var (
	receiptCols = []any{
		"id", "seq", "reference", "user_id", "item_ids", "item_quantities", "returned_quantities",
		"due_date", "return_date", "lecturer", "subject", "notes", "status", "version", "created_at", "updated_at",
	}
	borrowItemCols = []any{
		"id", "seq", "receipt_id", "user_id", "item_id", "quantity", "returned_quantity", "status", "version", "created_at", "updated_at",
	}
	inventoryCols = []any{
		"item_id", "seq", "name", "category", "location", "total_borrowed", "available_quantity", "version", "created_at", "updated_at",
	}
)

type Store struct {
	db *sql.DB
	qb goqu.DialectWrapper
}

var _ docstore.Store = (*Store)(nil)

func New(conn *sql.DB) *Store {
	return &Store{db: conn, qb: goqu.Dialect(dialectMySQL)}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// ---- receipts ----

func (s *Store) CreateReceipt(ctx context.Context, r *docstore.Receipt) error {
	rec, err := receiptRecord(r)
	if err != nil {
		return err
	}
	rec["id"] = r.ID
	rec["version"] = r.Version
	rec["created_at"] = r.CreatedAt

	q, args, err := s.qb.Insert(tableReceipts).Prepared(true).Rows(rec).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert receipt: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	r.Seq, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*docstore.Receipt, error) {
	q, args, err := s.qb.From(tableReceipts).Prepared(true).
		Select(receiptCols...).
		Where(goqu.C("id").Eq(id)).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select receipt: %w", err)
	}

	r, err := scanReceipt(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	return r, err
}

func (s *Store) UpdateReceipt(ctx context.Context, r *docstore.Receipt) error {
	rec, err := receiptRecord(r)
	if err != nil {
		return err
	}
	next := r.Version + 1
	rec["version"] = next
	q, args, err := s.qb.Update(tableReceipts).Prepared(true).
		Set(rec).
		Where(goqu.C("id").Eq(r.ID), goqu.C("version").Eq(r.Version)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update receipt: %w", err)
	}
	if err := s.execCAS(ctx, q, args); err != nil {
		return err
	}
	r.Version = next
	return nil
}

func (s *Store) DeleteReceipt(ctx context.Context, id string) error {
	return s.deleteByKey(ctx, tableReceipts, "id", id)
}

func (s *Store) ListReceipts(ctx context.Context, rq docstore.ReceiptQuery) ([]docstore.Receipt, error) {
	order := goqu.C("seq").Asc()
	if rq.Desc {
		order = goqu.C("seq").Desc()
	}
	ds := s.qb.From(tableReceipts).Prepared(true).
		Select(receiptCols...).
		Where(receiptWhere(rq)...).
		Order(order).
		Limit(uint(docstore.NormalizeLimit(rq.Limit)))
	if rq.Offset > 0 {
		ds = ds.Offset(uint(rq.Offset))
	}

	q, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list receipts: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []docstore.Receipt{}
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) CountReceipts(ctx context.Context, rq docstore.ReceiptQuery) (int, error) {
	q, args, err := s.qb.From(tableReceipts).Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(receiptWhere(rq)...).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count receipts: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func receiptWhere(rq docstore.ReceiptQuery) []exp.Expression {
	var where []exp.Expression
	if rq.UserID != "" {
		where = append(where, goqu.C("user_id").Eq(rq.UserID))
	}
	if rq.Status != "" {
		where = append(where, goqu.C("status").Eq(string(rq.Status)))
	}
	if rq.ReferencePrefix != "" {
		// ILike renders a plain LIKE on MySQL, which folds case under the default collation
		where = append(where, goqu.C("reference").ILike(escapeLike(rq.ReferencePrefix)+"%"))
	}
	if rq.DueBefore != nil {
		where = append(where, goqu.C("due_date").Lt(*rq.DueBefore))
	}
	return where
}

func receiptRecord(r *docstore.Receipt) (goqu.Record, error) {
	itemIDs, err := json.Marshal(r.ItemIDs)
	if err != nil {
		return nil, fmt.Errorf("encode item_ids: %w", err)
	}
	qty, err := json.Marshal(r.ItemQuantities)
	if err != nil {
		return nil, fmt.Errorf("encode item_quantities: %w", err)
	}
	returned, err := json.Marshal(r.ReturnedQuantities)
	if err != nil {
		return nil, fmt.Errorf("encode returned_quantities: %w", err)
	}
	return goqu.Record{
		"reference":           r.Reference,
		"user_id":             r.UserID,
		"item_ids":            string(itemIDs),
		"item_quantities":     string(qty),
		"returned_quantities": string(returned),
		"due_date":            r.DueDate,
		"return_date":         nullTime(r.ReturnDate),
		"lecturer":            nullString(r.Lecturer),
		"subject":             nullString(r.Subject),
		"notes":               nullString(r.Notes),
		"status":              string(r.Status),
		"updated_at":          r.UpdatedAt,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row scanner) (*docstore.Receipt, error) {
	var (
		r                        docstore.Receipt
		itemIDs, qty, returned   []byte
		returnDate               sql.NullTime
		lecturer, subject, notes sql.NullString
		status                   string
	)
	if err := row.Scan(
		&r.ID, &r.Seq, &r.Reference, &r.UserID, &itemIDs, &qty, &returned,
		&r.DueDate, &returnDate, &lecturer, &subject, &notes, &status, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemIDs, &r.ItemIDs); err != nil {
		return nil, fmt.Errorf("decode item_ids of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(qty, &r.ItemQuantities); err != nil {
		return nil, fmt.Errorf("decode item_quantities of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(returned, &r.ReturnedQuantities); err != nil {
		return nil, fmt.Errorf("decode returned_quantities of %s: %w", r.ID, err)
	}
	r.Status = docstore.ReceiptStatus(status)
	r.ReturnDate = timePtr(returnDate)
	r.Lecturer = stringPtr(lecturer)
	r.Subject = stringPtr(subject)
	r.Notes = stringPtr(notes)
	return &r, nil
}

// ---- borrow items ----

func (s *Store) CreateBorrowItem(ctx context.Context, b *docstore.BorrowItem) error {
	q, args, err := s.qb.Insert(tableBorrowItems).Prepared(true).Rows(goqu.Record{
		"id":                b.ID,
		"receipt_id":        b.ReceiptID,
		"user_id":           b.UserID,
		"item_id":           b.ItemID,
		"quantity":          b.Quantity,
		"returned_quantity": b.ReturnedQuantity,
		"status":            string(b.Status),
		"version":           b.Version,
		"created_at":        b.CreatedAt,
		"updated_at":        b.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert borrow item: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	b.Seq, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetBorrowItem(ctx context.Context, id string) (*docstore.BorrowItem, error) {
	q, args, err := s.qb.From(tableBorrowItems).Prepared(true).
		Select(borrowItemCols...).
		Where(goqu.C("id").Eq(id)).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select borrow item: %w", err)
	}
	b, err := scanBorrowItem(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	return b, err
}

func (s *Store) UpdateBorrowItem(ctx context.Context, b *docstore.BorrowItem) error {
	next := b.Version + 1
	q, args, err := s.qb.Update(tableBorrowItems).Prepared(true).
		Set(goqu.Record{
			"quantity":          b.Quantity,
			"returned_quantity": b.ReturnedQuantity,
			"status":            string(b.Status),
			"version":           next,
			"updated_at":        b.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(b.ID), goqu.C("version").Eq(b.Version)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update borrow item: %w", err)
	}
	if err := s.execCAS(ctx, q, args); err != nil {
		return err
	}
	b.Version = next
	return nil
}

func (s *Store) DeleteBorrowItem(ctx context.Context, id string) error {
	return s.deleteByKey(ctx, tableBorrowItems, "id", id)
}

func (s *Store) ListBorrowItems(ctx context.Context, receiptID string) ([]docstore.BorrowItem, error) {
	q, args, err := s.qb.From(tableBorrowItems).Prepared(true).
		Select(borrowItemCols...).
		Where(goqu.C("receipt_id").Eq(receiptID)).
		Order(goqu.C("seq").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list borrow items: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []docstore.BorrowItem{}
	for rows.Next() {
		b, err := scanBorrowItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBorrowItem(row scanner) (*docstore.BorrowItem, error) {
	var (
		b      docstore.BorrowItem
		status string
	)
	if err := row.Scan(&b.ID, &b.Seq, &b.ReceiptID, &b.UserID, &b.ItemID, &b.Quantity,
		&b.ReturnedQuantity, &status, &b.Version, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = docstore.ItemStatus(status)
	return &b, nil
}

// ---- inventory ----

func (s *Store) CreateInventory(ctx context.Context, r *docstore.InventoryRecord) error {
	q, args, err := s.qb.Insert(tableInventory).Prepared(true).Rows(goqu.Record{
		"item_id":            r.ItemID,
		"name":               r.Name,
		"category":           r.Category,
		"location":           r.Location,
		"total_borrowed":     r.TotalBorrowed,
		"available_quantity": r.AvailableQuantity,
		"version":            r.Version,
		"created_at":         r.CreatedAt,
		"updated_at":         r.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert inventory: %w", err)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	r.Seq, _ = res.LastInsertId()
	return nil
}

func (s *Store) GetInventory(ctx context.Context, itemID string) (*docstore.InventoryRecord, error) {
	q, args, err := s.qb.From(tableInventory).Prepared(true).
		Select(inventoryCols...).
		Where(goqu.C("item_id").Eq(itemID)).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select inventory: %w", err)
	}
	r, err := scanInventory(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	return r, err
}

func (s *Store) UpdateInventory(ctx context.Context, r *docstore.InventoryRecord) error {
	next := r.Version + 1
	q, args, err := s.qb.Update(tableInventory).Prepared(true).
		Set(goqu.Record{
			"name":               r.Name,
			"category":           r.Category,
			"location":           r.Location,
			"total_borrowed":     r.TotalBorrowed,
			"available_quantity": r.AvailableQuantity,
			"version":            next,
			"updated_at":         r.UpdatedAt,
		}).
		Where(goqu.C("item_id").Eq(r.ItemID), goqu.C("version").Eq(r.Version)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build update inventory: %w", err)
	}
	if err := s.execCAS(ctx, q, args); err != nil {
		return err
	}
	r.Version = next
	return nil
}

func (s *Store) DeleteInventory(ctx context.Context, itemID string) error {
	sel, selArgs, err := s.qb.From(tableInventory).Prepared(true).
		Select("total_borrowed").
		Where(goqu.C("item_id").Eq(itemID)).
		ForUpdate(exp.Wait).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build lock inventory: %w", err)
	}
	del, delArgs, err := s.qb.Delete(tableInventory).Prepared(true).
		Where(goqu.C("item_id").Eq(itemID)).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete inventory: %w", err)
	}

	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var borrowed int
		if err := tx.QueryRowContext(ctx, sel, selArgs...).Scan(&borrowed); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		if borrowed > 0 {
			return docstore.ErrInUse
		}
		_, err := tx.ExecContext(ctx, del, delArgs...)
		return err
	})
}

func (s *Store) ListInventory(ctx context.Context, iq docstore.InventoryQuery) ([]docstore.InventoryRecord, error) {
	var where []exp.Expression
	if iq.Category != "" {
		where = append(where, goqu.C("category").Eq(iq.Category))
	}
	if iq.Available {
		where = append(where, goqu.C("available_quantity").Gt(0))
	}
	ds := s.qb.From(tableInventory).Prepared(true).
		Select(inventoryCols...).
		Where(where...).
		Order(goqu.C("seq").Asc()).
		Limit(uint(docstore.NormalizeLimit(iq.Limit)))
	if iq.Offset > 0 {
		ds = ds.Offset(uint(iq.Offset))
	}

	q, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list inventory: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []docstore.InventoryRecord{}
	for rows.Next() {
		r, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanInventory(row scanner) (*docstore.InventoryRecord, error) {
	var r docstore.InventoryRecord
	if err := row.Scan(&r.ItemID, &r.Seq, &r.Name, &r.Category, &r.Location, &r.TotalBorrowed,
		&r.AvailableQuantity, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// ---- compensations ----

func (s *Store) SaveCompensation(ctx context.Context, c *docstore.Compensation) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode compensation %s: %w", c.ID, err)
	}
	q, args, err := s.qb.Insert(tableCompensations).Prepared(true).
		Rows(goqu.Record{
			"id":         c.ID,
			"kind":       string(c.Kind),
			"target_id":  c.TargetID,
			"payload":    string(payload),
			"attempts":   c.Attempts,
			"last_error": c.LastError,
			"created_at": c.CreatedAt,
			"updated_at": c.UpdatedAt,
		}).
		OnConflict(goqu.DoUpdate("id", goqu.Record{
			"payload":    string(payload),
			"attempts":   c.Attempts,
			"last_error": c.LastError,
			"updated_at": c.UpdatedAt,
		})).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build upsert compensation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *Store) ListCompensations(ctx context.Context, limit int) ([]docstore.Compensation, error) {
	q, args, err := s.qb.From(tableCompensations).Prepared(true).
		Select("payload").
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		Limit(uint(docstore.NormalizeLimit(limit))).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list compensations: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []docstore.Compensation{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c docstore.Compensation
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("decode compensation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCompensation(ctx context.Context, id string) error {
	return s.deleteByKey(ctx, tableCompensations, "id", id)
}

// ---- helpers ----

func (s *Store) deleteByKey(ctx context.Context, table, col, key string) error {
	q, args, err := s.qb.Delete(table).Prepared(true).Where(goqu.C(col).Eq(key)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete %s: %w", table, err)
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// execCAS runs a versioned update. With clientFoundRows a matched row
// counts even when nothing changed, so zero rows means a stale version or a
// missing record.
func (s *Store) execCAS(ctx context.Context, q string, args []any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff != 1 {
		return docstore.ErrVersionConflict
	}
	return nil
}

func mapWriteErr(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == errDuplicateEntry {
		return fmt.Errorf("%w: %s", docstore.ErrDuplicate, me.Message)
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if ns.Valid {
		v := ns.String
		return &v
	}
	return nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if nt.Valid {
		v := nt.Time
		return &v
	}
	return nil
}
