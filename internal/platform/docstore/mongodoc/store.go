// Package mongodoc keeps the lending documents in MongoDB collections.
package mongodoc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"toollend-backend/internal/platform/docstore"
)

const (
	collReceipts      = "receipts"
	collBorrowItems   = "borrow_items"
	collInventory     = "inventory"
	collCompensations = "compensations"
)

type Store struct {
	receipts      *mongo.Collection
	items         *mongo.Collection
	inventory     *mongo.Collection
	compensations *mongo.Collection

	lastSeq atomic.Int64
}

var _ docstore.Store = (*Store)(nil)

func New(database *mongo.Database) *Store {
	return &Store{
		receipts:      database.Collection(collReceipts),
		items:         database.Collection(collBorrowItems),
		inventory:     database.Collection(collInventory),
		compensations: database.Collection(collCompensations),
	}
}

// EnsureIndexes creates the indexes the queries rely on, including the
// unique index that rejects duplicate receipt references.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	plan := map[*mongo.Collection][]mongo.IndexModel{
		s.receipts: {
			{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "reference", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_date", Value: 1}}},
			{Keys: bson.D{{Key: "seq", Value: 1}}},
		},
		s.items: {
			{Keys: bson.D{{Key: "receipt_id", Value: 1}, {Key: "seq", Value: 1}}},
		},
		s.inventory: {
			{Keys: bson.D{{Key: "seq", Value: 1}}},
		},
		s.compensations: {
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		},
	}
	for coll, models := range plan {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// nextSeq hands out strictly increasing insertion stamps based on wall time.
func (s *Store) nextSeq() int64 {
	for {
		last := s.lastSeq.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if s.lastSeq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// ---- receipts ----

func (s *Store) CreateReceipt(ctx context.Context, r *docstore.Receipt) error {
	r.Seq = s.nextSeq()
	if _, err := s.receipts.InsertOne(ctx, r); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *Store) GetReceipt(ctx context.Context, id string) (*docstore.Receipt, error) {
	var r docstore.Receipt
	if err := s.receipts.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return nil, mapReadErr(err)
	}
	return &r, nil
}

func (s *Store) UpdateReceipt(ctx context.Context, r *docstore.Receipt) error {
	next := r.Version + 1
	res, err := s.receipts.UpdateOne(ctx, versioned(r.ID, r.Version), receiptUpdate(r, next))
	if err != nil {
		return mapWriteErr(err)
	}
	if res.MatchedCount == 0 {
		return docstore.ErrVersionConflict
	}
	r.Version = next
	return nil
}

func receiptUpdate(r *docstore.Receipt, version int64) bson.M {
	return bson.M{"$set": bson.M{
		"reference":           r.Reference,
		"item_ids":            r.ItemIDs,
		"item_quantities":     r.ItemQuantities,
		"returned_quantities": r.ReturnedQuantities,
		"due_date":            r.DueDate,
		"return_date":         r.ReturnDate,
		"lecturer":            r.Lecturer,
		"subject":             r.Subject,
		"notes":               r.Notes,
		"status":              r.Status,
		"version":             version,
		"updated_at":          r.UpdatedAt,
	}}
}

// versioned matches a document only while it still has the given version.
func versioned(id string, version int64) bson.M {
	return bson.M{"_id": id, "version": version}
}

func (s *Store) DeleteReceipt(ctx context.Context, id string) error {
	_, err := s.receipts.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *Store) ListReceipts(ctx context.Context, q docstore.ReceiptQuery) ([]docstore.Receipt, error) {
	dir := 1
	if q.Desc {
		dir = -1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: dir}}).
		SetLimit(int64(docstore.NormalizeLimit(q.Limit))).
		SetSkip(int64(q.Offset))

	cur, err := s.receipts.Find(ctx, receiptFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	out := []docstore.Receipt{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode receipts: %w", err)
	}
	return out, nil
}

func (s *Store) CountReceipts(ctx context.Context, q docstore.ReceiptQuery) (int, error) {
	n, err := s.receipts.CountDocuments(ctx, receiptFilter(q))
	if err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", err)
	}
	return int(n), nil
}

func receiptFilter(q docstore.ReceiptQuery) bson.M {
	f := bson.M{}
	if q.UserID != "" {
		f["user_id"] = q.UserID
	}
	if q.Status != "" {
		f["status"] = q.Status
	}
	if q.ReferencePrefix != "" {
		f["reference"] = primitive.Regex{Pattern: "^" + regexp.QuoteMeta(q.ReferencePrefix), Options: "i"}
	}
	if q.DueBefore != nil {
		f["due_date"] = bson.M{"$lt": *q.DueBefore}
	}
	return f
}

// ---- borrow items ----

func (s *Store) CreateBorrowItem(ctx context.Context, b *docstore.BorrowItem) error {
	b.Seq = s.nextSeq()
	if _, err := s.items.InsertOne(ctx, b); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *Store) GetBorrowItem(ctx context.Context, id string) (*docstore.BorrowItem, error) {
	var b docstore.BorrowItem
	if err := s.items.FindOne(ctx, bson.M{"_id": id}).Decode(&b); err != nil {
		return nil, mapReadErr(err)
	}
	return &b, nil
}

func (s *Store) UpdateBorrowItem(ctx context.Context, b *docstore.BorrowItem) error {
	next := b.Version + 1
	res, err := s.items.UpdateOne(ctx, versioned(b.ID, b.Version), bson.M{"$set": bson.M{
		"quantity":          b.Quantity,
		"returned_quantity": b.ReturnedQuantity,
		"status":            b.Status,
		"version":           next,
		"updated_at":        b.UpdatedAt,
	}})
	if err != nil {
		return mapWriteErr(err)
	}
	if res.MatchedCount == 0 {
		return docstore.ErrVersionConflict
	}
	b.Version = next
	return nil
}

func (s *Store) DeleteBorrowItem(ctx context.Context, id string) error {
	_, err := s.items.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *Store) ListBorrowItems(ctx context.Context, receiptID string) ([]docstore.BorrowItem, error) {
	cur, err := s.items.Find(ctx, bson.M{"receipt_id": receiptID},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list borrow items: %w", err)
	}
	out := []docstore.BorrowItem{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode borrow items: %w", err)
	}
	return out, nil
}

// ---- inventory ----

func (s *Store) CreateInventory(ctx context.Context, r *docstore.InventoryRecord) error {
	r.Seq = s.nextSeq()
	if _, err := s.inventory.InsertOne(ctx, r); err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (s *Store) GetInventory(ctx context.Context, itemID string) (*docstore.InventoryRecord, error) {
	var r docstore.InventoryRecord
	if err := s.inventory.FindOne(ctx, bson.M{"_id": itemID}).Decode(&r); err != nil {
		return nil, mapReadErr(err)
	}
	return &r, nil
}

func (s *Store) UpdateInventory(ctx context.Context, r *docstore.InventoryRecord) error {
	next := r.Version + 1
	res, err := s.inventory.UpdateOne(ctx,
		versioned(r.ItemID, r.Version),
		bson.M{"$set": bson.M{
			"name":               r.Name,
			"category":           r.Category,
			"location":           r.Location,
			"total_borrowed":     r.TotalBorrowed,
			"available_quantity": r.AvailableQuantity,
			"version":            next,
			"updated_at":         r.UpdatedAt,
		}})
	if err != nil {
		return mapWriteErr(err)
	}
	if res.MatchedCount == 0 {
		return docstore.ErrVersionConflict
	}
	r.Version = next
	return nil
}

func (s *Store) DeleteInventory(ctx context.Context, itemID string) error {
	res, err := s.inventory.DeleteOne(ctx, bson.M{"_id": itemID, "total_borrowed": bson.M{"$lte": 0}})
	if err != nil {
		return err
	}
	if res.DeletedCount > 0 {
		return nil
	}
	// nothing deleted: either gone already or still lent out
	n, err := s.inventory.CountDocuments(ctx, bson.M{"_id": itemID})
	if err != nil {
		return err
	}
	if n > 0 {
		return docstore.ErrInUse
	}
	return nil
}

func (s *Store) ListInventory(ctx context.Context, q docstore.InventoryQuery) ([]docstore.InventoryRecord, error) {
	f := bson.M{}
	if q.Category != "" {
		f["category"] = q.Category
	}
	if q.Available {
		f["available_quantity"] = bson.M{"$gt": 0}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(docstore.NormalizeLimit(q.Limit))).
		SetSkip(int64(q.Offset))

	cur, err := s.inventory.Find(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	out := []docstore.InventoryRecord{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode inventory: %w", err)
	}
	return out, nil
}

// ---- compensations ----

func (s *Store) SaveCompensation(ctx context.Context, c *docstore.Compensation) error {
	_, err := s.compensations.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save compensation %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) ListCompensations(ctx context.Context, limit int) ([]docstore.Compensation, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(docstore.NormalizeLimit(limit)))

	cur, err := s.compensations.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list compensations: %w", err)
	}
	out := []docstore.Compensation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode compensations: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteCompensation(ctx context.Context, id string) error {
	_, err := s.compensations.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func mapReadErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return docstore.ErrNotFound
	}
	return err
}

func mapWriteErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", docstore.ErrDuplicate, err)
	}
	return err
}
