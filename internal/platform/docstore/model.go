package docstore

import "time"

type ReceiptStatus string

const (
	ReceiptActive   ReceiptStatus = "active"
	ReceiptReturned ReceiptStatus = "returned"
)

type ItemStatus string

const (
	ItemBorrowed ItemStatus = "borrowed"
	ItemReturned ItemStatus = "returned"
)

// Receipt is one borrow transaction. ItemIDs, ItemQuantities and
// ReturnedQuantities are index aligned and always the same length.
type Receipt struct {
	ID                 string        `json:"id" bson:"_id"`
	Reference          string        `json:"reference" bson:"reference"`
	UserID             string        `json:"user_id" bson:"user_id"`
	ItemIDs            []string      `json:"item_ids" bson:"item_ids"`
	ItemQuantities     []int         `json:"item_quantities" bson:"item_quantities"`
	ReturnedQuantities []int         `json:"returned_quantities" bson:"returned_quantities"`
	DueDate            time.Time     `json:"due_date" bson:"due_date"`
	ReturnDate         *time.Time    `json:"return_date,omitempty" bson:"return_date,omitempty"`
	Lecturer           *string       `json:"lecturer,omitempty" bson:"lecturer,omitempty"`
	Subject            *string       `json:"subject,omitempty" bson:"subject,omitempty"`
	Notes              *string       `json:"notes,omitempty" bson:"notes,omitempty"`
	Status             ReceiptStatus `json:"status" bson:"status"`
	Version            int64         `json:"version" bson:"version"`
	CreatedAt          time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" bson:"updated_at"`
	Seq                int64         `json:"-" bson:"seq"`
}

// Outstanding returns how many units of the item at index i are still out.
func (r *Receipt) Outstanding(i int) int {
	return r.ItemQuantities[i] - r.ReturnedQuantities[i]
}

// IndexOf returns the position of itemID in ItemIDs, or -1.
func (r *Receipt) IndexOf(itemID string) int {
	for i, id := range r.ItemIDs {
		if id == itemID {
			return i
		}
	}
	return -1
}

// FullyReturned reports whether every borrowed unit has come back.
func (r *Receipt) FullyReturned() bool {
	for i := range r.ItemIDs {
		if r.Outstanding(i) > 0 {
			return false
		}
	}
	return true
}

func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	c := *r
	c.ItemIDs = append([]string(nil), r.ItemIDs...)
	c.ItemQuantities = append([]int(nil), r.ItemQuantities...)
	c.ReturnedQuantities = append([]int(nil), r.ReturnedQuantities...)
	c.ReturnDate = clonePtr(r.ReturnDate)
	c.Lecturer = clonePtr(r.Lecturer)
	c.Subject = clonePtr(r.Subject)
	c.Notes = clonePtr(r.Notes)
	return &c
}

// BorrowItem is the per-item line of a receipt.
type BorrowItem struct {
	ID               string     `json:"id" bson:"_id"`
	ReceiptID        string     `json:"receipt_id" bson:"receipt_id"`
	UserID           string     `json:"user_id" bson:"user_id"`
	ItemID           string     `json:"item_id" bson:"item_id"`
	Quantity         int        `json:"quantity" bson:"quantity"`
	ReturnedQuantity int        `json:"returned_quantity" bson:"returned_quantity"`
	Status           ItemStatus `json:"status" bson:"status"`
	Version          int64      `json:"version" bson:"version"`
	CreatedAt        time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" bson:"updated_at"`
	Seq              int64      `json:"-" bson:"seq"`
}

func (b *BorrowItem) Clone() *BorrowItem {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// InventoryRecord holds the stock counters of one item. AvailableQuantity
// never goes below zero. Version is bumped by every successful write.
type InventoryRecord struct {
	ItemID            string    `json:"item_id" bson:"_id"`
	Name              string    `json:"name" bson:"name"`
	Category          string    `json:"category,omitempty" bson:"category,omitempty"`
	Location          string    `json:"location,omitempty" bson:"location,omitempty"`
	TotalBorrowed     int       `json:"total_borrowed" bson:"total_borrowed"`
	AvailableQuantity int       `json:"available_quantity" bson:"available_quantity"`
	Version           int64     `json:"version" bson:"version"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" bson:"updated_at"`
	Seq               int64     `json:"-" bson:"seq"`
}

func (r *InventoryRecord) Clone() *InventoryRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

type CompensationKind string

const (
	CompDeleteReceipt     CompensationKind = "delete_receipt"
	CompDeleteBorrowItem  CompensationKind = "delete_borrow_item"
	CompRestoreInventory  CompensationKind = "restore_inventory"
	CompRestoreReceipt    CompensationKind = "restore_receipt"
	CompRestoreBorrowItem CompensationKind = "restore_borrow_item"
)

// Compensation undoes one forward step. Entries that could not be applied
// during a rollback are journalled and replayed by the reconciliation sweep.
type Compensation struct {
	ID       string           `json:"id" bson:"_id"`
	Kind     CompensationKind `json:"kind" bson:"kind"`
	TargetID string           `json:"target_id" bson:"target_id"`

	// restore_inventory: Previous is the snapshot taken before the forward
	// write, Applied the values that write left behind.
	Previous *InventoryRecord `json:"previous,omitempty" bson:"previous,omitempty"`
	Applied  *InventoryRecord `json:"applied,omitempty" bson:"applied,omitempty"`

	// restore_receipt and restore_borrow_item: the record before the forward
	// write and as that write left it.
	Receipt           *Receipt    `json:"receipt,omitempty" bson:"receipt,omitempty"`
	ReceiptApplied    *Receipt    `json:"receipt_applied,omitempty" bson:"receipt_applied,omitempty"`
	BorrowItem        *BorrowItem `json:"borrow_item,omitempty" bson:"borrow_item,omitempty"`
	BorrowItemApplied *BorrowItem `json:"borrow_item_applied,omitempty" bson:"borrow_item_applied,omitempty"`

	Attempts  int       `json:"attempts" bson:"attempts"`
	LastError string    `json:"last_error,omitempty" bson:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
