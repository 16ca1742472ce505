package borrows

import (
	"errors"

	"toollend-backend/internal/platform/docstore"
)

// 貸出リクエスト. item_ids と item_quantities は同じ並び・同じ長さ
type CreateBorrowRequest struct {
	ItemIDs        []string `json:"item_ids"`
	ItemQuantities []int    `json:"item_quantities"`
	// "2006-01-02" or RFC3339
	DueDate  string  `json:"dueDate"`
	Lecturer *string `json:"lecturer,omitempty"`
	Subject  *string `json:"subject,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

// 返却リクエスト (部分返却対応)
type ReturnBorrowRequest struct {
	ItemIDs    []string `json:"item_ids"`
	Quantities []int    `json:"quantities"`
	Notes      *string  `json:"notes,omitempty"`
}

// BorrowUpdate changes receipt metadata; nil fields stay as they are.
type BorrowUpdate struct {
	DueDate  *string `json:"dueDate,omitempty"`
	Lecturer *string `json:"lecturer,omitempty"`
	Subject  *string `json:"subject,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

type ReceiptFilter struct {
	UserID          string
	Status          docstore.ReceiptStatus
	ReferencePrefix string
	// Overdue selects active receipts whose due date has passed.
	Overdue bool
	Limit   int
	Offset  int
}

// Result is the envelope every borrow endpoint answers with.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
}

func Succeed(msg string, data any) Result {
	return Result{Success: true, Message: msg, Data: data}
}

// Fail converts err into a failure result. Messages of unexpected errors are
// not exposed.
func Fail(err error) Result {
	var api *APIError
	if errors.As(err, &api) {
		return Result{Message: api.Message, Kind: api.Kind, ItemID: api.ItemID}
	}
	return Result{Message: MsgStoreFailure, Kind: KindStoreFailure}
}

type ReceiptList struct {
	Items  []docstore.Receipt `json:"items"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}
