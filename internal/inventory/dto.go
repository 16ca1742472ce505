package inventory

// ===== Requests =====

type CreateItemRequest struct {
	ItemID   string `json:"item_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Category string `json:"category,omitempty"`
	Location string `json:"location,omitempty"`
	Quantity int    `json:"quantity"` // 棚にある数. >= 0
}

type UpdateItemRequest struct {
	Name     *string `json:"name,omitempty"`
	Category *string `json:"category,omitempty"`
	Location *string `json:"location,omitempty"`
}

// AdjustRequest moves units onto (delta > 0) or off the shelf, e.g. after a
// stock take or when a tool is scrapped.
type AdjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

// ===== Listing helpers =====

type Page struct {
	Limit  int
	Offset int
}

type ItemQuery struct {
	Category string
	// Available lists only items with units on the shelf.
	Available bool
}
