package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BasketStatus represents the lifecycle state of a basket
type BasketStatus string

const (
	BasketStatusActive     BasketStatus = "ACTIVE"
	BasketStatusCheckedOut BasketStatus = "CHECKED_OUT"
)

// IsTerminal reports whether the basket can no longer be mutated
func (s BasketStatus) IsTerminal() bool {
	return s == BasketStatusCheckedOut
}

// String representation (for logging)
func (s BasketStatus) String() string {
	return string(s)
}

// Basket owns its items. Items reference products by id only.
//
// Version counts committed writes. A store accepts a write only when Version
// matches what it holds (zero for a new basket) and the stored basket is still
// ACTIVE; otherwise it returns ErrBasketConflict.
type Basket struct {
	ID        string
	Status    BasketStatus
	Items     []BasketItem
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BasketItem is one reserved line. Its quantity never changes after creation.
type BasketItem struct {
	ID        string
	BasketID  string
	ProductID string
	Quantity  int
	AddedAt   time.Time
}

// IsActive reports whether items can still be added or removed
func (b *Basket) IsActive() bool {
	return b.Status == BasketStatusActive
}

// RemoveItems drops every item whose id is in ids and returns how many were removed
func (b *Basket) RemoveItems(ids []string) int {
	remove := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}

	kept := b.Items[:0]
	removed := 0
	for _, item := range b.Items {
		if _, ok := remove[item.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	b.Items = kept
	return removed
}

// ProductIDs returns the distinct product ids referenced by the basket, in item order
func (b *Basket) ProductIDs() []string {
	seen := make(map[string]struct{}, len(b.Items))
	ids := make([]string, 0, len(b.Items))
	for _, item := range b.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// Clone returns a deep copy of the basket and its items
func (b *Basket) Clone() *Basket {
	if b == nil {
		return nil
	}
	c := *b
	c.Items = make([]BasketItem, len(b.Items))
	copy(c.Items, b.Items)
	return &c
}

// ItemRequest is one requested line of a create or add call
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// Receipt is derived from a basket on every request and never stored
type Receipt struct {
	BasketID string
	Lines    []ReceiptLine
	Total    decimal.Decimal
}

// ReceiptLine prices a single basket item
type ReceiptLine struct {
	ProductID     string
	ProductName   string
	Quantity      int
	OriginalPrice decimal.Decimal
	Discount      decimal.Decimal
	FinalPrice    decimal.Decimal
}
