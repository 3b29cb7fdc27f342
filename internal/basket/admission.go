package basket

import "github.com/fjod/electronics-store/internal/domain"

// SkipReason explains why a requested line was not admitted
type SkipReason string

const (
	SkipProductNotFound   SkipReason = "PRODUCT_NOT_FOUND"
	SkipInsufficientStock SkipReason = "INSUFFICIENT_STOCK"
	SkipInvalidQuantity   SkipReason = "INVALID_QUANTITY"
)

type SkippedItem struct {
	domain.ItemRequest
	Reason SkipReason
}

// Admission is the result of a create or add call. Every requested line ends
// up in exactly one of Added and Skipped.
type Admission struct {
	Basket  *domain.Basket
	Added   []domain.ItemRequest
	Skipped []SkippedItem
}

func (a *Admission) skip(item domain.ItemRequest, reason SkipReason) {
	a.Skipped = append(a.Skipped, SkippedItem{ItemRequest: item, Reason: reason})
}

// touchedProducts keeps the products reserved from in one call, in first-touch order
type touchedProducts struct {
	order []*domain.Product
	seen  map[string]struct{}
}

func newTouchedProducts() *touchedProducts {
	return &touchedProducts{seen: make(map[string]struct{})}
}

func (t *touchedProducts) add(p *domain.Product) {
	if _, ok := t.seen[p.ID]; ok {
		return
	}
	t.seen[p.ID] = struct{}{}
	t.order = append(t.order, p)
}

// depleted returns the touched products whose stock reached zero
func (t *touchedProducts) depleted() []*domain.Product {
	var out []*domain.Product
	for _, p := range t.order {
		if p.Stock == 0 {
			out = append(out, p)
		}
	}
	return out
}
