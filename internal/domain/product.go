package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category groups products in the catalog
type Category string

const (
	CategoryLaptop     Category = "LAPTOP"
	CategoryPhone      Category = "PHONE"
	CategoryTablet     Category = "TABLET"
	CategoryTV         Category = "TV"
	CategoryAudio      Category = "AUDIO"
	CategoryAccessory  Category = "ACCESSORY"
	CategoryComponents Category = "COMPONENTS"
)

var knownCategories = map[Category]struct{}{
	CategoryLaptop:     {},
	CategoryPhone:      {},
	CategoryTablet:     {},
	CategoryTV:         {},
	CategoryAudio:      {},
	CategoryAccessory:  {},
	CategoryComponents: {},
}

// ParseCategory is case-insensitive and reports whether the category is known
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := knownCategories[c]
	return c, ok
}

// Product is a catalog entry together with its stock level.
// Stock is shared by every basket referencing the product.
type Product struct {
	ID          string
	Name        string
	Description string
	Category    Category
	Price       decimal.Decimal
	Stock       int
	Available   bool
	Deals       []Deal
	CreatedAt   time.Time
}

// CanReserve reports whether quantity units can be taken from stock
func (p *Product) CanReserve(quantity int) bool {
	return quantity > 0 && p.Stock >= quantity
}

// Reserve decrements stock by quantity. It returns false and leaves the
// product untouched when the stock cannot cover the request. Reaching zero
// marks the product unavailable; nothing here ever marks it available again.
func (p *Product) Reserve(quantity int) bool {
	if !p.CanReserve(quantity) {
		return false
	}
	p.Stock -= quantity
	if p.Stock == 0 {
		p.Available = false
	}
	return true
}

// Clone returns a deep copy so callers can mutate it without touching shared state
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	if p.Deals != nil {
		c.Deals = make([]Deal, len(p.Deals))
		copy(c.Deals, p.Deals)
	}
	return &c
}

// ProductFilter holds the optional criteria of a catalog search
type ProductFilter struct {
	Category  *Category
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Available *bool
}

// Matches reports whether p satisfies every criterion that is set
func (f ProductFilter) Matches(p *Product) bool {
	if f.Category != nil && p.Category != *f.Category {
		return false
	}
	if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	if f.Available != nil && p.Available != *f.Available {
		return false
	}
	return true
}

// Apply filters products and returns the requested zero-based page,
// ordered by name then id so pages are stable across calls.
func (f ProductFilter) Apply(products []*Product, page, size int) []*Product {
	matched := make([]*Product, 0, len(products))
	for _, p := range products {
		if f.Matches(p) {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})

	// compared by division so huge page or size values cannot overflow
	if page < 0 || size <= 0 || len(matched) == 0 || page > (len(matched)-1)/size {
		return []*Product{}
	}
	start := page * size
	end := len(matched)
	if size < end-start {
		end = start + size
	}
	return matched[start:end]
}
