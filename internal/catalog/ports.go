package catalog

import (
	"context"

	"github.com/fjod/electronics-store/internal/domain"
)

// ProductStore persists catalog entries. Reads return copies with deals attached.
type ProductStore interface {
	CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error)
	FindProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	// AttachDeals links existing deals to a product and returns the updated product.
	AttachDeals(ctx context.Context, productID string, dealIDs []string) (*domain.Product, error)
}

type DealStore interface {
	// SaveDeal inserts or replaces a deal, assigning an id when empty.
	SaveDeal(ctx context.Context, d *domain.Deal) (*domain.Deal, error)
	// SaveDeals stores all deals or none.
	SaveDeals(ctx context.Context, deals []domain.Deal) ([]domain.Deal, error)
	FindDeal(ctx context.Context, id string) (*domain.Deal, error)
	ListDeals(ctx context.Context) ([]domain.Deal, error)
}
