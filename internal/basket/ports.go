package basket

import (
	"context"

	"github.com/fjod/electronics-store/internal/domain"
)

// ProductLookup reads products. Implementations return copies the caller may mutate.
type ProductLookup interface {
	// FindProduct returns domain.ErrProductNotFound when id is unknown.
	FindProduct(ctx context.Context, id string) (*domain.Product, error)
	// FindProducts silently omits unknown ids.
	FindProducts(ctx context.Context, ids []string) ([]*domain.Product, error)
}

// BasketStore persists baskets together with their items.
type BasketStore interface {
	// FindBasket returns domain.ErrBasketNotFound when id is unknown.
	FindBasket(ctx context.Context, id string) (*domain.Basket, error)
	SaveBasket(ctx context.Context, basket *domain.Basket) (*domain.Basket, error)
	// SaveAndFlush writes the products' stock and the basket as one unit.
	// Both are visible to every later read once it returns.
	SaveAndFlush(ctx context.Context, basket *domain.Basket, products []*domain.Product) (*domain.Basket, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}
