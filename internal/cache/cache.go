package cache

import (
	"context"
	"errors"

	"github.com/fjod/electronics-store/internal/domain"
)

// BasketCache holds read-through copies of baskets keyed by basket id.
type BasketCache interface {
	Get(ctx context.Context, basketID string) (*domain.Basket, error)
	Set(ctx context.Context, basketID string, basket *domain.Basket) error
	Delete(ctx context.Context, basketID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NoopCache always misses.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*domain.Basket, error) { return nil, ErrCacheMiss }

func (NoopCache) Set(context.Context, string, *domain.Basket) error { return nil }

func (NoopCache) Delete(context.Context, string) error { return nil }
