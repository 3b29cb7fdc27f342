package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/electronics-store/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore keeps products, deals and baskets in maps keyed by id.
// Products reference deals by id so a deal updated once is seen by every
// product it is attached to. Reads hand out deep copies.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[string]*domain.Product // deals are not stored here
	productDeals map[string][]string        // productID -> deal ids
	deals        map[string]*domain.Deal
	baskets      map[string]*domain.Basket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]*domain.Product),
		productDeals: make(map[string][]string),
		deals:        make(map[string]*domain.Deal),
		baskets:      make(map[string]*domain.Basket),
	}
}

// FindProduct returns a copy of the product with its deals attached
func (s *MemoryStore) FindProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return s.hydrate(p), nil
}

// FindProducts returns the products that exist, in the order of ids
func (s *MemoryStore) FindProducts(_ context.Context, ids []string) ([]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := s.products[id]; ok {
			result = append(result, s.hydrate(p))
		}
	}
	return result, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, s.hydrate(p))
	}
	return result, nil
}

// CreateProduct stores p. An empty id is replaced with a new UUID.
func (s *MemoryStore) CreateProduct(_ context.Context, p *domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := p.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if _, exists := s.products[stored.ID]; exists {
		return nil, fmt.Errorf("product %s already exists", stored.ID)
	}

	var dealIDs []string
	for _, d := range stored.Deals {
		if _, ok := s.deals[d.ID]; !ok {
			return nil, fmt.Errorf("deal %s: %w", d.ID, domain.ErrDealNotFound)
		}
		dealIDs = append(dealIDs, d.ID)
	}
	stored.Deals = nil
	s.products[stored.ID] = stored
	s.productDeals[stored.ID] = dealIDs

	return s.hydrate(stored), nil
}

func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(s.products, id)
	delete(s.productDeals, id)
	return nil
}

// AttachDeals links existing deals to a product. Already attached deals are kept once.
func (s *MemoryStore) AttachDeals(_ context.Context, productID string, dealIDs []string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	for _, id := range dealIDs {
		if _, ok := s.deals[id]; !ok {
			return nil, fmt.Errorf("deal %s: %w", id, domain.ErrDealNotFound)
		}
	}
	s.productDeals[productID] = appendUnique(s.productDeals[productID], dealIDs...)
	return s.hydrate(p), nil
}

// SaveDeal inserts or replaces a deal. An empty id is replaced with a new UUID.
func (s *MemoryStore) SaveDeal(_ context.Context, d *domain.Deal) (*domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *d
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	s.deals[stored.ID] = &stored

	out := stored
	return &out, nil
}

// SaveDeals stores every deal under one lock
func (s *MemoryStore) SaveDeals(_ context.Context, deals []domain.Deal) ([]domain.Deal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make([]domain.Deal, 0, len(deals))
	for _, d := range deals {
		stored := d
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		s.deals[stored.ID] = &stored
		saved = append(saved, stored)
	}
	return saved, nil
}

func (s *MemoryStore) FindDeal(_ context.Context, id string) (*domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deals[id]
	if !ok {
		return nil, domain.ErrDealNotFound
	}
	out := *d
	return &out, nil
}

func (s *MemoryStore) ListDeals(_ context.Context) ([]domain.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		result = append(result, *d)
	}
	return result, nil
}

func (s *MemoryStore) FindBasket(_ context.Context, id string) (*domain.Basket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.baskets[id]
	if !ok {
		return nil, domain.ErrBasketNotFound
	}
	return b.Clone(), nil
}

// SaveBasket inserts or replaces the basket and its items
func (s *MemoryStore) SaveBasket(_ context.Context, b *domain.Basket) (*domain.Basket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBasketVersion(b); err != nil {
		return nil, err
	}
	return s.putBasket(b), nil
}

// SaveAndFlush writes stock levels of products and the basket in one critical
// section. Nothing is written if any product is unknown or below zero.
func (s *MemoryStore) SaveAndFlush(_ context.Context, b *domain.Basket, products []*domain.Product) (*domain.Basket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkBasketVersion(b); err != nil {
		return nil, err
	}
	for _, p := range products {
		if _, ok := s.products[p.ID]; !ok {
			return nil, fmt.Errorf("product %s: %w", p.ID, domain.ErrProductNotFound)
		}
		if p.Stock < 0 {
			return nil, fmt.Errorf("product %s: negative stock %d", p.ID, p.Stock)
		}
	}
	for _, p := range products {
		stored := s.products[p.ID]
		stored.Stock = p.Stock
		stored.Available = p.Available
	}
	return s.putBasket(b), nil
}

// checkBasketVersion rejects a write based on a stale read or aimed at a
// checked-out basket. Callers hold s.mu.
func (s *MemoryStore) checkBasketVersion(b *domain.Basket) error {
	stored, ok := s.baskets[b.ID]
	if !ok {
		return nil
	}
	if stored.Version != b.Version || !stored.IsActive() {
		return fmt.Errorf("basket %s at version %d: %w", b.ID, b.Version, domain.ErrBasketConflict)
	}
	return nil
}

// putBasket stores a copy of b under the next version. Callers hold s.mu.
func (s *MemoryStore) putBasket(b *domain.Basket) *domain.Basket {
	stored := b.Clone()
	stored.Version++
	s.baskets[b.ID] = stored
	return stored.Clone()
}

// hydrate copies p and resolves its deal ids. Callers hold s.mu.
func (s *MemoryStore) hydrate(p *domain.Product) *domain.Product {
	out := p.Clone()
	ids := s.productDeals[p.ID]
	out.Deals = make([]domain.Deal, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.deals[id]; ok {
			out.Deals = append(out.Deals, *d)
		}
	}
	return out
}

func appendUnique(ids []string, more ...string) []string {
	seen := make(map[string]struct{}, len(ids)+len(more))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range more {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
