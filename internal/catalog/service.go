// Package catalog manages products and the deals attached to them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fjod/electronics-store/internal/domain"
	"github.com/fjod/electronics-store/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultPageSize = 10

var hundred = decimal.NewFromInt(100)

// NewProduct is the input of CreateProduct
type NewProduct struct {
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	Stock       int
}

// DealInput is one deal as supplied by a caller. Expiration is an ISO-8601
// timestamp; DiscountValue is nil when the caller left it out.
type DealInput struct {
	Description   string
	Expiration    string
	Type          string
	DiscountValue *decimal.Decimal
}

type Service struct {
	products ProductStore
	deals    DealStore
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(products ProductStore, deals DealStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		products: products,
		deals:    deals,
		logger:   log,
		now:      time.Now,
	}
}

func (s *Service) CreateProduct(ctx context.Context, in NewProduct) (*domain.Product, error) {
	category, ok := domain.ParseCategory(in.Category)
	if !ok {
		return nil, fmt.Errorf("unknown category %q: %w", in.Category, domain.ErrInvalidProduct)
	}
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return nil, fmt.Errorf("name is required: %w", domain.ErrInvalidProduct)
	case in.Price.IsNegative():
		return nil, fmt.Errorf("price must not be negative: %w", domain.ErrInvalidProduct)
	case in.Stock < 0:
		return nil, fmt.Errorf("stock must not be negative: %w", domain.ErrInvalidProduct)
	}

	created, err := s.products.CreateProduct(ctx, &domain.Product{
		Name:        name,
		Description: in.Description,
		Category:    category,
		Price:       in.Price,
		Stock:       in.Stock,
		Available:   in.Stock > 0,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	logger.WithTrace(ctx, s.logger).Info("product created", zap.String("product_id", created.ID))
	return created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.products.FindProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find product %s: %w", id, err)
	}
	return p, nil
}

// ListProducts returns the whole catalog ordered by name
func (s *Service) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	products, err := s.products.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	sortProducts(products)
	return products, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			logger.WithTrace(ctx, s.logger).Warn("product not found", zap.String("product_id", id))
		}
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	logger.WithTrace(ctx, s.logger).Info("product deleted", zap.String("product_id", id))
	return nil
}

// SearchProducts returns one zero-based page of the products matching filter.
// A non-positive size falls back to DefaultPageSize.
func (s *Service) SearchProducts(ctx context.Context, filter domain.ProductFilter, page, size int) ([]*domain.Product, error) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 0 {
		page = 0
	}
	products, err := s.products.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	return filter.Apply(products, page, size), nil
}

// AddDeals validates every input before anything is stored, then saves the
// deals and attaches them to the product.
func (s *Service) AddDeals(ctx context.Context, productID string, inputs []DealInput) (*domain.Product, error) {
	log := logger.WithTrace(ctx, s.logger)

	if _, err := s.products.FindProduct(ctx, productID); err != nil {
		log.Warn("product not found", zap.String("product_id", productID))
		return nil, fmt.Errorf("find product %s: %w", productID, err)
	}

	deals := make([]domain.Deal, 0, len(inputs))
	for i, in := range inputs {
		d, err := parseDeal(in)
		if err != nil {
			log.Warn("rejecting deal", zap.Int("index", i), zap.Error(err))
			return nil, fmt.Errorf("deal %d: %w", i, err)
		}
		deals = append(deals, d)
	}

	saved, err := s.deals.SaveDeals(ctx, deals)
	if err != nil {
		return nil, fmt.Errorf("save deals: %w", err)
	}
	ids := make([]string, 0, len(saved))
	for _, d := range saved {
		ids = append(ids, d.ID)
	}

	p, err := s.products.AttachDeals(ctx, productID, ids)
	if err != nil {
		return nil, fmt.Errorf("attach deals to %s: %w", productID, err)
	}

	log.Info("deals added", zap.String("product_id", productID), zap.Int("count", len(saved)))
	return p, nil
}

// ListDeals returns every deal ordered by expiration, soonest first
func (s *Service) ListDeals(ctx context.Context) ([]domain.Deal, error) {
	deals, err := s.deals.ListDeals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	sort.SliceStable(deals, func(i, j int) bool {
		if !deals[i].Expiration.Equal(deals[j].Expiration) {
			return deals[i].Expiration.Before(deals[j].Expiration)
		}
		return deals[i].ID < deals[j].ID
	})
	return deals, nil
}

// UpdateDeal replaces the description and expiration of a deal. Its type and
// value never change once created.
func (s *Service) UpdateDeal(ctx context.Context, id string, in DealInput) (*domain.Deal, error) {
	d, err := s.deals.FindDeal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find deal %s: %w", id, err)
	}

	expiration, err := domain.ParseExpiration(in.Expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration %q: %w", in.Expiration, domain.ErrInvalidDeal)
	}
	d.Description = in.Description
	d.Expiration = expiration

	saved, err := s.deals.SaveDeal(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("save deal %s: %w", id, err)
	}
	logger.WithTrace(ctx, s.logger).Info("deal updated", zap.String("deal_id", id))
	return saved, nil
}

// SeedDefaults loads DefaultProducts into an empty catalog and reports how
// many were created. A catalog that already has products is left alone.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	existing, err := s.products.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	now := s.now().UTC()
	for _, p := range DefaultProducts() {
		p.CreatedAt = now
		if _, err := s.products.CreateProduct(ctx, p); err != nil {
			return 0, fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	n := len(DefaultProducts())
	s.logger.Info("seeded default catalog", zap.Int("products", n))
	return n, nil
}

func parseDeal(in DealInput) (domain.Deal, error) {
	dealType, ok := domain.ParseDealType(in.Type)
	if !ok {
		return domain.Deal{}, fmt.Errorf("unknown deal type %q: %w", in.Type, domain.ErrInvalidDeal)
	}
	expiration, err := domain.ParseExpiration(in.Expiration)
	if err != nil {
		return domain.Deal{}, fmt.Errorf("invalid expiration %q: %w", in.Expiration, domain.ErrInvalidDeal)
	}
	if in.DiscountValue == nil {
		return domain.Deal{}, fmt.Errorf("discount value is required: %w", domain.ErrInvalidDeal)
	}
	value := *in.DiscountValue
	if value.IsNegative() {
		return domain.Deal{}, fmt.Errorf("discount value must not be negative: %w", domain.ErrInvalidDeal)
	}
	if dealType == domain.DealTypePercentage && value.GreaterThan(hundred) {
		return domain.Deal{}, fmt.Errorf("percentage above 100: %w", domain.ErrInvalidDeal)
	}

	return domain.Deal{
		Description:   in.Description,
		Expiration:    expiration,
		Type:          dealType,
		DiscountValue: value,
	}, nil
}

func sortProducts(products []*domain.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
}
