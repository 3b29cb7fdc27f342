package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/fjod/electronics-store/internal/catalog"
	"github.com/fjod/electronics-store/internal/domain"
	"github.com/shopspring/decimal"
)

// CatalogService is the part of catalog.Service the handlers call
type CatalogService interface {
	CreateProduct(ctx context.Context, in catalog.NewProduct) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	SearchProducts(ctx context.Context, filter domain.ProductFilter, page, size int) ([]*domain.Product, error)
	AddDeals(ctx context.Context, productID string, inputs []catalog.DealInput) (*domain.Product, error)
	ListDeals(ctx context.Context) ([]domain.Deal, error)
	UpdateDeal(ctx context.Context, id string, in catalog.DealInput) (*domain.Deal, error)
}

type ProductHandler struct {
	catalog CatalogService
}

func NewProductHandler(catalog CatalogService) *ProductHandler {
	return &ProductHandler{catalog: catalog}
}

func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponses(products))
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	p, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.catalog.CreateProduct(r.Context(), catalog.NewProduct{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search reads category, min_price, max_price, available, page and size
// from the query string. Every criterion is optional.
func (h *ProductHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.ProductFilter

	if v := q.Get("category"); v != "" {
		category, ok := domain.ParseCategory(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_category", "unknown category "+strconv.Quote(v))
			return
		}
		filter.Category = &category
	}
	for _, bound := range []struct {
		name string
		dst  **decimal.Decimal
	}{
		{"min_price", &filter.MinPrice},
		{"max_price", &filter.MaxPrice},
	} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_"+bound.name, bound.name+" must be a number")
			return
		}
		*bound.dst = &d
	}
	if v := q.Get("available"); v != "" {
		available, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_available", "available must be true or false")
			return
		}
		filter.Available = &available
	}

	page, ok := intQuery(w, r, "page", 0)
	if !ok {
		return
	}
	size, ok := intQuery(w, r, "size", catalog.DefaultPageSize)
	if !ok {
		return
	}

	products, err := h.catalog.SearchProducts(r.Context(), filter, page, size)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponses(products))
}

func (h *ProductHandler) AddDeals(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var deals []DealRequestDTO
	if !decodeJSON(w, r, &deals) {
		return
	}

	p, err := h.catalog.AddDeals(r.Context(), id, toDealInputs(deals))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(p))
}

func intQuery(w http.ResponseWriter, r *http.Request, name string, defaultValue int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultValue, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func toDealInputs(deals []DealRequestDTO) []catalog.DealInput {
	out := make([]catalog.DealInput, len(deals))
	for i, d := range deals {
		out[i] = toDealInput(d)
	}
	return out
}

func toDealInput(d DealRequestDTO) catalog.DealInput {
	return catalog.DealInput{
		Description:   d.Description,
		Expiration:    d.Expiration,
		Type:          d.Type,
		DiscountValue: d.DiscountValue,
	}
}
