package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fjod/electronics-store/internal/basket"
	"github.com/fjod/electronics-store/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxQuantity = 99

// BasketService is the part of basket.Engine the handlers call
type BasketService interface {
	CreateBasket(ctx context.Context, items []domain.ItemRequest) (*basket.Admission, error)
	AddItems(ctx context.Context, basketID string, items []domain.ItemRequest) (*basket.Admission, error)
	RemoveItems(ctx context.Context, basketID string, itemIDs []string) (*domain.Basket, error)
	CalculateReceipt(ctx context.Context, basketID string) (*domain.Receipt, error)
	GetBasket(ctx context.Context, basketID string) (*domain.Basket, error)
}

type BasketHandler struct {
	baskets BasketService
}

func NewBasketHandler(baskets BasketService) *BasketHandler {
	return &BasketHandler{baskets: baskets}
}

func (h *BasketHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBasketRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validateItems(w, req.Items) {
		return
	}

	admission, err := h.baskets.CreateBasket(r.Context(), toItemRequests(req.Items))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toAdmissionResponse(admission))
}

func (h *BasketHandler) Get(w http.ResponseWriter, r *http.Request) {
	basketID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	b, err := h.baskets.GetBasket(r.Context(), basketID)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toBasketResponse(b))
}

func (h *BasketHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	basketID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var items []ItemRequestDTO
	if !decodeJSON(w, r, &items) {
		return
	}
	if !validateItems(w, items) {
		return
	}

	admission, err := h.baskets.AddItems(r.Context(), basketID, toItemRequests(items))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toAdmissionResponse(admission))
}

func (h *BasketHandler) DeleteItems(w http.ResponseWriter, r *http.Request) {
	basketID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var itemIDs []string
	if !decodeJSON(w, r, &itemIDs) {
		return
	}
	for _, id := range itemIDs {
		if _, err := uuid.Parse(id); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_item_id", fmt.Sprintf("item id %q is not a UUID", id))
			return
		}
	}

	b, err := h.baskets.RemoveItems(r.Context(), basketID, itemIDs)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toBasketResponse(b))
}

func (h *BasketHandler) CalculateReceipt(w http.ResponseWriter, r *http.Request) {
	basketID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	receipt, err := h.baskets.CalculateReceipt(r.Context(), basketID)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

func validateItems(w http.ResponseWriter, items []ItemRequestDTO) bool {
	for _, item := range items {
		if _, err := uuid.Parse(item.ProductID); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_product_id", fmt.Sprintf("product_id %q is not a UUID", item.ProductID))
			return false
		}
		if item.Quantity <= 0 || item.Quantity > maxQuantity {
			respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
			return false
		}
	}
	return true
}

// uuidParam reads a path parameter and writes a 400 unless it is a UUID
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := chi.URLParam(r, name)
	if _, err := uuid.Parse(value); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_"+name, fmt.Sprintf("%s %q is not a UUID", name, value))
		return "", false
	}
	return value, true
}
