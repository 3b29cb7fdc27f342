package http

import (
	"net/http"
)

type DealHandler struct {
	catalog CatalogService
}

func NewDealHandler(catalog CatalogService) *DealHandler {
	return &DealHandler{catalog: catalog}
}

func (h *DealHandler) List(w http.ResponseWriter, r *http.Request) {
	deals, err := h.catalog.ListDeals(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toDealResponses(deals))
}

// Update changes the description and expiration of a deal
func (h *DealHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req DealRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	d, err := h.catalog.UpdateDeal(r.Context(), id, toDealInput(req))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toDealResponse(*d))
}
