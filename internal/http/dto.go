package http

import (
	"time"

	"github.com/fjod/electronics-store/internal/basket"
	"github.com/fjod/electronics-store/internal/domain"
	"github.com/shopspring/decimal"
)

type ItemRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateBasketRequestDTO struct {
	Items []ItemRequestDTO `json:"items"`
}

type BasketItemResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

type BasketResponse struct {
	ID        string               `json:"id"`
	Status    string               `json:"status"`
	Items     []BasketItemResponse `json:"items"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

type SkippedItemResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type AdmissionResponse struct {
	Basket  BasketResponse        `json:"basket"`
	Added   []ItemRequestDTO      `json:"added"`
	Skipped []SkippedItemResponse `json:"skipped"`
}

type ReceiptLineResponse struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Quantity      int    `json:"quantity"`
	OriginalPrice string `json:"original_price"`
	Discount      string `json:"discount"`
	FinalPrice    string `json:"final_price"`
}

type ReceiptResponse struct {
	BasketID string                `json:"basket_id"`
	Lines    []ReceiptLineResponse `json:"lines"`
	Total    string                `json:"total"`
}

type DealResponse struct {
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	Expiration    time.Time `json:"expiration"`
	Type          string    `json:"type"`
	DiscountValue string    `json:"discount_value"`
}

type ProductResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Price       string         `json:"price"`
	Stock       int            `json:"stock"`
	Available   bool           `json:"available"`
	Deals       []DealResponse `json:"deals"`
	CreatedAt   time.Time      `json:"created_at"`
}

type CreateProductRequestDTO struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// DealRequestDTO accepts the discount value as a JSON number or string
type DealRequestDTO struct {
	Description   string           `json:"description"`
	Expiration    string           `json:"expiration"`
	Type          string           `json:"type"`
	DiscountValue *decimal.Decimal `json:"discount_value"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func toItemRequests(items []ItemRequestDTO) []domain.ItemRequest {
	out := make([]domain.ItemRequest, len(items))
	for i, item := range items {
		out[i] = domain.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return out
}

func toBasketResponse(b *domain.Basket) BasketResponse {
	resp := BasketResponse{
		ID:        b.ID,
		Status:    b.Status.String(),
		Items:     make([]BasketItemResponse, len(b.Items)),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	for i, item := range b.Items {
		resp.Items[i] = BasketItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
		}
	}
	return resp
}

func toAdmissionResponse(a *basket.Admission) AdmissionResponse {
	resp := AdmissionResponse{
		Basket:  toBasketResponse(a.Basket),
		Added:   make([]ItemRequestDTO, len(a.Added)),
		Skipped: make([]SkippedItemResponse, len(a.Skipped)),
	}
	for i, item := range a.Added {
		resp.Added[i] = ItemRequestDTO{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	for i, item := range a.Skipped {
		resp.Skipped[i] = SkippedItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Reason:    string(item.Reason),
		}
	}
	return resp
}

func toReceiptResponse(r *domain.Receipt) ReceiptResponse {
	resp := ReceiptResponse{
		BasketID: r.BasketID,
		Lines:    make([]ReceiptLineResponse, len(r.Lines)),
		Total:    money(r.Total),
	}
	for i, line := range r.Lines {
		resp.Lines[i] = ReceiptLineResponse{
			ProductID:     line.ProductID,
			ProductName:   line.ProductName,
			Quantity:      line.Quantity,
			OriginalPrice: money(line.OriginalPrice),
			Discount:      money(line.Discount),
			FinalPrice:    money(line.FinalPrice),
		}
	}
	return resp
}

func toDealResponse(d domain.Deal) DealResponse {
	return DealResponse{
		ID:            d.ID,
		Description:   d.Description,
		Expiration:    d.Expiration,
		Type:          string(d.Type),
		DiscountValue: d.DiscountValue.String(),
	}
}

func toDealResponses(deals []domain.Deal) []DealResponse {
	out := make([]DealResponse, len(deals))
	for i, d := range deals {
		out[i] = toDealResponse(d)
	}
	return out
}

func toProductResponse(p *domain.Product) ProductResponse {
	return ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    string(p.Category),
		Price:       money(p.Price),
		Stock:       p.Stock,
		Available:   p.Available,
		Deals:       toDealResponses(p.Deals),
		CreatedAt:   p.CreatedAt,
	}
}

func toProductResponses(products []*domain.Product) []ProductResponse {
	out := make([]ProductResponse, len(products))
	for i, p := range products {
		out[i] = toProductResponse(p)
	}
	return out
}
