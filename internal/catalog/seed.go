package catalog

import (
	"github.com/fjod/electronics-store/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultProducts is the starter catalog. The SQL migrations seed the same rows.
func DefaultProducts() []*domain.Product {
	return []*domain.Product{
		{
			ID:          "3f6c1a52-8a8e-4c49-9f2e-6f1d2b7a9c01",
			Name:        "UltraBook Pro 14",
			Description: "14-inch laptop, 16GB RAM, 512GB SSD",
			Category:    domain.CategoryLaptop,
			Price:       decimal.RequireFromString("1299.99"),
			Stock:       10,
			Available:   true,
		},
		{
			ID:          "7b2d9e40-1c3f-4a8b-b5d6-2e9f0a1b3c02",
			Name:        "Pixel Phone 8",
			Description: "6.2-inch smartphone, 128GB",
			Category:    domain.CategoryPhone,
			Price:       decimal.RequireFromString("699.00"),
			Stock:       25,
			Available:   true,
		},
		{
			ID:          "c91e5f7a-3d2b-4e6c-8a9f-0b1c2d3e4f03",
			Name:        "Tab S9",
			Description: "11-inch tablet with stylus",
			Category:    domain.CategoryTablet,
			Price:       decimal.RequireFromString("849.50"),
			Stock:       8,
			Available:   true,
		},
		{
			ID:          "e4a7b3c1-9f8d-4b2a-a6e5-1c0d9e8f7a04",
			Name:        "NoiseFree Headphones",
			Description: "Over-ear wireless headphones with ANC",
			Category:    domain.CategoryAudio,
			Price:       decimal.RequireFromString("249.99"),
			Stock:       40,
			Available:   true,
		},
		{
			ID:          "0d5f8b2e-6a1c-4d3e-9b7a-8c2f1e0d5b05",
			Name:        "USB-C Charger 65W",
			Description: "GaN wall charger",
			Category:    domain.CategoryAccessory,
			Price:       decimal.RequireFromString("39.90"),
			Stock:       100,
			Available:   true,
		},
	}
}
