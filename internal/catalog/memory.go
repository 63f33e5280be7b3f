package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

// MemoryCatalog serves products held in process. It backs the memory store
// backend and tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[primitive.ObjectID]models.Product
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: make(map[primitive.ObjectID]models.Product)}
}

// Put validates and stores product, assigning an id when it has none.
func (m *MemoryCatalog) Put(product models.Product) (primitive.ObjectID, error) {
	if strings.TrimSpace(product.Name) == "" {
		return primitive.NilObjectID, fmt.Errorf("name is required")
	}
	for _, variant := range product.Variants {
		if err := ValidateSaleFields(variant.Price, variant.SaleEnabled, variant.SalePrice); err != nil {
			return primitive.NilObjectID, fmt.Errorf("variant %s/%s: %w", variant.Size, variant.Color, err)
		}
	}
	if product.ID.IsZero() {
		product.ID = primitive.NewObjectID()
	}
	product.Variants = append([]models.Variant{}, product.Variants...)

	m.mu.Lock()
	m.products[product.ID] = product
	m.mu.Unlock()
	return product.ID, nil
}

func (m *MemoryCatalog) Resolve(ctx context.Context, productID primitive.ObjectID, size, color string) (models.ProductVariant, error) {
	if err := ctx.Err(); err != nil {
		return models.ProductVariant{}, err
	}

	m.mu.RLock()
	product, ok := m.products[productID]
	m.mu.RUnlock()
	if !ok || product.IsDeleted {
		return models.ProductVariant{}, apperr.New(apperr.KindNotFound, "product not found")
	}
	return resolveVariant(&product, size, color)
}
