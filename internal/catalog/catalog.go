// Package catalog resolves product variants to the price and display
// fields a cart line embeds.
package catalog

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

type Catalog interface {
	// Resolve fails with apperr.NotFound for an unknown product and with
	// apperr.VariantUnavailable when no sellable size/color matches.
	Resolve(ctx context.Context, productID primitive.ObjectID, size, color string) (models.ProductVariant, error)
}

// Func adapts a plain function to Catalog.
type Func func(ctx context.Context, productID primitive.ObjectID, size, color string) (models.ProductVariant, error)

func (f Func) Resolve(ctx context.Context, productID primitive.ObjectID, size, color string) (models.ProductVariant, error) {
	return f(ctx, productID, size, color)
}

// resolveVariant picks the exact size/color match from product.
func resolveVariant(product *models.Product, size, color string) (models.ProductVariant, error) {
	if product.IsDeleted || (product.IsActive != nil && !*product.IsActive) {
		return models.ProductVariant{}, apperr.New(apperr.KindVariantUnavailable, "product is not available")
	}

	for _, variant := range product.Variants {
		if variant.Size != size || variant.Color != color {
			continue
		}
		if variant.Stock != nil && *variant.Stock <= 0 {
			return models.ProductVariant{}, apperr.New(apperr.KindVariantUnavailable, "variant is out of stock")
		}
		return models.ProductVariant{
			ProductID: product.ID,
			Name:      product.Name,
			Image:     product.Images.First(),
			Size:      variant.Size,
			Color:     variant.Color,
			Price:     EffectivePrice(variant.Price, variant.SaleEnabled, variant.SalePrice),
			Available: true,
		}, nil
	}

	return models.ProductVariant{}, apperr.New(apperr.KindVariantUnavailable, "variant not available")
}
