package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Variant is one size/color configuration of a product. A nil Stock means
// the variant is not stock-tracked.
type Variant struct {
	Size        string  `bson:"size" json:"size"`
	Color       string  `bson:"color" json:"color"`
	Price       float64 `bson:"price" json:"price"`
	SaleEnabled bool    `bson:"saleEnabled" json:"saleEnabled"`
	SalePrice   float64 `bson:"salePrice" json:"salePrice"`
	Stock       *int    `bson:"stock,omitempty" json:"stock,omitempty"`
}

type Product struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Images    StringList         `bson:"images" json:"images"`
	Variants  []Variant          `bson:"variants" json:"variants"`
	IsActive  *bool              `bson:"isActive,omitempty" json:"isActive,omitempty"`
	IsDeleted bool               `bson:"isDeleted" json:"isDeleted,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// ProductVariant is the resolved snapshot the cart embeds.
type ProductVariant struct {
	ProductID primitive.ObjectID
	Name      string
	Image     string
	Size      string
	Color     string
	Price     float64
	Available bool
}

func (v ProductVariant) CartLine(quantity int) CartLine {
	return CartLine{
		Product:  v.ProductID,
		Name:     v.Name,
		Image:    v.Image,
		Price:    v.Price,
		Size:     v.Size,
		Color:    v.Color,
		Quantity: quantity,
	}
}

func (v ProductVariant) WishlistLine() WishlistLine {
	return WishlistLine{
		Product: v.ProductID,
		Name:    v.Name,
		Image:   v.Image,
		Price:   v.Price,
		Size:    v.Size,
		Color:   v.Color,
	}
}
