package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// WishlistLine has the shape of a CartLine with an implicit quantity of 1.
type WishlistLine struct {
	Product primitive.ObjectID `bson:"product" json:"product"`
	Name    string             `bson:"name" json:"name"`
	Image   string             `bson:"image" json:"image"`
	Price   float64            `bson:"price" json:"price"`
	Size    string             `bson:"size" json:"size"`
	Color   string             `bson:"color" json:"color"`
}

func (l WishlistLine) Key() LineKey {
	return LineKey{Product: l.Product, Size: l.Size, Color: l.Color}
}

// CartLine converts the wishlist entry into a cart line of the given quantity.
func (l WishlistLine) CartLine(quantity int) CartLine {
	return CartLine{
		Product:  l.Product,
		Name:     l.Name,
		Image:    l.Image,
		Price:    l.Price,
		Size:     l.Size,
		Color:    l.Color,
		Quantity: quantity,
	}
}

type Wishlist struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	User      primitive.ObjectID `bson:"user" json:"user"`
	Lines     []WishlistLine     `bson:"products" json:"products"`
	Version   int64              `bson:"version" json:"version"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func NewWishlist(user primitive.ObjectID) *Wishlist {
	return &Wishlist{User: user, Lines: []WishlistLine{}}
}

func (w *Wishlist) GetVersion() int64 { return w.Version }

func (w *Wishlist) indexOf(key LineKey) int {
	for i, line := range w.Lines {
		if line.Key() == key {
			return i
		}
	}
	return -1
}

func (w *Wishlist) Line(key LineKey) (WishlistLine, bool) {
	if i := w.indexOf(key); i >= 0 {
		return w.Lines[i], true
	}
	return WishlistLine{}, false
}

// Add reports false when the key is already present.
func (w *Wishlist) Add(line WishlistLine) bool {
	if w.indexOf(line.Key()) >= 0 {
		return false
	}
	w.Lines = append(w.Lines, line)
	return true
}

func (w *Wishlist) Remove(key LineKey) bool {
	i := w.indexOf(key)
	if i < 0 {
		return false
	}
	w.Lines = append(w.Lines[:i], w.Lines[i+1:]...)
	return true
}

func (w *Wishlist) Clone() *Wishlist {
	out := *w
	out.Lines = append([]WishlistLine{}, w.Lines...)
	return &out
}
