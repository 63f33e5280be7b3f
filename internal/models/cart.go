package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LineKey identifies a cart or wishlist line.
type LineKey struct {
	Product primitive.ObjectID
	Size    string
	Color   string
}

// CartLine is a product variant snapshot taken when it was added. Price is
// never re-resolved afterwards.
type CartLine struct {
	Product  primitive.ObjectID `bson:"product" json:"product"`
	Name     string             `bson:"name" json:"name"`
	Image    string             `bson:"image" json:"image"`
	Price    float64            `bson:"price" json:"price"`
	Size     string             `bson:"size" json:"size"`
	Color    string             `bson:"color" json:"color"`
	Quantity int                `bson:"quantity" json:"quantity"`
}

func (l CartLine) Key() LineKey {
	return LineKey{Product: l.Product, Size: l.Size, Color: l.Color}
}

// Cart is the per-user cart document. Version increases by one on every
// persisted write and guards read-modify-write cycles.
type Cart struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	User       primitive.ObjectID `bson:"user" json:"user"`
	Lines      []CartLine         `bson:"products" json:"products"`
	TotalPrice float64            `bson:"totalPrice" json:"totalPrice"`
	Version    int64              `bson:"version" json:"version"`
	// CheckoutKey is the idempotency key of the checkout that emptied the
	// cart. Any later line change resets it.
	CheckoutKey string    `bson:"checkoutKey,omitempty" json:"-"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

func NewCart(user primitive.ObjectID) *Cart {
	return &Cart{User: user, Lines: []CartLine{}}
}

func (c *Cart) GetVersion() int64 { return c.Version }

func (c *Cart) IsEmpty() bool { return len(c.Lines) == 0 }

func (c *Cart) indexOf(key LineKey) int {
	for i, line := range c.Lines {
		if line.Key() == key {
			return i
		}
	}
	return -1
}

func (c *Cart) Line(key LineKey) (CartLine, bool) {
	if i := c.indexOf(key); i >= 0 {
		return c.Lines[i], true
	}
	return CartLine{}, false
}

// Increment adds quantity to the line with the same key, or appends line with
// that quantity.
func (c *Cart) Increment(line CartLine, quantity int) {
	if i := c.indexOf(line.Key()); i >= 0 {
		c.Lines[i].Quantity += quantity
	} else {
		line.Quantity = quantity
		c.Lines = append(c.Lines, line)
	}
	c.touch()
}

// SetQuantity reports false when no line matches key.
func (c *Cart) SetQuantity(key LineKey, quantity int) bool {
	i := c.indexOf(key)
	if i < 0 {
		return false
	}
	c.Lines[i].Quantity = quantity
	c.touch()
	return true
}

// Remove reports whether a line was removed.
func (c *Cart) Remove(key LineKey) bool {
	i := c.indexOf(key)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	c.touch()
	return true
}

func (c *Cart) Clear() {
	c.Lines = []CartLine{}
	c.touch()
}

// ClearForCheckout empties the cart and records the checkout key.
func (c *Cart) ClearForCheckout(key string) {
	c.Clear()
	c.CheckoutKey = key
}

func (c *Cart) touch() {
	c.TotalPrice = RecomputeTotal(c.Lines)
	c.CheckoutKey = ""
}

// Clone returns a deep copy.
func (c *Cart) Clone() *Cart {
	out := *c
	out.Lines = append([]CartLine{}, c.Lines...)
	return &out
}
