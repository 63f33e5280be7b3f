// Package store declares the persistence contracts used by the services.
// Implementations live in mongostore (production) and memstore.
package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrVersionConflict = errors.New("store: version conflict")
	ErrDuplicateKey    = errors.New("store: duplicate key")
)

// Carts persists cart documents with compare-and-swap on Version.
//
// SaveCart writes cart only if the stored version equals cart.Version
// (zero meaning "no document yet") and bumps cart.Version on success.
// A lost race yields ErrVersionConflict.
type Carts interface {
	FindCart(ctx context.Context, user primitive.ObjectID) (*models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart) error
}

// Wishlists follows the same CAS contract as Carts.
type Wishlists interface {
	FindWishlist(ctx context.Context, user primitive.ObjectID) (*models.Wishlist, error)
	SaveWishlist(ctx context.Context, wishlist *models.Wishlist) error
}

type Orders interface {
	// InsertOrder returns ErrDuplicateKey when the idempotency key or the
	// gateway transaction code is already taken.
	InsertOrder(ctx context.Context, order *models.Order) error
	FindOrderByIdempotencyKey(ctx context.Context, user primitive.ObjectID, key string) (*models.Order, error)
	FindOrderByTxnCode(ctx context.Context, code string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, user primitive.ObjectID, page, limit int64) ([]models.Order, int64, error)
	// UpdatePaymentState moves the order from one state to another and
	// returns ErrVersionConflict if it is no longer in from.
	UpdatePaymentState(ctx context.Context, id primitive.ObjectID, from, to models.PaymentState, at time.Time) error
}

type Coupons interface {
	FindCouponByCode(ctx context.Context, normalizedCode string) (*models.Coupon, error)
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	InsertCoupon(ctx context.Context, coupon *models.Coupon) error
}

type Addresses interface {
	FindAddress(ctx context.Context, user primitive.ObjectID, addressID string) (*models.Address, error)
}

type Outbox interface {
	AppendEvent(ctx context.Context, event *models.OutboxEvent) error
	PendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkEventProcessed(ctx context.Context, id string, at time.Time) error
}

// Transactor runs fn atomically. Repository calls made with the ctx handed
// to fn join the transaction. fn may be invoked more than once.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Store interface {
	Carts
	Wishlists
	Orders
	Coupons
	Addresses
	Outbox
	Transactor
	Ping(ctx context.Context) error
}

// LoadCart returns the stored cart, or a fresh unsaved one.
func LoadCart(ctx context.Context, carts Carts, user primitive.ObjectID) (*models.Cart, error) {
	cart, err := carts.FindCart(ctx, user)
	if errors.Is(err, ErrNotFound) {
		return models.NewCart(user), nil
	}
	return cart, err
}

// LoadWishlist returns the stored wishlist, or a fresh unsaved one.
func LoadWishlist(ctx context.Context, wishlists Wishlists, user primitive.ObjectID) (*models.Wishlist, error) {
	wishlist, err := wishlists.FindWishlist(ctx, user)
	if errors.Is(err, ErrNotFound) {
		return models.NewWishlist(user), nil
	}
	return wishlist, err
}
