// Package cart owns the per-user cart document. Every mutation is a
// read-modify-write guarded by the document version and retried when a
// concurrent request for the same user wins the race.
package cart

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/singleflight"

	"storefront/internal/apperr"
	"storefront/internal/cache"
	"storefront/internal/catalog"
	"storefront/internal/models"
	"storefront/internal/store"
)

const defaultMaxAttempts = 16

// Result is a cart after an operation. Changed is false when the call was
// an idempotent no-op.
type Result struct {
	Cart    *models.Cart
	Changed bool
}

type Service struct {
	carts       store.Carts
	catalog     catalog.Catalog
	cache       cache.Cache[*models.Cart]
	sfg         singleflight.Group
	maxAttempts int
	log         *logrus.Logger
}

func NewService(carts store.Carts, variants catalog.Catalog, snapshots cache.Cache[*models.Cart], logger *logrus.Logger) *Service {
	if snapshots == nil {
		snapshots = cache.Nop[*models.Cart]{}
	}
	return &Service{
		carts:       carts,
		catalog:     variants,
		cache:       snapshots,
		maxAttempts: defaultMaxAttempts,
		log:         logger,
	}
}

// AddOrIncrement adds quantity of the variant, merging with an existing line
// of the same key. The line price is the variant price at this moment.
func (s *Service) AddOrIncrement(ctx context.Context, user, productID primitive.ObjectID, size, color string, quantity int) (Result, error) {
	if quantity <= 0 {
		return Result{}, apperr.New(apperr.KindVariantUnavailable, "quantity must be at least 1")
	}

	variant, err := s.catalog.Resolve(ctx, productID, size, color)
	if err != nil {
		return Result{}, err
	}

	return s.mutate(ctx, user, func(c *models.Cart) (bool, error) {
		c.Increment(variant.CartLine(quantity), quantity)
		return true, nil
	})
}

// SetQuantity ignores non-positive quantities; removal goes through Remove.
func (s *Service) SetQuantity(ctx context.Context, user, productID primitive.ObjectID, size, color string, quantity int) (Result, error) {
	if quantity <= 0 {
		cart, err := s.Snapshot(ctx, user)
		if err != nil {
			return Result{}, err
		}
		return Result{Cart: cart}, nil
	}

	key := models.LineKey{Product: productID, Size: size, Color: color}
	return s.mutate(ctx, user, func(c *models.Cart) (bool, error) {
		line, ok := c.Line(key)
		if !ok {
			return false, apperr.New(apperr.KindLineNotFound, "product not found in cart")
		}
		if line.Quantity == quantity {
			return false, nil
		}
		c.SetQuantity(key, quantity)
		return true, nil
	})
}

// Remove is idempotent: removing an absent line returns the current cart.
func (s *Service) Remove(ctx context.Context, user, productID primitive.ObjectID, size, color string) (Result, error) {
	key := models.LineKey{Product: productID, Size: size, Color: color}
	return s.mutate(ctx, user, func(c *models.Cart) (bool, error) {
		return c.Remove(key), nil
	})
}

func (s *Service) Clear(ctx context.Context, user primitive.ObjectID) (Result, error) {
	return s.mutate(ctx, user, func(c *models.Cart) (bool, error) {
		if c.IsEmpty() {
			return false, nil
		}
		c.Clear()
		return true, nil
	})
}

// Snapshot returns the current cart, or an empty one for a new user.
// Concurrent snapshots for one user share a single load.
func (s *Service) Snapshot(ctx context.Context, user primitive.ObjectID) (*models.Cart, error) {
	key := user.Hex()

	v, err, _ := s.sfg.Do(key, func() (interface{}, error) {
		cached, err := s.cache.Get(ctx, key)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WithField("userId", key).Warnf("cart cache get failed: %v", err)
		}

		c, err := store.LoadCart(ctx, s.carts, user)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to load cart", err)
		}
		if c.Version > 0 {
			s.Remember(ctx, c)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Cart).Clone(), nil
}

// Remember pushes a committed cart into the snapshot cache. Callers that
// write carts outside this service use it after their commit.
func (s *Service) Remember(ctx context.Context, c *models.Cart) {
	if _, err := s.cache.Put(ctx, c.User.Hex(), c); err != nil {
		s.log.WithField("userId", c.User.Hex()).Warnf("cart cache put failed: %v", err)
		if err := s.cache.Delete(ctx, c.User.Hex()); err != nil {
			s.log.WithField("userId", c.User.Hex()).Errorf("cart cache delete failed: %v", err)
		}
	}
}

func (s *Service) mutate(ctx context.Context, user primitive.ObjectID, apply func(*models.Cart) (bool, error)) (Result, error) {
	for attempt := 1; ; attempt++ {
		c, err := store.LoadCart(ctx, s.carts, user)
		if err != nil {
			return Result{}, apperr.Wrap(apperr.KindInternal, "failed to load cart", err)
		}

		changed, err := apply(c)
		if err != nil {
			return Result{}, err
		}
		if !changed {
			return Result{Cart: c}, nil
		}

		err = s.carts.SaveCart(ctx, c)
		if errors.Is(err, store.ErrVersionConflict) {
			if attempt >= s.maxAttempts {
				s.log.WithField("userId", user.Hex()).Warn("cart update gave up after repeated conflicts")
				return Result{}, apperr.New(apperr.KindConflict, "cart was modified concurrently, please retry")
			}
			if err := ctx.Err(); err != nil {
				return Result{}, apperr.FromContext("cart store", err)
			}
			continue
		}
		if err != nil {
			return Result{}, apperr.Wrap(apperr.KindInternal, "failed to save cart", err)
		}

		s.Remember(ctx, c)
		return Result{Cart: c, Changed: true}, nil
	}
}
