// Package wishlist owns the per-user wishlist and the move-to-cart
// transfer, which commits the wishlist and cart writes together.
package wishlist

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

// Repository is the slice of the store the wishlist needs.
type Repository interface {
	store.Wishlists
	store.Carts
	store.Transactor
}

// CartSnapshots receives carts written by MoveToCart so the cart cache
// never lags behind the store.
type CartSnapshots interface {
	Remember(ctx context.Context, c *models.Cart)
}

type Result struct {
	Wishlist *models.Wishlist
	Changed  bool
}

type MoveResult struct {
	Cart     *models.Cart
	Wishlist *models.Wishlist
}

type Service struct {
	repo        Repository
	catalog     catalog.Catalog
	cache       cache.Cache[*models.Wishlist]
	carts       CartSnapshots
	sfg         singleflight.Group
	maxAttempts int
	log         *logrus.Logger
}

func NewService(repo Repository, variants catalog.Catalog, snapshots cache.Cache[*models.Wishlist], carts CartSnapshots, logger *logrus.Logger) *Service {
	if snapshots == nil {
		snapshots = cache.Nop[*models.Wishlist]{}
	}
	return &Service{
		repo:        repo,
		catalog:     variants,
		cache:       snapshots,
		carts:       carts,
		maxAttempts: defaultMaxAttempts,
		log:         logger,
	}
}

// Add is idempotent: adding a key already present changes nothing.
// A key already present is reported unchanged without consulting the
// catalog, so a sold-out variant can still be re-added.
func (s *Service) Add(ctx context.Context, user, productID primitive.ObjectID, size, color string) (Result, error) {
	current, err := store.LoadWishlist(ctx, s.repo, user)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "failed to load wishlist", err)
	}
	if _, ok := current.Line(models.LineKey{Product: productID, Size: size, Color: color}); ok {
		return Result{Wishlist: current}, nil
	}

	variant, err := s.catalog.Resolve(ctx, productID, size, color)
	if err != nil {
		return Result{}, err
	}

	return s.mutate(ctx, user, func(w *models.Wishlist) bool {
		return w.Add(variant.WishlistLine())
	})
}

// Remove is idempotent.
func (s *Service) Remove(ctx context.Context, user, productID primitive.ObjectID, size, color string) (Result, error) {
	key := models.LineKey{Product: productID, Size: size, Color: color}
	return s.mutate(ctx, user, func(w *models.Wishlist) bool {
		return w.Remove(key)
	})
}

func (s *Service) Snapshot(ctx context.Context, user primitive.ObjectID) (*models.Wishlist, error) {
	key := user.Hex()

	v, err, _ := s.sfg.Do(key, func() (interface{}, error) {
		cached, err := s.cache.Get(ctx, key)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WithField("userId", key).Warnf("wishlist cache get failed: %v", err)
		}

		w, err := store.LoadWishlist(ctx, s.repo, user)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to load wishlist", err)
		}
		if w.Version > 0 {
			s.remember(ctx, w)
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Wishlist).Clone(), nil
}

// MoveToCart removes the line from the wishlist and adds exactly one unit
// of it to the cart, in one transaction. The cart line keeps the price the
// wishlist captured.
func (s *Service) MoveToCart(ctx context.Context, user, productID primitive.ObjectID, size, color string) (MoveResult, error) {
	key := models.LineKey{Product: productID, Size: size, Color: color}

	for attempt := 1; ; attempt++ {
		var result MoveResult

		err := s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
			w, err := store.LoadWishlist(txCtx, s.repo, user)
			if err != nil {
				return err
			}
			line, ok := w.Line(key)
			if !ok {
				return apperr.New(apperr.KindLineNotFound, "product not found in wishlist")
			}

			c, err := store.LoadCart(txCtx, s.repo, user)
			if err != nil {
				return err
			}

			w.Remove(key)
			c.Increment(line.CartLine(1), 1)

			if err := s.repo.SaveWishlist(txCtx, w); err != nil {
				return err
			}
			if err := s.repo.SaveCart(txCtx, c); err != nil {
				return err
			}

			result = MoveResult{Cart: c, Wishlist: w}
			return nil
		})

		switch {
		case err == nil:
			s.remember(ctx, result.Wishlist)
			if s.carts != nil {
				s.carts.Remember(ctx, result.Cart)
			}
			s.log.WithFields(logrus.Fields{"userId": user.Hex(), "productId": productID.Hex()}).Info("wishlist line moved to cart")
			return result, nil
		case errors.Is(err, store.ErrVersionConflict):
			if attempt >= s.maxAttempts {
				return MoveResult{}, apperr.New(apperr.KindConflict, "wishlist was modified concurrently, please retry")
			}
			if err := ctx.Err(); err != nil {
				return MoveResult{}, apperr.FromContext("wishlist store", err)
			}
		case apperr.KindOf(err) != apperr.KindInternal:
			return MoveResult{}, err
		default:
			return MoveResult{}, apperr.Wrap(apperr.KindInternal, "failed to move wishlist line", err)
		}
	}
}

func (s *Service) remember(ctx context.Context, w *models.Wishlist) {
	if _, err := s.cache.Put(ctx, w.User.Hex(), w); err != nil {
		s.log.WithField("userId", w.User.Hex()).Warnf("wishlist cache put failed: %v", err)
		if err := s.cache.Delete(ctx, w.User.Hex()); err != nil {
			s.log.WithField("userId", w.User.Hex()).Errorf("wishlist cache delete failed: %v", err)
		}
	}
}

func (s *Service) mutate(ctx context.Context, user primitive.ObjectID, apply func(*models.Wishlist) bool) (Result, error) {
	for attempt := 1; ; attempt++ {
		w, err := store.LoadWishlist(ctx, s.repo, user)
		if err != nil {
			return Result{}, apperr.Wrap(apperr.KindInternal, "failed to load wishlist", err)
		}

		if !apply(w) {
			return Result{Wishlist: w}, nil
		}

		err = s.repo.SaveWishlist(ctx, w)
		if errors.Is(err, store.ErrVersionConflict) {
			if attempt >= s.maxAttempts {
				return Result{}, apperr.New(apperr.KindConflict, "wishlist was modified concurrently, please retry")
			}
			if err := ctx.Err(); err != nil {
				return Result{}, apperr.FromContext("wishlist store", err)
			}
			continue
		}
		if err != nil {
			return Result{}, apperr.Wrap(apperr.KindInternal, "failed to save wishlist", err)
		}

		s.remember(ctx, w)
		return Result{Wishlist: w, Changed: true}, nil
	}
}
