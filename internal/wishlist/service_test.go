package wishlist

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperr"
	"storefront/internal/cache"
	"storefront/internal/catalog"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/store/memstore"
)

type fixture struct {
	svc   *Service
	store *memstore.MemoryStore
	cat   *catalog.MemoryCatalog
	shoe  primitive.ObjectID
	user  primitive.ObjectID
	log   *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cat := catalog.NewMemoryCatalog()
	shoe, err := cat.Put(models.Product{
		Name:     "Runner",
		Images:   models.StringList{"runner.png"},
		Variants: []models.Variant{{Size: "42", Color: "black", Price: 120, SaleEnabled: true, SalePrice: 99}},
	})
	require.NoError(t, err)

	s := memstore.New()
	return &fixture{
		svc:   NewService(s, cat, nil, nil, logger),
		store: s,
		cat:   cat,
		shoe:  shoe,
		user:  primitive.NewObjectID(),
		log:   logger,
	}
}

func TestAddIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	require.Len(t, res.Wishlist.Lines, 1)
	assert.Equal(t, 99.0, res.Wishlist.Lines[0].Price)

	res, err = f.svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Len(t, res.Wishlist.Lines, 1)

	_, err = f.svc.Add(ctx, f.user, f.shoe, "43", "black")
	assert.ErrorIs(t, err, apperr.VariantUnavailable)

	_, err = f.svc.Add(ctx, f.user, primitive.NewObjectID(), "42", "black")
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Remove(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Wishlist.Lines)

	_, err = f.svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)

	res, err = f.svc.Remove(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.Wishlist.Lines)
}

func TestMoveToCartAddsExactlyOneUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)

	existing := models.NewCart(f.user)
	existing.Increment(models.CartLine{Product: f.shoe, Size: "42", Color: "black", Price: 99}, 4)
	require.NoError(t, f.store.SaveCart(ctx, existing))

	res, err := f.svc.MoveToCart(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)
	assert.Empty(t, res.Wishlist.Lines)
	require.Len(t, res.Cart.Lines, 1)
	assert.Equal(t, 5, res.Cart.Lines[0].Quantity)
	assert.Equal(t, 495.0, res.Cart.TotalPrice)
}

func TestMoveToCartCreatesLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)

	res, err := f.svc.MoveToCart(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)
	require.Len(t, res.Cart.Lines, 1)
	assert.Equal(t, 1, res.Cart.Lines[0].Quantity)
	assert.Equal(t, "runner.png", res.Cart.Lines[0].Image)
	assert.Equal(t, 99.0, res.Cart.TotalPrice)

	stored, err := f.store.FindWishlist(ctx, f.user)
	require.NoError(t, err)
	assert.Empty(t, stored.Lines)
}

func TestMoveToCartMissingLine(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.MoveToCart(context.Background(), f.user, f.shoe, "42", "black")
	assert.ErrorIs(t, err, apperr.LineNotFound)
}

type failingCartStore struct {
	*memstore.MemoryStore
}

func (failingCartStore) SaveCart(context.Context, *models.Cart) error {
	return errors.New("disk full")
}

func TestMoveToCartIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)

	svc := NewService(failingCartStore{f.store}, f.cat, nil, nil, f.log)
	_, err = svc.MoveToCart(ctx, f.user, f.shoe, "42", "black")
	assert.ErrorIs(t, err, apperr.Internal)

	stored, err := f.store.FindWishlist(ctx, f.user)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1, "wishlist line must survive a failed move")

	_, err = f.store.FindCart(ctx, f.user)
	assert.Error(t, err)
}

func TestConcurrentMovesTransferOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)

	const workers = 4
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, missing := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.MoveToCart(ctx, f.user, f.shoe, "42", "black")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.LineNotFound):
				missing++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, missing)

	c, err := f.store.FindCart(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Lines[0].Quantity)
}

type recordingCarts struct {
	remembered []*models.Cart
}

func (r *recordingCarts) Remember(_ context.Context, c *models.Cart) {
	r.remembered = append(r.remembered, c)
}

func TestMoveToCartRefreshesCartSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := &recordingCarts{}
	svc := NewService(f.store, f.cat, nil, rec, f.log)

	_, err := svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)
	_, err = svc.MoveToCart(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)

	require.Len(t, rec.remembered, 1)
	assert.Equal(t, int64(1), rec.remembered[0].Version)
}

func TestReAddSoldOutLineIsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)

	soldOut := 0
	_, err = f.cat.Put(models.Product{
		ID:       f.shoe,
		Name:     "Runner",
		Images:   models.StringList{"runner.png"},
		Variants: []models.Variant{{Size: "42", Color: "black", Price: 120, Stock: &soldOut}},
	})
	require.NoError(t, err)

	res, err := f.svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	require.Len(t, res.Wishlist.Lines, 1)
	assert.Equal(t, 99.0, res.Wishlist.Lines[0].Price)

	_, err = f.svc.Add(ctx, f.user, f.shoe, "43", "black")
	assert.ErrorIs(t, err, apperr.VariantUnavailable)
}

type brokenCache struct {
	cache.Nop[*models.Wishlist]
	deleted []string
}

func (*brokenCache) Put(context.Context, string, *models.Wishlist) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (b *brokenCache) Delete(_ context.Context, id string) error {
	b.deleted = append(b.deleted, id)
	return nil
}

func TestFailedCachePutEvictsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snapshots := &brokenCache{}
	svc := NewService(f.store, f.cat, snapshots, nil, f.log)

	_, err := svc.Add(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)
	_, err = svc.Remove(ctx, f.user, f.shoe, "42", "black")
	require.NoError(t, err)

	assert.Equal(t, []string{f.user.Hex(), f.user.Hex()}, snapshots.deleted)

	w, err := svc.Snapshot(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.Version)
	assert.Empty(t, w.Lines)
}

type cancelingWishlists struct {
	*memstore.MemoryStore
	cancel context.CancelFunc
	saves  int
}

func (c *cancelingWishlists) SaveWishlist(context.Context, *models.Wishlist) error {
	c.saves++
	c.cancel()
	return store.ErrVersionConflict
}

func TestMutateStopsRetryingWhenContextEnds(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := &cancelingWishlists{MemoryStore: f.store, cancel: cancel}
	svc := NewService(repo, f.cat, nil, nil, f.log)

	_, err := svc.Add(ctx, f.user, f.shoe, "42", "black")
	assert.ErrorIs(t, err, apperr.UpstreamTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, repo.saves)
}
