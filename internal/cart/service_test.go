package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
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
	svc     *Service
	store   *memstore.MemoryStore
	catalog *catalog.MemoryCatalog
	cache   *cache.RedisCache[*models.Cart]
	shirt   primitive.ObjectID
	user    primitive.ObjectID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cat := catalog.NewMemoryCatalog()
	shirt, err := cat.Put(models.Product{
		Name:   "Shirt",
		Images: models.StringList{"shirt.png"},
		Variants: []models.Variant{
			{Size: "M", Color: "red", Price: 50},
			{Size: "L", Color: "red", Price: 19.99},
		},
	})
	require.NoError(t, err)

	s := memstore.New()
	snapshots := cache.NewRedisCache[*models.Cart](client, "cart", time.Minute)
	return &fixture{
		svc:     NewService(s, cat, snapshots, logger),
		store:   s,
		catalog: cat,
		cache:   snapshots,
		shirt:   shirt,
		user:    primitive.NewObjectID(),
	}
}

func TestAddOrIncrementKeepsTotalInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 2)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 100.0, res.Cart.TotalPrice)
	assert.Equal(t, "shirt.png", res.Cart.Lines[0].Image)

	res, err = f.svc.AddOrIncrement(ctx, f.user, f.shirt, "L", "red", 3)
	require.NoError(t, err)
	assert.Equal(t, 159.97, res.Cart.TotalPrice)

	res, err = f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 1)
	require.NoError(t, err)
	require.Len(t, res.Cart.Lines, 2)
	assert.Equal(t, 3, res.Cart.Lines[0].Quantity)
	assert.Equal(t, models.RecomputeTotal(res.Cart.Lines), res.Cart.TotalPrice)

	stored, err := f.store.FindCart(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, res.Cart.TotalPrice, stored.TotalPrice)
	assert.Equal(t, int64(3), stored.Version)
}

func TestAddOrIncrementRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 0)
	assert.ErrorIs(t, err, apperr.VariantUnavailable)

	_, err = f.svc.AddOrIncrement(ctx, f.user, f.shirt, "XL", "red", 1)
	assert.ErrorIs(t, err, apperr.VariantUnavailable)

	_, err = f.store.FindCart(ctx, f.user)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLinePriceIsCapturedAtAddTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 1)
	require.NoError(t, err)

	_, err = f.catalog.Put(models.Product{ID: f.shirt, Name: "Shirt", Variants: []models.Variant{{Size: "M", Color: "red", Price: 80}}})
	require.NoError(t, err)

	res, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 1)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Cart.Lines[0].Price)
	assert.Equal(t, 100.0, res.Cart.TotalPrice)
}

func TestSetQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 2)
	require.NoError(t, err)

	res, err := f.svc.SetQuantity(ctx, f.user, f.shirt, "M", "red", 5)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 250.0, res.Cart.TotalPrice)

	res, err = f.svc.SetQuantity(ctx, f.user, f.shirt, "M", "red", 5)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	for _, q := range []int{0, -3} {
		res, err = f.svc.SetQuantity(ctx, f.user, f.shirt, "M", "red", q)
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Equal(t, 5, res.Cart.Lines[0].Quantity)
	}

	_, err = f.svc.SetQuantity(ctx, f.user, f.shirt, "L", "red", 1)
	assert.ErrorIs(t, err, apperr.LineNotFound)
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 1)
	require.NoError(t, err)

	res, err := f.svc.Remove(ctx, f.user, f.shirt, "L", "red")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Len(t, res.Cart.Lines, 1)
	assert.Equal(t, int64(1), res.Cart.Version)

	res, err = f.svc.Remove(ctx, f.user, f.shirt, "M", "red")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.Cart.Lines)
	assert.Zero(t, res.Cart.TotalPrice)

	res, err = f.svc.Remove(ctx, primitive.NewObjectID(), f.shirt, "M", "red")
	require.NoError(t, err)
	assert.False(t, res.Changed)
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Clear(ctx, f.user)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	_, err = f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 2)
	require.NoError(t, err)

	res, err = f.svc.Clear(ctx, f.user)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Empty(t, res.Cart.Lines)
	assert.Zero(t, res.Cart.TotalPrice)
}

func TestConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 1)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := f.store.FindCart(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, workers+1, stored.Lines[0].Quantity)
	assert.Equal(t, float64(workers+1)*50, stored.TotalPrice)
}

func TestSnapshotCreatesEmptyCartLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Snapshot(ctx, f.user)
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
	assert.Zero(t, c.Version)

	_, err = f.store.FindCart(ctx, f.user)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSnapshotIsServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 1)
	require.NoError(t, err)

	cached, err := f.cache.Get(ctx, f.user.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Version)

	c, err := f.svc.Snapshot(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, 50.0, c.TotalPrice)

	c.Lines[0].Quantity = 10
	again, err := f.svc.Snapshot(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Lines[0].Quantity)
}

type conflictingCarts struct {
	store.Carts
}

func (conflictingCarts) SaveCart(context.Context, *models.Cart) error {
	return store.ErrVersionConflict
}

func TestMutateGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	svc := NewService(conflictingCarts{Carts: f.store}, f.catalog, nil, logger)

	_, err := svc.AddOrIncrement(context.Background(), f.user, f.shirt, "M", "red", 1)
	assert.ErrorIs(t, err, apperr.Conflict)
}

type putFailingCache struct {
	cache.Cache[*models.Cart]
}

func (putFailingCache) Put(context.Context, string, *models.Cart) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestFailedCachePutDropsStaleSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 1)
	require.NoError(t, err)
	cached, err := f.cache.Get(ctx, f.user.Hex())
	require.NoError(t, err)
	require.Equal(t, int64(1), cached.Version)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	degraded := NewService(f.store, f.catalog, putFailingCache{f.cache}, logger)
	_, err = degraded.AddOrIncrement(ctx, f.user, f.shirt, "M", "red", 2)
	require.NoError(t, err)

	_, err = f.cache.Get(ctx, f.user.Hex())
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	c, err := f.svc.Snapshot(ctx, f.user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Version)
	assert.Equal(t, 3, c.Lines[0].Quantity)
}
