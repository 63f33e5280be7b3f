// Package memstore is an in-process store.Store. It keeps the same
// guarantees as the mongo store: version compare-and-swap on single
// documents and all-or-nothing transactions, which run serialized.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/models"
	"storefront/internal/store"
)

type txKey struct{}

type MemoryStore struct {
	mu        sync.Mutex
	carts     map[primitive.ObjectID]*models.Cart
	wishlists map[primitive.ObjectID]*models.Wishlist
	orders    map[primitive.ObjectID]*models.Order
	coupons   map[primitive.ObjectID]*models.Coupon
	users     map[primitive.ObjectID]*models.User
	outbox    map[string]*models.OutboxEvent
}

var _ store.Store = (*MemoryStore)(nil)

func New() *MemoryStore {
	return &MemoryStore{
		carts:     make(map[primitive.ObjectID]*models.Cart),
		wishlists: make(map[primitive.ObjectID]*models.Wishlist),
		orders:    make(map[primitive.ObjectID]*models.Order),
		coupons:   make(map[primitive.ObjectID]*models.Coupon),
		users:     make(map[primitive.ObjectID]*models.User),
		outbox:    make(map[string]*models.OutboxEvent),
	}
}

// lock takes the store mutex unless ctx already belongs to a transaction
// on this store, which holds it.
func (s *MemoryStore) lock(ctx context.Context) func() {
	if owner, _ := ctx.Value(txKey{}).(*MemoryStore); owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(txKey{}).(*MemoryStore); owner == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	carts     map[primitive.ObjectID]*models.Cart
	wishlists map[primitive.ObjectID]*models.Wishlist
	orders    map[primitive.ObjectID]*models.Order
	coupons   map[primitive.ObjectID]*models.Coupon
	outbox    map[string]*models.OutboxEvent
}

// Stored values are never mutated in place, so copying the maps is enough
// to roll back.
func (s *MemoryStore) snapshot() snapshot {
	return snapshot{
		carts:     copyMap(s.carts),
		wishlists: copyMap(s.wishlists),
		orders:    copyMap(s.orders),
		coupons:   copyMap(s.coupons),
		outbox:    copyMap(s.outbox),
	}
}

func (s *MemoryStore) restore(snap snapshot) {
	s.carts = snap.carts
	s.wishlists = snap.wishlists
	s.orders = snap.orders
	s.coupons = snap.coupons
	s.outbox = snap.outbox
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

/* =========================
   CARTS
========================= */

func (s *MemoryStore) FindCart(ctx context.Context, user primitive.ObjectID) (*models.Cart, error) {
	defer s.lock(ctx)()
	cart, ok := s.carts[user]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cart.Clone(), nil
}

func (s *MemoryStore) SaveCart(ctx context.Context, cart *models.Cart) error {
	defer s.lock(ctx)()

	var current int64
	existing, ok := s.carts[cart.User]
	if ok {
		current = existing.Version
	}
	if current != cart.Version {
		return store.ErrVersionConflict
	}

	now := time.Now().UTC()
	next := cart.Clone()
	if !ok {
		next.ID = primitive.NewObjectID()
		next.CreatedAt = now
	}
	next.Version++
	next.UpdatedAt = now
	s.carts[cart.User] = next

	*cart = *next.Clone()
	return nil
}

/* =========================
   WISHLISTS
========================= */

func (s *MemoryStore) FindWishlist(ctx context.Context, user primitive.ObjectID) (*models.Wishlist, error) {
	defer s.lock(ctx)()
	wishlist, ok := s.wishlists[user]
	if !ok {
		return nil, store.ErrNotFound
	}
	return wishlist.Clone(), nil
}

func (s *MemoryStore) SaveWishlist(ctx context.Context, wishlist *models.Wishlist) error {
	defer s.lock(ctx)()

	var current int64
	existing, ok := s.wishlists[wishlist.User]
	if ok {
		current = existing.Version
	}
	if current != wishlist.Version {
		return store.ErrVersionConflict
	}

	now := time.Now().UTC()
	next := wishlist.Clone()
	if !ok {
		next.ID = primitive.NewObjectID()
		next.CreatedAt = now
	}
	next.Version++
	next.UpdatedAt = now
	s.wishlists[wishlist.User] = next

	*wishlist = *next.Clone()
	return nil
}

/* =========================
   ORDERS
========================= */

func (s *MemoryStore) InsertOrder(ctx context.Context, order *models.Order) error {
	defer s.lock(ctx)()

	for _, existing := range s.orders {
		if order.IdempotencyKey != "" && existing.User == order.User && existing.IdempotencyKey == order.IdempotencyKey {
			return store.ErrDuplicateKey
		}
		if order.GatewayTxnCode != "" && existing.GatewayTxnCode == order.GatewayTxnCode {
			return store.ErrDuplicateKey
		}
	}

	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryStore) FindOrderByIdempotencyKey(ctx context.Context, user primitive.ObjectID, key string) (*models.Order, error) {
	defer s.lock(ctx)()
	for _, order := range s.orders {
		if order.User == user && key != "" && order.IdempotencyKey == key {
			return order.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *MemoryStore) FindOrderByTxnCode(ctx context.Context, code string) (*models.Order, error) {
	defer s.lock(ctx)()
	for _, order := range s.orders {
		if code != "" && order.GatewayTxnCode == code {
			return order.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *MemoryStore) ListOrdersByUser(ctx context.Context, user primitive.ObjectID, page, limit int64) ([]models.Order, int64, error) {
	defer s.lock(ctx)()

	matched := make([]models.Order, 0)
	for _, order := range s.orders {
		if order.User == user {
			matched = append(matched, *order.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if page < 1 || limit < 1 || page-1 >= total {
		return []models.Order{}, total, nil
	}
	start := (page - 1) * limit
	if start < 0 || start >= total {
		return []models.Order{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) UpdatePaymentState(ctx context.Context, id primitive.ObjectID, from, to models.PaymentState, at time.Time) error {
	defer s.lock(ctx)()

	existing, ok := s.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	if existing.PaymentState != from {
		return store.ErrVersionConflict
	}

	next := existing.Clone()
	next.PaymentState = to
	next.UpdatedAt = at
	if to == models.PaymentStatePaid {
		paidAt := at
		next.PaidAt = &paidAt
	}
	s.orders[id] = next
	return nil
}

/* =========================
   COUPONS
========================= */

func (s *MemoryStore) FindCouponByCode(ctx context.Context, normalizedCode string) (*models.Coupon, error) {
	defer s.lock(ctx)()
	for _, coupon := range s.coupons {
		if coupon.NormalizedCode == normalizedCode {
			c := *coupon
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *MemoryStore) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	defer s.lock(ctx)()
	out := make([]models.Coupon, 0, len(s.coupons))
	for _, coupon := range s.coupons {
		out = append(out, *coupon)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedCode < out[j].NormalizedCode })
	return out, nil
}

func (s *MemoryStore) InsertCoupon(ctx context.Context, coupon *models.Coupon) error {
	defer s.lock(ctx)()
	for _, existing := range s.coupons {
		if existing.NormalizedCode == coupon.NormalizedCode {
			return store.ErrDuplicateKey
		}
	}
	if coupon.ID.IsZero() {
		coupon.ID = primitive.NewObjectID()
	}
	c := *coupon
	s.coupons[c.ID] = &c
	return nil
}

/* =========================
   ADDRESSES
========================= */

// PutUser seeds a user document; address management is not part of this store.
func (s *MemoryStore) PutUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	u.Addresses = append([]models.Address{}, user.Addresses...)
	s.users[user.ID] = &u
}

func (s *MemoryStore) FindAddress(ctx context.Context, user primitive.ObjectID, addressID string) (*models.Address, error) {
	defer s.lock(ctx)()
	u, ok := s.users[user]
	if !ok {
		return nil, store.ErrNotFound
	}
	for _, addr := range u.Addresses {
		if addr.ID == addressID {
			a := addr
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

/* =========================
   OUTBOX
========================= */

func (s *MemoryStore) AppendEvent(ctx context.Context, event *models.OutboxEvent) error {
	defer s.lock(ctx)()
	if _, exists := s.outbox[event.ID]; exists {
		return store.ErrDuplicateKey
	}
	e := *event
	e.Payload = append([]byte{}, event.Payload...)
	s.outbox[e.ID] = &e
	return nil
}

func (s *MemoryStore) PendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	defer s.lock(ctx)()
	out := make([]models.OutboxEvent, 0)
	for _, event := range s.outbox {
		if event.ProcessedAt == nil {
			out = append(out, *event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkEventProcessed(ctx context.Context, id string, at time.Time) error {
	defer s.lock(ctx)()
	event, ok := s.outbox[id]
	if !ok {
		return store.ErrNotFound
	}
	e := *event
	processed := at
	e.ProcessedAt = &processed
	s.outbox[id] = &e
	return nil
}
