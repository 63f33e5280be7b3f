// Package mongostore is the MongoDB implementation of store.Store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"storefront/internal/database"
	"storefront/internal/models"
	"storefront/internal/store"
)

type MongoStore struct {
	db  *mongo.Database
	log *logrus.Logger
}

var _ store.Store = (*MongoStore)(nil)

func New(db *mongo.Database, logger *logrus.Logger) *MongoStore {
	return &MongoStore{db: db, log: logger}
}

func (s *MongoStore) carts() *mongo.Collection     { return s.db.Collection(database.CartsCollection) }
func (s *MongoStore) wishlists() *mongo.Collection { return s.db.Collection(database.WishlistsCollection) }
func (s *MongoStore) orders() *mongo.Collection    { return s.db.Collection(database.OrdersCollection) }
func (s *MongoStore) coupons() *mongo.Collection   { return s.db.Collection(database.CouponsCollection) }
func (s *MongoStore) users() *mongo.Collection     { return s.db.Collection(database.UsersCollection) }
func (s *MongoStore) outbox() *mongo.Collection    { return s.db.Collection(database.OutboxCollection) }

func (s *MongoStore) Ping(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.Client().Ping(checkCtx, readpref.Primary())
}

// WithTransaction runs fn inside a session transaction. Calls already
// running inside a session join it.
func (s *MongoStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}

/* =========================
   CARTS
========================= */

func (s *MongoStore) FindCart(ctx context.Context, user primitive.ObjectID) (*models.Cart, error) {
	var cart models.Cart
	err := s.carts().FindOne(ctx, bson.M{"user": user}).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find cart: %w", err)
	}
	if cart.Lines == nil {
		cart.Lines = []models.CartLine{}
	}
	return &cart, nil
}

func (s *MongoStore) SaveCart(ctx context.Context, cart *models.Cart) error {
	now := time.Now().UTC()
	next := cart.Clone()
	next.Version = cart.Version + 1
	next.UpdatedAt = now

	if cart.Version == 0 {
		next.ID = primitive.NewObjectID()
		next.CreatedAt = now
		if _, err := s.carts().InsertOne(ctx, next); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return store.ErrVersionConflict
			}
			return fmt.Errorf("insert cart: %w", err)
		}
		*cart = *next
		return nil
	}

	res, err := s.carts().ReplaceOne(ctx, bson.M{"user": cart.User, "version": cart.Version}, next)
	if err != nil {
		return fmt.Errorf("replace cart: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrVersionConflict
	}
	*cart = *next
	return nil
}

/* =========================
   WISHLISTS
========================= */

func (s *MongoStore) FindWishlist(ctx context.Context, user primitive.ObjectID) (*models.Wishlist, error) {
	var wishlist models.Wishlist
	err := s.wishlists().FindOne(ctx, bson.M{"user": user}).Decode(&wishlist)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find wishlist: %w", err)
	}
	if wishlist.Lines == nil {
		wishlist.Lines = []models.WishlistLine{}
	}
	return &wishlist, nil
}

func (s *MongoStore) SaveWishlist(ctx context.Context, wishlist *models.Wishlist) error {
	now := time.Now().UTC()
	next := wishlist.Clone()
	next.Version = wishlist.Version + 1
	next.UpdatedAt = now

	if wishlist.Version == 0 {
		next.ID = primitive.NewObjectID()
		next.CreatedAt = now
		if _, err := s.wishlists().InsertOne(ctx, next); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return store.ErrVersionConflict
			}
			return fmt.Errorf("insert wishlist: %w", err)
		}
		*wishlist = *next
		return nil
	}

	res, err := s.wishlists().ReplaceOne(ctx, bson.M{"user": wishlist.User, "version": wishlist.Version}, next)
	if err != nil {
		return fmt.Errorf("replace wishlist: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrVersionConflict
	}
	*wishlist = *next
	return nil
}

/* =========================
   ORDERS
========================= */

func (s *MongoStore) InsertOrder(ctx context.Context, order *models.Order) error {
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	if _, err := s.orders().InsertOne(ctx, order); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *MongoStore) findOrder(ctx context.Context, filter bson.M) (*models.Order, error) {
	var order models.Order
	err := s.orders().FindOne(ctx, filter).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return &order, nil
}

func (s *MongoStore) FindOrderByIdempotencyKey(ctx context.Context, user primitive.ObjectID, key string) (*models.Order, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return s.findOrder(ctx, bson.M{"user": user, "idempotencyKey": key})
}

func (s *MongoStore) FindOrderByTxnCode(ctx context.Context, code string) (*models.Order, error) {
	if code == "" {
		return nil, store.ErrNotFound
	}
	return s.findOrder(ctx, bson.M{"gatewayTxnCode": code})
}

func (s *MongoStore) ListOrdersByUser(ctx context.Context, user primitive.ObjectID, page, limit int64) ([]models.Order, int64, error) {
	filter := bson.M{"user": user}
	if page < 1 || limit < 1 || page-1 > math.MaxInt64/limit {
		return nil, 0, fmt.Errorf("list orders: invalid page %d or limit %d", page, limit)
	}

	total, err := s.orders().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)

	cursor, err := s.orders().Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("find orders: %w", err)
	}
	defer cursor.Close(ctx)

	orders := make([]models.Order, 0)
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, 0, fmt.Errorf("decode orders: %w", err)
	}
	return orders, total, nil
}

func (s *MongoStore) UpdatePaymentState(ctx context.Context, id primitive.ObjectID, from, to models.PaymentState, at time.Time) error {
	set := bson.M{
		"paymentState": to,
		"updatedAt":    at,
	}
	if to == models.PaymentStatePaid {
		set["paidAt"] = at
	}

	res, err := s.orders().UpdateOne(ctx, bson.M{"_id": id, "paymentState": from}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update payment state: %w", err)
	}
	if res.MatchedCount == 0 {
		count, err := s.orders().CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("update payment state: %w", err)
		}
		if count == 0 {
			return store.ErrNotFound
		}
		return store.ErrVersionConflict
	}
	return nil
}

/* =========================
   COUPONS
========================= */

func (s *MongoStore) FindCouponByCode(ctx context.Context, normalizedCode string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.coupons().FindOne(ctx, bson.M{"normalizedCode": normalizedCode}).Decode(&coupon)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	return &coupon, nil
}

func (s *MongoStore) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	cursor, err := s.coupons().Find(ctx, bson.M{"active": true}, options.Find().SetSort(bson.D{{Key: "normalizedCode", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find coupons: %w", err)
	}
	defer cursor.Close(ctx)

	coupons := make([]models.Coupon, 0)
	if err := cursor.All(ctx, &coupons); err != nil {
		return nil, fmt.Errorf("decode coupons: %w", err)
	}
	return coupons, nil
}

func (s *MongoStore) InsertCoupon(ctx context.Context, coupon *models.Coupon) error {
	if coupon.ID.IsZero() {
		coupon.ID = primitive.NewObjectID()
	}
	if _, err := s.coupons().InsertOne(ctx, coupon); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

/* =========================
   ADDRESSES
========================= */

func (s *MongoStore) FindAddress(ctx context.Context, user primitive.ObjectID, addressID string) (*models.Address, error) {
	var doc struct {
		Addresses []models.Address `bson:"addresses"`
	}
	err := s.users().FindOne(ctx,
		bson.M{"_id": user, "addresses.id": addressID},
		options.FindOne().SetProjection(bson.M{"addresses.$": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find address: %w", err)
	}
	if len(doc.Addresses) == 0 {
		return nil, store.ErrNotFound
	}
	return &doc.Addresses[0], nil
}

/* =========================
   OUTBOX
========================= */

func (s *MongoStore) AppendEvent(ctx context.Context, event *models.OutboxEvent) error {
	if _, err := s.outbox().InsertOne(ctx, event); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

func (s *MongoStore) PendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		findOptions.SetLimit(int64(limit))
	}

	cursor, err := s.outbox().Find(ctx, bson.M{"processedAt": bson.M{"$exists": false}}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("find outbox events: %w", err)
	}
	defer cursor.Close(ctx)

	events := make([]models.OutboxEvent, 0)
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode outbox events: %w", err)
	}
	return events, nil
}

func (s *MongoStore) MarkEventProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := s.outbox().UpdateByID(ctx, id, bson.M{"$set": bson.M{"processedAt": at}})
	if err != nil {
		return fmt.Errorf("mark outbox event: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
