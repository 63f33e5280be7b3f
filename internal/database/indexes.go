package database

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates every index the store relies on. The unique ones
// back the one-cart-per-user, idempotency and transaction-code guarantees.
func EnsureIndexes(db *mongo.Database, logger *logrus.Logger) error {
	for _, ensure := range []func(*mongo.Database, *logrus.Logger) error{
		EnsureCartIndexes,
		EnsureWishlistIndexes,
		EnsureOrderIndexes,
		EnsureCouponIndexes,
		EnsureOutboxIndexes,
	} {
		if err := ensure(db, logger); err != nil {
			return err
		}
	}
	return nil
}

func createIndexes(db *mongo.Database, logger *logrus.Logger, collection string, models ...mongo.IndexModel) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logger.WithField("collection", collection)
	log.Info("creating indexes")
	names, err := db.Collection(collection).Indexes().CreateMany(ctx, models)
	if err != nil {
		log.WithError(err).Error("index creation failed")
		return err
	}
	log.WithField("indexes", names).Info("indexes ready")
	return nil
}

func EnsureCartIndexes(db *mongo.Database, logger *logrus.Logger) error {
	return createIndexes(db, logger, CartsCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}},
		Options: options.Index().SetName("user_unique").SetUnique(true),
	})
}

func EnsureWishlistIndexes(db *mongo.Database, logger *logrus.Logger) error {
	return createIndexes(db, logger, WishlistsCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}},
		Options: options.Index().SetName("user_unique").SetUnique(true),
	})
}

func EnsureOrderIndexes(db *mongo.Database, logger *logrus.Logger) error {
	return createIndexes(db, logger, OrdersCollection,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("user_createdAt"),
		},
		mongo.IndexModel{
			Keys: bson.D{{Key: "gatewayTxnCode", Value: 1}},
			Options: options.Index().
				SetName("gatewayTxnCode_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"gatewayTxnCode": bson.M{"$exists": true},
				}),
		},
		mongo.IndexModel{
			Keys: bson.D{{Key: "user", Value: 1}, {Key: "idempotencyKey", Value: 1}},
			Options: options.Index().
				SetName("user_idempotencyKey_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"idempotencyKey": bson.M{"$exists": true},
				}),
		},
	)
}

func EnsureCouponIndexes(db *mongo.Database, logger *logrus.Logger) error {
	return createIndexes(db, logger, CouponsCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "normalizedCode", Value: 1}},
		Options: options.Index().SetName("normalizedCode_unique").SetUnique(true),
	})
}

func EnsureOutboxIndexes(db *mongo.Database, logger *logrus.Logger) error {
	return createIndexes(db, logger, OutboxCollection, mongo.IndexModel{
		Keys:    bson.D{{Key: "processedAt", Value: 1}, {Key: "createdAt", Value: 1}},
		Options: options.Index().SetName("processedAt_createdAt"),
	})
}
