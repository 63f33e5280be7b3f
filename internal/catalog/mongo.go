package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/apperr"
	"storefront/internal/database"
	"storefront/internal/models"
)

// MongoCatalog reads the products collection owned by the catalog service.
type MongoCatalog struct {
	collection *mongo.Collection
	log        *logrus.Logger
}

func NewMongoCatalog(db *mongo.Database, logger *logrus.Logger) *MongoCatalog {
	return &MongoCatalog{
		collection: db.Collection(database.ProductsCollection),
		log:        logger,
	}
}

func (m *MongoCatalog) Resolve(ctx context.Context, productID primitive.ObjectID, size, color string) (models.ProductVariant, error) {
	var product models.Product
	err := m.collection.FindOne(ctx, bson.M{"_id": productID, "isDeleted": bson.M{"$ne": true}}).Decode(&product)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ProductVariant{}, apperr.New(apperr.KindNotFound, "product not found")
	}
	if err != nil {
		m.log.WithFields(logrus.Fields{"productId": productID.Hex()}).Errorf("catalog lookup failed: %v", err)
		return models.ProductVariant{}, fmt.Errorf("find product: %w", err)
	}
	return resolveVariant(&product, size, color)
}
