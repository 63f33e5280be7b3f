package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Coupon struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Code            string             `bson:"code" json:"name"`
	NormalizedCode  string             `bson:"normalizedCode" json:"-"`
	DiscountPercent float64            `bson:"discount" json:"discount"`
	Active          bool               `bson:"active" json:"active"`
	ExpiresAt       *time.Time         `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
}

// NormalizeCouponCode is the lookup key for case-insensitive matching.
func NormalizeCouponCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ValidAt reports whether the coupon may be applied at now.
func (c Coupon) ValidAt(now time.Time) bool {
	if !c.Active {
		return false
	}
	if c.DiscountPercent < 0 || c.DiscountPercent > 100 {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}
