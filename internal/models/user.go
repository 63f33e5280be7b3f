package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Address is a shipping destination. Stored addresses live embedded in the
// user document; orders keep a copy so later edits do not change them.
type Address struct {
	ID        string `bson:"id,omitempty" json:"_id,omitempty"`
	FullName  string `bson:"fullName" json:"fullName"`
	Phone     string `bson:"phone" json:"phone"`
	Location  string `bson:"location" json:"location"`
	City      string `bson:"city" json:"city"`
	Country   string `bson:"country,omitempty" json:"country,omitempty"`
	IsDefault bool   `bson:"isDefault,omitempty" json:"isDefault,omitempty"`
}

// Complete reports whether the fields required for delivery are present.
// Country is optional.
func (a Address) Complete() bool {
	for _, field := range []string{a.FullName, a.Phone, a.Location, a.City} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}

func (a Address) Trimmed() Address {
	a.FullName = strings.TrimSpace(a.FullName)
	a.Phone = strings.TrimSpace(a.Phone)
	a.Location = strings.TrimSpace(a.Location)
	a.City = strings.TrimSpace(a.City)
	a.Country = strings.TrimSpace(a.Country)
	return a
}

// User carries only what checkout reads; account management lives elsewhere.
type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email     string             `bson:"email" json:"email"`
	Name      string             `bson:"name" json:"name"`
	Addresses []Address          `bson:"addresses" json:"addresses"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}
