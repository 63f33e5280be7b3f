package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentMethod is the closed set of ways an order can be settled.
type PaymentMethod string

const (
	PaymentCOD   PaymentMethod = "COD"
	PaymentVNPay PaymentMethod = "VNPAY"
)

// ParsePaymentMethod accepts the method case-insensitively.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(raw))) {
	case PaymentCOD:
		return PaymentCOD, nil
	case PaymentVNPay:
		return PaymentVNPay, nil
	default:
		return "", fmt.Errorf("unsupported payment method %q", raw)
	}
}

// UsesGateway reports whether settlement goes through a redirect gateway.
func (m PaymentMethod) UsesGateway() bool {
	switch m {
	case PaymentVNPay:
		return true
	default:
		return false
	}
}

type PaymentState string

const (
	PaymentStateDraft                   PaymentState = "DRAFT"
	PaymentStatePlaced                  PaymentState = "PLACED"
	PaymentStateAwaitingGatewayRedirect PaymentState = "AWAITING_GATEWAY_REDIRECT"
	PaymentStatePaid                    PaymentState = "PAID"
	PaymentStateFailed                  PaymentState = "FAILED"
)

func (s PaymentState) IsTerminal() bool {
	return s == PaymentStatePlaced || s == PaymentStatePaid || s == PaymentStateFailed
}

func (s PaymentState) String() string {
	return string(s)
}

var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentStateDraft:                   {PaymentStatePlaced, PaymentStateAwaitingGatewayRedirect},
	PaymentStateAwaitingGatewayRedirect: {PaymentStatePaid, PaymentStateFailed},
}

func CanTransition(from, to PaymentState) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is immutable once written except for PaymentState, PaidAt and UpdatedAt.
type Order struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	User            primitive.ObjectID  `bson:"user" json:"user"`
	Items           []CartLine          `bson:"orderItems" json:"orderItems"`
	AddressID       string              `bson:"addressId,omitempty" json:"addressId,omitempty"`
	Shipping        Address             `bson:"shipping" json:"shipping"`
	PaymentMethod   PaymentMethod       `bson:"paymentMethod" json:"paymentMethod"`
	CouponID        *primitive.ObjectID `bson:"couponId,omitempty" json:"couponId,omitempty"`
	DiscountPercent float64             `bson:"discountPercent" json:"discountPercent"`
	TotalPrice      float64             `bson:"totalPrice" json:"totalPrice"`
	DiscountedPrice float64             `bson:"priceAfterDiscount" json:"priceAfterDiscount"`
	PaymentState    PaymentState        `bson:"paymentState" json:"paymentState"`
	GatewayTxnCode  string              `bson:"gatewayTxnCode,omitempty" json:"code,omitempty"`
	RedirectURL     string              `bson:"redirectUrl,omitempty" json:"redirectUrl,omitempty"`
	IdempotencyKey  string              `bson:"idempotencyKey,omitempty" json:"-"`
	CreatedAt       time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time           `bson:"updatedAt" json:"updatedAt"`
	PaidAt          *time.Time          `bson:"paidAt,omitempty" json:"paidAt,omitempty"`
}

func (o *Order) Clone() *Order {
	out := *o
	out.Items = append([]CartLine{}, o.Items...)
	if o.CouponID != nil {
		id := *o.CouponID
		out.CouponID = &id
	}
	if o.PaidAt != nil {
		at := *o.PaidAt
		out.PaidAt = &at
	}
	return &out
}
