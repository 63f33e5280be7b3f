package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	EventOrderPlaced          = "order.placed"
	EventOrderAwaitingPayment = "order.awaiting_payment"
	EventOrderPaid            = "order.paid"
	EventOrderFailed          = "order.failed"
)

// OutboxEvent is written in the same transaction as the order change it
// describes and relayed to the broker afterwards.
type OutboxEvent struct {
	ID          string             `bson:"_id" json:"id"`
	AggregateID primitive.ObjectID `bson:"aggregateId" json:"aggregateId"`
	EventType   string             `bson:"eventType" json:"eventType"`
	Payload     []byte             `bson:"payload" json:"payload"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	ProcessedAt *time.Time         `bson:"processedAt,omitempty" json:"processedAt,omitempty"`
}
