package checkout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storefront/internal/models"
)

// OrderEvent is the payload relayed to the order topic.
type OrderEvent struct {
	OrderID         string               `json:"orderId"`
	UserID          string               `json:"userId"`
	PaymentMethod   models.PaymentMethod `json:"paymentMethod"`
	PaymentState    models.PaymentState  `json:"paymentState"`
	TotalPrice      float64              `json:"totalPrice"`
	DiscountedPrice float64              `json:"priceAfterDiscount"`
	TxnCode         string               `json:"code,omitempty"`
	OccurredAt      time.Time            `json:"occurredAt"`
}

func eventTypeFor(state models.PaymentState) string {
	switch state {
	case models.PaymentStatePlaced:
		return models.EventOrderPlaced
	case models.PaymentStateAwaitingGatewayRedirect:
		return models.EventOrderAwaitingPayment
	case models.PaymentStatePaid:
		return models.EventOrderPaid
	case models.PaymentStateFailed:
		return models.EventOrderFailed
	default:
		return ""
	}
}

func newOrderEvent(order *models.Order, state models.PaymentState, at time.Time) (*models.OutboxEvent, error) {
	eventType := eventTypeFor(state)
	if eventType == "" {
		return nil, fmt.Errorf("no event for payment state %s", state)
	}

	payload, err := json.Marshal(OrderEvent{
		OrderID:         order.ID.Hex(),
		UserID:          order.User.Hex(),
		PaymentMethod:   order.PaymentMethod,
		PaymentState:    state,
		TotalPrice:      order.TotalPrice,
		DiscountedPrice: order.DiscountedPrice,
		TxnCode:         order.GatewayTxnCode,
		OccurredAt:      at,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order event: %w", err)
	}

	return &models.OutboxEvent{
		ID:          uuid.NewString(),
		AggregateID: order.ID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   at,
	}, nil
}
