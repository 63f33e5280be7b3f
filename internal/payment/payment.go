// Package payment is the boundary between order orchestration and redirect
// payment gateways. Gateway wire formats stay behind Gateway.
package payment

//go:generate mockgen -destination=paymentmock/gateway.go -package=paymentmock storefront/internal/payment Gateway

import (
	"context"
	"net/url"
)

type InitiateRequest struct {
	// Amount is the discounted order total in the shop currency.
	Amount    float64
	OrderInfo string
	IPAddr    string
	BankCode  string
	Locale    string
}

type Initiation struct {
	TxnCode     string
	RedirectURL string
}

// ReturnResult is a gateway return normalized to what the order state
// machine needs. Amount is nil when the gateway did not report one.
type ReturnResult struct {
	TxnCode      string
	Succeeded    bool
	ResponseCode string
	Amount       *float64
}

type Gateway interface {
	// Initiate must not be retried by callers without an idempotency key.
	Initiate(ctx context.Context, req InitiateRequest) (Initiation, error)
	// ParseReturn verifies and decodes the parameters the gateway sent back
	// on the return redirect or the server-to-server notification.
	ParseReturn(params url.Values) (ReturnResult, error)
}
