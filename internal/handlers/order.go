package handlers

import (
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storefront/internal/apperr"
	"storefront/internal/checkout"
	"storefront/internal/models"
)

const idempotencyHeader = "Idempotency-Key"

/* =========================
   REQUEST DTOs
========================= */

type addressRequest struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
	City     string `json:"city"`
	Country  string `json:"country"`
}

type checkoutRequest struct {
	AddressID  string          `json:"addressId"`
	Address    *addressRequest `json:"address"`
	CouponCode string          `json:"coupon"`
	BankCode   string          `json:"bankCode"`
	Locale     string          `json:"locale"`
}

type createOrderRequest struct {
	checkoutRequest
	PaymentMethod string `json:"paymentMethod" binding:"required"`
	// Code is the gateway transaction code of an order already created by
	// POST /checkout/payment-url.
	Code string `json:"code"`
}

func (r checkoutRequest) toCheckout(c *gin.Context, method models.PaymentMethod) checkout.Request {
	req := checkout.Request{
		AddressID:      strings.TrimSpace(r.AddressID),
		PaymentMethod:  method,
		CouponCode:     strings.TrimSpace(r.CouponCode),
		IdempotencyKey: strings.TrimSpace(c.GetHeader(idempotencyHeader)),
		BankCode:       strings.TrimSpace(r.BankCode),
		Locale:         strings.TrimSpace(r.Locale),
		ClientIP:       c.ClientIP(),
	}
	if r.Address != nil {
		req.Address = &models.Address{
			FullName: r.Address.FullName,
			Phone:    r.Address.Phone,
			Location: r.Address.Location,
			City:     r.Address.City,
			Country:  r.Address.Country,
		}
	}
	return req
}

/* =========================
   CHECKOUT
========================= */

// CreatePaymentURL starts a VNPAY checkout and returns the redirect target.
func CreatePaymentURL(orders *checkout.Orchestrator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /checkout/payment-url"
		defer handlePanic(c, route, logger)

		user, ok := requestUser(c, route, logger)
		if !ok {
			return
		}

		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, route, logger, "invalid request body")
			return
		}

		ctx, cancel := requestContext(c, checkoutTimeout)
		defer cancel()

		in := req.toCheckout(c, models.PaymentVNPay)
		in.User = user
		result, err := orders.Checkout(ctx, in)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}

		respondOK(c, "payment url created", gin.H{
			"code":        result.Order.GatewayTxnCode,
			"redirectUrl": result.Order.RedirectURL,
			"order":       result.Order,
			"replayed":    result.Replayed,
		})
	}
}

/* =========================
   CREATE ORDER
========================= */

func CreateOrder(orders *checkout.Orchestrator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /orders"
		defer handlePanic(c, route, logger)

		user, ok := requestUser(c, route, logger)
		if !ok {
			return
		}

		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, route, logger, "invalid request body")
			return
		}

		method, err := models.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			respondWithError(c, route, logger, apperr.Wrap(apperr.KindValidation, "unsupported payment method", err))
			return
		}

		ctx, cancel := requestContext(c, checkoutTimeout)
		defer cancel()

		// A gateway order created by the payment-url step is looked up, never
		// placed twice.
		if method.UsesGateway() && strings.TrimSpace(req.Code) != "" {
			order, err := orders.FindByTxnCode(ctx, user, strings.TrimSpace(req.Code))
			if err != nil {
				respondWithError(c, route, logger, err)
				return
			}
			respondOK(c, "order fetched", gin.H{"order": order, "replayed": true})
			return
		}

		in := req.toCheckout(c, method)
		in.User = user
		result, err := orders.Checkout(ctx, in)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}

		message := "order created"
		if result.Replayed {
			message = "order already created"
		}
		respondOK(c, message, gin.H{"order": result.Order, "replayed": result.Replayed})
	}
}

/* =========================
   LIST ORDERS
========================= */

func GetOrders(orders *checkout.Orchestrator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /orders"
		defer handlePanic(c, route, logger)

		user, ok := requestUser(c, route, logger)
		if !ok {
			return
		}

		if requested := strings.TrimSpace(c.Query("user")); requested != "" && requested != user.Hex() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "forbidden", "code": "FORBIDDEN"})
			return
		}

		page, limit, err := parsePaginationParams(c.Query("page"), c.Query("limit"))
		if err != nil {
			respondInvalid(c, route, logger, err.Error())
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		list, total, err := orders.ListOrders(ctx, user, page, limit)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}

		respondOK(c, "orders fetched", gin.H{
			"orders": list,
			"pagination": gin.H{
				"page":       page,
				"limit":      limit,
				"total":      total,
				"totalPages": int64(math.Ceil(float64(total) / float64(limit))),
			},
		})
	}
}

/* =========================
   GATEWAY RETURN
========================= */

// PaymentReturn settles the order named by a signed VNPAY return. Repeated
// deliveries are acknowledged with the already settled state.
func PaymentReturn(orders *checkout.Orchestrator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "/payment/return"
		defer handlePanic(c, route, logger)

		if err := c.Request.ParseForm(); err != nil {
			respondInvalid(c, route, logger, "invalid gateway parameters")
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		outcome, err := orders.OnGatewayReturn(ctx, models.PaymentVNPay, c.Request.Form)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}

		message := "payment settled"
		if outcome.Duplicate {
			message = "payment already settled"
		}
		respondOK(c, message, gin.H{
			"code":         outcome.Order.GatewayTxnCode,
			"paymentState": outcome.Order.PaymentState,
			"duplicate":    outcome.Duplicate,
		})
	}
}
