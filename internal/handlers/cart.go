package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storefront/internal/cart"
)

/* =========================
   REQUEST DTOs
========================= */

type lineRequest struct {
	ProductID string `json:"productId" form:"productId" binding:"required,objectid"`
	Size      string `json:"size" form:"size"`
	Color     string `json:"color" form:"color"`
}

type updateCartRequest struct {
	lineRequest
	Quantity *int   `json:"quantity"`
	Action   string `json:"action" binding:"omitempty,oneof=add set"`
}

func (r lineRequest) trimmed() (string, string) {
	return strings.TrimSpace(r.Size), strings.TrimSpace(r.Color)
}

/* =========================
   CART
========================= */

func GetCart(carts *cart.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /cart"
		defer handlePanic(c, route, logger)

		user, ok := requestUser(c, route, logger)
		if !ok {
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		snapshot, err := carts.Snapshot(ctx, user)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}
		respondOK(c, "cart fetched", gin.H{"cart": snapshot})
	}
}

// UpdateCart adds to a line (action "add", the default) or sets its
// quantity (action "set").
func UpdateCart(carts *cart.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /cart"
		defer handlePanic(c, route, logger)

		user, ok := requestUser(c, route, logger)
		if !ok {
			return
		}

		var req updateCartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, route, logger, "invalid request body")
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		size, color := req.trimmed()
		product := mustObjectID(req.ProductID)

		var (
			result cart.Result
			err    error
		)
		switch req.Action {
		case "set":
			if req.Quantity == nil {
				respondInvalid(c, route, logger, "quantity is required")
				return
			}
			result, err = carts.SetQuantity(ctx, user, product, size, color, *req.Quantity)
		default:
			quantity := 1
			if req.Quantity != nil {
				quantity = *req.Quantity
			}
			result, err = carts.AddOrIncrement(ctx, user, product, size, color, quantity)
		}
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}

		message := "cart updated"
		if !result.Changed {
			message = "cart unchanged"
		}
		respondOK(c, message, gin.H{"cart": result.Cart, "changed": result.Changed})
	}
}

func RemoveCartLine(carts *cart.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /cart"
		defer handlePanic(c, route, logger)

		user, ok := requestUser(c, route, logger)
		if !ok {
			return
		}

		var req lineRequest
		if err := c.ShouldBind(&req); err != nil {
			respondInvalid(c, route, logger, "invalid request body")
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		size, color := req.trimmed()
		result, err := carts.Remove(ctx, user, mustObjectID(req.ProductID), size, color)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}

		message := "line removed"
		if !result.Changed {
			message = "line not in cart"
		}
		respondOK(c, message, gin.H{"cart": result.Cart, "changed": result.Changed})
	}
}
