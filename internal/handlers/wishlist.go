package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storefront/internal/wishlist"
)

func GetWishlist(wishlists *wishlist.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /wishlist"
		defer handlePanic(c, route, logger)

		user, ok := requestUser(c, route, logger)
		if !ok {
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		snapshot, err := wishlists.Snapshot(ctx, user)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}
		respondOK(c, "wishlist fetched", gin.H{"wishlist": snapshot})
	}
}

func AddToWishlist(wishlists *wishlist.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /wishlist/add"
		defer handlePanic(c, route, logger)

		user, ok := requestUser(c, route, logger)
		if !ok {
			return
		}

		var req lineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, route, logger, "invalid request body")
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		size, color := req.trimmed()
		result, err := wishlists.Add(ctx, user, mustObjectID(req.ProductID), size, color)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}

		message := "added to wishlist"
		if !result.Changed {
			message = "already in wishlist"
		}
		respondOK(c, message, gin.H{"wishlist": result.Wishlist, "changed": result.Changed})
	}
}

func RemoveFromWishlist(wishlists *wishlist.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "DELETE /wishlist/remove"
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
		result, err := wishlists.Remove(ctx, user, mustObjectID(req.ProductID), size, color)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}

		message := "removed from wishlist"
		if !result.Changed {
			message = "not in wishlist"
		}
		respondOK(c, message, gin.H{"wishlist": result.Wishlist, "changed": result.Changed})
	}
}

func MoveToCart(wishlists *wishlist.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "PUT /wishlist/move-to-cart"
		defer handlePanic(c, route, logger)

		user, ok := requestUser(c, route, logger)
		if !ok {
			return
		}

		var req lineRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, route, logger, "invalid request body")
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		size, color := req.trimmed()
		result, err := wishlists.MoveToCart(ctx, user, mustObjectID(req.ProductID), size, color)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}
		respondOK(c, "moved to cart", gin.H{"cart": result.Cart, "wishlist": result.Wishlist})
	}
}
