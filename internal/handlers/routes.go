package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/coupon"
	"storefront/internal/middleware"
	"storefront/internal/wishlist"
)

type Services struct {
	Carts     *cart.Service
	Wishlists *wishlist.Service
	Coupons   *coupon.Validator
	Orders    *checkout.Orchestrator
	Health    Pinger
}

type RouteOptions struct {
	JWTSecret string
	Limiter   *middleware.RateLimiter
}

// Register mounts every storefront route on r.
func Register(r *gin.Engine, s Services, opts RouteOptions, logger *logrus.Logger) {
	RegisterValidators(logger)

	r.GET("/healthz", Healthz(s.Health, logger))
	r.GET("/coupons", GetCoupons(s.Coupons, logger))

	// Gateway returns are authenticated by their signature.
	r.GET("/payment/return", PaymentReturn(s.Orders, logger))
	r.POST("/payment/return", PaymentReturn(s.Orders, logger))

	user := r.Group("/")
	user.Use(middleware.UserAuth(opts.JWTSecret, logger))
	if opts.Limiter != nil {
		user.Use(opts.Limiter.Limit(logger))
	}
	{
		user.GET("/cart", GetCart(s.Carts, logger))
		user.PUT("/cart", UpdateCart(s.Carts, logger))
		user.DELETE("/cart", RemoveCartLine(s.Carts, logger))

		user.GET("/wishlist", GetWishlist(s.Wishlists, logger))
		user.POST("/wishlist/add", AddToWishlist(s.Wishlists, logger))
		user.DELETE("/wishlist/remove", RemoveFromWishlist(s.Wishlists, logger))
		user.PUT("/wishlist/move-to-cart", MoveToCart(s.Wishlists, logger))

		user.POST("/checkout/payment-url", CreatePaymentURL(s.Orders, logger))
		user.POST("/orders", CreateOrder(s.Orders, logger))
		user.GET("/orders", GetOrders(s.Orders, logger))
	}

	admin := r.Group("/admin/api")
	admin.Use(middleware.AdminAuth(opts.JWTSecret, logger))
	{
		admin.POST("/coupons", CreateCoupon(s.Coupons, logger))
	}
}
