package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"storefront/internal/coupon"
)

type createCouponRequest struct {
	Code      string     `json:"name" binding:"required"`
	Discount  *float64   `json:"discount" binding:"required,gte=0,lte=100"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func GetCoupons(coupons *coupon.Validator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "GET /coupons"
		defer handlePanic(c, route, logger)

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		active, err := coupons.ListActive(ctx)
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}
		respondOK(c, "coupons fetched", gin.H{"coupons": active})
	}
}

func CreateCoupon(coupons *coupon.Validator, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		const route = "POST /admin/api/coupons"
		defer handlePanic(c, route, logger)

		var req createCouponRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, route, logger, "invalid request body")
			return
		}

		ctx, cancel := requestContext(c, requestTimeout)
		defer cancel()

		created, err := coupons.Create(ctx, coupon.CreateInput{
			Code:            req.Code,
			DiscountPercent: *req.Discount,
			ExpiresAt:       req.ExpiresAt,
		})
		if err != nil {
			respondWithError(c, route, logger, err)
			return
		}
		respondOK(c, "coupon created", gin.H{"coupon": created})
	}
}
