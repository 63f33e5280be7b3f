package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperr"
	"storefront/internal/middleware"
)

const (
	requestTimeout  = 5 * time.Second
	checkoutTimeout = 20 * time.Second
)

func handlePanic(c *gin.Context, route string, logger *logrus.Logger) {
	if r := recover(); r != nil {
		logger.WithField("route", route).Errorf("panic recovered: %v", r)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "internal server error",
			"code":    apperr.KindInternal,
		})
	}
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound, apperr.KindLineNotFound:
		return http.StatusNotFound
	case apperr.KindVariantUnavailable, apperr.KindEmptyCart, apperr.KindMissingAddress,
		apperr.KindCouponInvalid, apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPaymentInitiationFailed:
		return http.StatusBadGateway
	case apperr.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError is the one place a service error becomes a status code.
func respondWithError(c *gin.Context, route string, logger *logrus.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	entry := logger.WithFields(logrus.Fields{"route": route, "status": status, "code": kind})
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Warn("request rejected")
	}

	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": apperr.MessageOf(err),
		"code":    kind,
	})
}

func respondInvalid(c *gin.Context, route string, logger *logrus.Logger, message string) {
	respondWithError(c, route, logger, apperr.New(apperr.KindValidation, message))
}

func respondOK(c *gin.Context, message string, data gin.H) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "data": data})
}

func requestContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), timeout)
}

// requestUser reads the id UserAuth stored. Routes are always mounted behind
// UserAuth, so a miss is a wiring error.
func requestUser(c *gin.Context, route string, logger *logrus.Logger) (primitive.ObjectID, bool) {
	user, ok := middleware.UserID(c)
	if !ok {
		logger.WithField("route", route).Error("route mounted without user auth")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized", "code": "UNAUTHORIZED"})
		return primitive.NilObjectID, false
	}
	return user, true
}
