// Package coupon resolves discount codes. Matching is case-insensitive and
// exact; at most one coupon applies to an order.
package coupon

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
)

type Validator struct {
	coupons store.Coupons
	timeout time.Duration
	now     func() time.Time
	log     *logrus.Logger
}

func NewValidator(coupons store.Coupons, timeout time.Duration, logger *logrus.Logger) *Validator {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Validator{
		coupons: coupons,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger,
	}
}

// Resolve returns the coupon for code. An unknown code is apperr.NotFound;
// an inactive or expired one is apperr.CouponInvalid.
func (v *Validator) Resolve(ctx context.Context, code string) (*models.Coupon, error) {
	normalized := models.NormalizeCouponCode(code)
	if normalized == "" {
		return nil, apperr.New(apperr.KindNotFound, "coupon not found")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	coupon, err := v.coupons.FindCouponByCode(lookupCtx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "coupon not found")
	}
	if err != nil {
		v.log.WithField("coupon", normalized).Errorf("coupon lookup failed: %v", err)
		if err := apperr.FromContext("coupon store", err); apperr.KindOf(err) == apperr.KindUpstreamTimeout {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindInternal, "coupon lookup failed", err)
	}

	if !coupon.ValidAt(v.now()) {
		return nil, apperr.New(apperr.KindCouponInvalid, "coupon is no longer valid")
	}
	return coupon, nil
}

// ListActive returns every coupon that could be applied right now.
func (v *Validator) ListActive(ctx context.Context) ([]models.Coupon, error) {
	all, err := v.coupons.ListCoupons(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list coupons", err)
	}

	now := v.now()
	active := make([]models.Coupon, 0, len(all))
	for _, c := range all {
		if c.ValidAt(now) {
			active = append(active, c)
		}
	}
	return active, nil
}

type CreateInput struct {
	Code            string
	DiscountPercent float64
	ExpiresAt       *time.Time
}

func (v *Validator) Create(ctx context.Context, input CreateInput) (*models.Coupon, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, apperr.New(apperr.KindValidation, "code is required")
	}
	if input.DiscountPercent < 0 || input.DiscountPercent > 100 {
		return nil, apperr.New(apperr.KindValidation, "discount must be between 0 and 100")
	}
	now := v.now()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return nil, apperr.New(apperr.KindValidation, "expiresAt must be in the future")
	}

	coupon := &models.Coupon{
		Code:            code,
		NormalizedCode:  models.NormalizeCouponCode(code),
		DiscountPercent: input.DiscountPercent,
		Active:          true,
		ExpiresAt:       input.ExpiresAt,
		CreatedAt:       now,
	}
	if err := v.coupons.InsertCoupon(ctx, coupon); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, apperr.New(apperr.KindConflict, "coupon code already exists")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create coupon", err)
	}

	v.log.WithField("coupon", coupon.NormalizedCode).Info("coupon created")
	return coupon, nil
}
