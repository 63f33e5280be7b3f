package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

type ResilientOptions struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
	// FailureThreshold consecutive upstream failures open the breaker.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// Resilient bounds every variant lookup with a timeout, retries upstream
// failures a few times and sheds load through a circuit breaker.
type Resilient struct {
	next    Catalog
	breaker *gobreaker.CircuitBreaker[models.ProductVariant]
	opts    ResilientOptions
	log     *logrus.Logger
}

func NewResilient(next Catalog, opts ResilientOptions, logger *logrus.Logger) *Resilient {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 50 * time.Millisecond
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[models.ProductVariant](gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		// Domain answers such as an unknown variant are healthy responses.
		IsSuccessful: func(err error) bool {
			return err == nil || !upstreamFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).Warn("circuit breaker state changed")
		},
	})

	return &Resilient{next: next, breaker: breaker, opts: opts, log: logger}
}

func (r *Resilient) Resolve(ctx context.Context, productID primitive.ObjectID, size, color string) (models.ProductVariant, error) {
	var lastErr error

	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		variant, err := r.breaker.Execute(func() (models.ProductVariant, error) {
			callCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
			defer cancel()
			v, err := r.next.Resolve(callCtx, productID, size, color)
			return v, apperr.FromContext("catalog", err)
		})
		if err == nil {
			return variant, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return models.ProductVariant{}, apperr.Wrap(apperr.KindUpstreamTimeout, "catalog unavailable", err)
		}
		if !upstreamFailure(err) {
			return models.ProductVariant{}, err
		}

		lastErr = err
		r.log.WithFields(logrus.Fields{
			"productId": productID.Hex(),
			"attempt":   attempt,
		}).Warnf("catalog lookup failed: %v", err)

		if attempt == r.opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return models.ProductVariant{}, apperr.FromContext("catalog", ctx.Err())
		case <-time.After(r.opts.Backoff * time.Duration(attempt)):
		}
	}

	if apperr.KindOf(lastErr) == apperr.KindUpstreamTimeout {
		return models.ProductVariant{}, lastErr
	}
	return models.ProductVariant{}, apperr.Wrap(apperr.KindUpstreamTimeout, "catalog unreachable", lastErr)
}

func upstreamFailure(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindUpstreamTimeout, apperr.KindInternal:
		return true
	default:
		return false
	}
}
