// Package checkout turns a cart into an order and drives the order's
// payment state to a terminal outcome.
//
// An order is written together with the cart clear and its outbox event in
// one transaction. The cart clear is a compare-and-swap on the cart version
// the totals were computed from, so a cart edited mid-checkout aborts the
// whole commit instead of producing an order that does not match it.
package checkout

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/store"
)

type Repository interface {
	store.Carts
	store.Orders
	store.Addresses
	store.Outbox
	store.Transactor
}

type CouponResolver interface {
	Resolve(ctx context.Context, code string) (*models.Coupon, error)
}

// CartSnapshots is told about the cleared cart after a commit.
type CartSnapshots interface {
	Remember(ctx context.Context, c *models.Cart)
}

type Options struct {
	GatewayTimeout    time.Duration
	IdempotencyWindow time.Duration
}

type Request struct {
	User primitive.ObjectID
	// AddressID names a stored address. Address is used when the id is
	// empty or does not resolve.
	AddressID      string
	Address        *models.Address
	PaymentMethod  models.PaymentMethod
	CouponCode     string
	IdempotencyKey string
	BankCode       string
	Locale         string
	ClientIP       string
}

type Result struct {
	Order    *models.Order
	Replayed bool
}

// ReturnOutcome reports the order after a gateway return. Duplicate is set
// when the order was already settled and nothing changed.
type ReturnOutcome struct {
	Order     *models.Order
	Duplicate bool
}

type Orchestrator struct {
	repo     Repository
	coupons  CouponResolver
	carts    CartSnapshots
	gateways map[models.PaymentMethod]payment.Gateway
	opts     Options
	now      func() time.Time
	log      *logrus.Logger
}

func New(repo Repository, coupons CouponResolver, carts CartSnapshots, gateways map[models.PaymentMethod]payment.Gateway, opts Options, logger *logrus.Logger) *Orchestrator {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	if opts.IdempotencyWindow <= 0 {
		opts.IdempotencyWindow = 10 * time.Minute
	}
	return &Orchestrator{
		repo:     repo,
		coupons:  coupons,
		carts:    carts,
		gateways: gateways,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger,
	}
}

func (o *Orchestrator) Checkout(ctx context.Context, req Request) (Result, error) {
	entry := o.log.WithFields(logrus.Fields{"userId": req.User.Hex(), "paymentMethod": req.PaymentMethod})

	if req.IdempotencyKey != "" {
		if existing, err := o.findByKey(ctx, req.User, req.IdempotencyKey); err != nil || existing != nil {
			return replay(existing, err)
		}
	}

	cart, err := store.LoadCart(ctx, o.repo, req.User)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "failed to load cart", err)
	}
	if cart.IsEmpty() {
		if existing, err := o.clearedBy(ctx, req, cart); err != nil || existing != nil {
			return replay(existing, err)
		}
		return Result{}, apperr.New(apperr.KindEmptyCart, "cart is empty")
	}

	addressID, shipping, err := o.resolveAddress(ctx, req)
	if err != nil {
		return Result{}, err
	}

	var coupon *models.Coupon
	if req.CouponCode != "" {
		coupon, err = o.resolveCoupon(ctx, req.CouponCode)
		if err != nil {
			return Result{}, err
		}
	}

	now := o.now()
	key := req.IdempotencyKey
	if key == "" {
		key = deriveKey(req.User, cart, req.PaymentMethod, now, o.opts.IdempotencyWindow)
		if existing, err := o.findByKey(ctx, req.User, key); err != nil || existing != nil {
			return replay(existing, err)
		}
	}

	order := &models.Order{
		ID:            primitive.NewObjectID(),
		User:          req.User,
		Items:         append([]models.CartLine{}, cart.Lines...),
		AddressID:     addressID,
		Shipping:      shipping,
		PaymentMethod: req.PaymentMethod,
		TotalPrice:    models.RecomputeTotal(cart.Lines),
		PaymentState:  models.PaymentStateDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if coupon != nil {
		couponID := coupon.ID
		order.CouponID = &couponID
		order.DiscountPercent = coupon.DiscountPercent
	}
	order.DiscountedPrice = models.DiscountedPrice(order.TotalPrice, order.DiscountPercent)
	order.IdempotencyKey = key

	next := models.PaymentStatePlaced
	if req.PaymentMethod.UsesGateway() {
		initiation, err := o.initiate(ctx, req, order)
		if err != nil {
			entry.WithError(err).Warn("payment initiation failed, cart left intact")
			return Result{}, err
		}
		order.GatewayTxnCode = initiation.TxnCode
		order.RedirectURL = initiation.RedirectURL
		next = models.PaymentStateAwaitingGatewayRedirect
	}
	if !models.CanTransition(order.PaymentState, next) {
		return Result{}, apperr.Newf(apperr.KindInternal, "illegal payment transition %s -> %s", order.PaymentState, next)
	}
	order.PaymentState = next

	event, err := newOrderEvent(order, order.PaymentState, now)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInternal, "failed to build order event", err)
	}

	var cleared *models.Cart
	err = o.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		// fn may run again on a transient error, so start from the snapshot.
		cleared = cart.Clone()
		cleared.ClearForCheckout(key)
		if err := o.repo.InsertOrder(txCtx, order); err != nil {
			return err
		}
		if err := o.repo.SaveCart(txCtx, cleared); err != nil {
			return err
		}
		return o.repo.AppendEvent(txCtx, event)
	})
	if err != nil {
		return o.commitFailed(ctx, req.User, key, err, entry)
	}

	if o.carts != nil {
		o.carts.Remember(ctx, cleared)
	}

	entry.WithFields(logrus.Fields{
		"orderId":      order.ID.Hex(),
		"paymentState": order.PaymentState,
		"txnCode":      order.GatewayTxnCode,
	}).Info("order created")
	return Result{Order: order}, nil
}

// commitFailed resolves a failed commit. A duplicate key or a cart that
// moved on both mean a concurrent request may already have committed this
// checkout, in which case that order is the answer.
func (o *Orchestrator) commitFailed(ctx context.Context, user primitive.ObjectID, key string, err error, entry *logrus.Entry) (Result, error) {
	duplicate := errors.Is(err, store.ErrDuplicateKey)
	conflict := errors.Is(err, store.ErrVersionConflict)
	if !duplicate && !conflict {
		entry.WithError(err).Error("order commit failed")
		if apperr.KindOf(err) == apperr.KindUpstreamTimeout {
			return Result{}, err
		}
		return Result{}, apperr.Wrap(apperr.KindInternal, "failed to create order", err)
	}

	existing, lookupErr := o.findByKey(ctx, user, key)
	if lookupErr != nil {
		return Result{}, lookupErr
	}
	if existing != nil {
		entry.WithField("orderId", existing.ID.Hex()).Info("concurrent checkout already committed, replaying")
		return Result{Order: existing, Replayed: true}, nil
	}
	if duplicate {
		return Result{}, apperr.New(apperr.KindConflict, "duplicate order, please retry")
	}
	return Result{}, apperr.New(apperr.KindConflict, "cart changed during checkout, please review and retry")
}

func (o *Orchestrator) initiate(ctx context.Context, req Request, order *models.Order) (payment.Initiation, error) {
	gateway, ok := o.gateways[req.PaymentMethod]
	if !ok {
		return payment.Initiation{}, apperr.Newf(apperr.KindPaymentInitiationFailed, "payment method %s is not available", req.PaymentMethod)
	}

	initCtx, cancel := context.WithTimeout(ctx, o.opts.GatewayTimeout)
	defer cancel()

	initiation, err := gateway.Initiate(initCtx, payment.InitiateRequest{
		Amount:    order.DiscountedPrice,
		OrderInfo: "Thanh toan don hang " + order.ID.Hex(),
		IPAddr:    req.ClientIP,
		BankCode:  req.BankCode,
		Locale:    req.Locale,
	})
	if err == nil && initCtx.Err() != nil {
		err = initCtx.Err()
	}
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPaymentInitiationFailed {
			return payment.Initiation{}, err
		}
		return payment.Initiation{}, apperr.Wrap(apperr.KindPaymentInitiationFailed, "could not start payment, your cart is intact", err)
	}
	if initiation.TxnCode == "" || initiation.RedirectURL == "" {
		return payment.Initiation{}, apperr.New(apperr.KindPaymentInitiationFailed, "payment gateway returned an incomplete response")
	}
	return initiation, nil
}

func (o *Orchestrator) resolveAddress(ctx context.Context, req Request) (string, models.Address, error) {
	if req.AddressID != "" {
		addr, err := o.repo.FindAddress(ctx, req.User, req.AddressID)
		switch {
		case err == nil && addr.Complete():
			return req.AddressID, addr.Trimmed(), nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return "", models.Address{}, apperr.Wrap(apperr.KindInternal, "failed to load address", err)
		}
	}

	if req.Address != nil && req.Address.Complete() {
		form := req.Address.Trimmed()
		form.ID = ""
		return "", form, nil
	}
	return "", models.Address{}, apperr.New(apperr.KindMissingAddress, "a shipping address with full name, phone, location and city is required")
}

func (o *Orchestrator) resolveCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	coupon, err := o.coupons.Resolve(ctx, code)
	if err == nil {
		return coupon, nil
	}
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindCouponInvalid:
		return nil, apperr.Wrap(apperr.KindCouponInvalid, "the coupon code you entered is not valid", err)
	default:
		return nil, err
	}
}

func (o *Orchestrator) findByKey(ctx context.Context, user primitive.ObjectID, key string) (*models.Order, error) {
	existing, err := o.repo.FindOrderByIdempotencyKey(ctx, user, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to check idempotency key", err)
	}
	return existing, nil
}

// clearedBy returns the order whose checkout emptied cart, when the cart has
// not changed since and the same checkout is retried inside the window.
func (o *Orchestrator) clearedBy(ctx context.Context, req Request, cart *models.Cart) (*models.Order, error) {
	if req.IdempotencyKey != "" || cart.CheckoutKey == "" {
		return nil, nil
	}
	existing, err := o.findByKey(ctx, req.User, cart.CheckoutKey)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.PaymentMethod != req.PaymentMethod || o.now().Sub(existing.CreatedAt) > o.opts.IdempotencyWindow {
		return nil, nil
	}
	return existing, nil
}

func replay(existing *models.Order, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	return Result{Order: existing, Replayed: true}, nil
}

// OnGatewayReturn verifies a gateway return and settles the order it names.
func (o *Orchestrator) OnGatewayReturn(ctx context.Context, method models.PaymentMethod, params url.Values) (ReturnOutcome, error) {
	gateway, ok := o.gateways[method]
	if !ok {
		return ReturnOutcome{}, apperr.Newf(apperr.KindValidation, "payment method %s is not available", method)
	}

	result, err := gateway.ParseReturn(params)
	if err != nil {
		o.log.WithError(err).Warn("rejected gateway return")
		if apperr.KindOf(err) == apperr.KindInternal {
			return ReturnOutcome{}, apperr.Wrap(apperr.KindValidation, "invalid gateway return", err)
		}
		return ReturnOutcome{}, err
	}
	return o.Settle(ctx, result)
}

// Settle applies a normalized gateway result. Callbacks for an order that
// is already terminal are acknowledged without any change.
func (o *Orchestrator) Settle(ctx context.Context, result payment.ReturnResult) (ReturnOutcome, error) {
	entry := o.log.WithField("txnCode", result.TxnCode)

	order, err := o.repo.FindOrderByTxnCode(ctx, result.TxnCode)
	if errors.Is(err, store.ErrNotFound) {
		return ReturnOutcome{}, apperr.New(apperr.KindNotFound, "order not found")
	}
	if err != nil {
		return ReturnOutcome{}, apperr.Wrap(apperr.KindInternal, "failed to load order", err)
	}
	entry = entry.WithField("orderId", order.ID.Hex())

	if order.PaymentState.IsTerminal() {
		entry.WithField("paymentState", order.PaymentState).Info("duplicate gateway callback acknowledged")
		return ReturnOutcome{Order: order, Duplicate: true}, nil
	}

	if result.Amount != nil && !sameAmount(*result.Amount, order.DiscountedPrice) {
		entry.WithFields(logrus.Fields{"reported": *result.Amount, "expected": order.DiscountedPrice}).Warn("gateway amount mismatch")
		return ReturnOutcome{}, apperr.New(apperr.KindValidation, "payment amount does not match the order")
	}

	next := models.PaymentStateFailed
	if result.Succeeded {
		next = models.PaymentStatePaid
	}
	if !models.CanTransition(order.PaymentState, next) {
		return ReturnOutcome{}, apperr.Newf(apperr.KindValidation, "order in state %s cannot be settled", order.PaymentState)
	}

	now := o.now()
	settled := order.Clone()
	settled.PaymentState = next
	settled.UpdatedAt = now
	if next == models.PaymentStatePaid {
		paidAt := now
		settled.PaidAt = &paidAt
	}

	event, err := newOrderEvent(settled, next, now)
	if err != nil {
		return ReturnOutcome{}, apperr.Wrap(apperr.KindInternal, "failed to build order event", err)
	}

	err = o.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := o.repo.UpdatePaymentState(txCtx, order.ID, order.PaymentState, next, now); err != nil {
			return err
		}
		return o.repo.AppendEvent(txCtx, event)
	})
	if errors.Is(err, store.ErrVersionConflict) {
		// Another delivery of this callback settled the order first.
		latest, findErr := o.repo.FindOrderByTxnCode(ctx, result.TxnCode)
		if findErr != nil {
			return ReturnOutcome{}, apperr.Wrap(apperr.KindInternal, "failed to load order", findErr)
		}
		entry.WithField("paymentState", latest.PaymentState).Info("duplicate gateway callback acknowledged")
		return ReturnOutcome{Order: latest, Duplicate: true}, nil
	}
	if err != nil {
		entry.WithError(err).Error("failed to settle order")
		return ReturnOutcome{}, apperr.Wrap(apperr.KindInternal, "failed to settle order", err)
	}

	entry.WithField("paymentState", next).Info("order settled")
	return ReturnOutcome{Order: settled}, nil
}

// ListOrders returns one page of the user's orders, newest first.
func (o *Orchestrator) ListOrders(ctx context.Context, user primitive.ObjectID, page, limit int64) ([]models.Order, int64, error) {
	orders, total, err := o.repo.ListOrdersByUser(ctx, user, page, limit)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindInternal, "failed to list orders", err)
	}
	return orders, total, nil
}

// FindByTxnCode returns the user's order for a gateway transaction code.
// Orders of other users are reported as not found.
func (o *Orchestrator) FindByTxnCode(ctx context.Context, user primitive.ObjectID, code string) (*models.Order, error) {
	order, err := o.repo.FindOrderByTxnCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) || (err == nil && order.User != user) {
		return nil, apperr.New(apperr.KindNotFound, "order not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load order", err)
	}
	return order, nil
}

func sameAmount(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}
