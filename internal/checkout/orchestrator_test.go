package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/mock/gomock"

	"storefront/internal/apperr"
	"storefront/internal/coupon"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/payment/paymentmock"
	"storefront/internal/store"
	"storefront/internal/store/memstore"
)

type recordingCarts struct {
	remembered []*models.Cart
}

func (r *recordingCarts) Remember(_ context.Context, c *models.Cart) {
	r.remembered = append(r.remembered, c)
}

type fixture struct {
	orch    *Orchestrator
	store   *memstore.MemoryStore
	gateway *paymentmock.MockGateway
	carts   *recordingCarts
	user    primitive.ObjectID
	address *models.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	ctrl := gomock.NewController(t)
	gateway := paymentmock.NewMockGateway(ctrl)

	s := memstore.New()
	coupons := coupon.NewValidator(s, time.Second, logger)
	_, err := coupons.Create(context.Background(), coupon.CreateInput{Code: "TEN", DiscountPercent: 10})
	require.NoError(t, err)

	carts := &recordingCarts{}
	orch := New(s, coupons, carts, map[models.PaymentMethod]payment.Gateway{models.PaymentVNPay: gateway},
		Options{GatewayTimeout: 50 * time.Millisecond, IdempotencyWindow: time.Minute}, logger)

	return &fixture{
		orch:    orch,
		store:   s,
		gateway: gateway,
		carts:   carts,
		user:    primitive.NewObjectID(),
		address: &models.Address{FullName: "An Nguyen", Phone: "0901234567", Location: "12 Le Loi", City: "Hue"},
	}
}

// seedCart adds one line {price:50, quantity:2} to the stored cart.
func (f *fixture) seedCart(t *testing.T) *models.Cart {
	t.Helper()
	c, err := store.LoadCart(context.Background(), f.store, f.user)
	require.NoError(t, err)
	c.Increment(models.CartLine{Product: primitive.NewObjectID(), Name: "Tee", Price: 50, Size: "M", Color: "red"}, 2)
	require.NoError(t, f.store.SaveCart(context.Background(), c))
	return c
}

func (f *fixture) orders(t *testing.T) []models.Order {
	t.Helper()
	orders, _, err := f.store.ListOrdersByUser(context.Background(), f.user, 1, 100)
	require.NoError(t, err)
	return orders
}

func (f *fixture) cartLines(t *testing.T) int {
	t.Helper()
	c, err := f.store.FindCart(context.Background(), f.user)
	require.NoError(t, err)
	return len(c.Lines)
}

func TestCheckoutCODWithCoupon(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)
	ctx := context.Background()

	res, err := f.orch.Checkout(ctx, Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentCOD, CouponCode: "ten"})
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	order := res.Order
	assert.Equal(t, models.PaymentStatePlaced, order.PaymentState)
	assert.Equal(t, 100.0, order.TotalPrice)
	assert.Equal(t, 90.0, order.DiscountedPrice)
	assert.Equal(t, 10.0, order.DiscountPercent)
	require.NotNil(t, order.CouponID)
	assert.Empty(t, order.GatewayTxnCode)
	assert.Equal(t, "Hue", order.Shipping.City)
	assert.NotEmpty(t, order.IdempotencyKey)

	assert.Zero(t, f.cartLines(t))
	require.Len(t, f.orders(t), 1)

	require.Len(t, f.carts.remembered, 1)
	assert.Empty(t, f.carts.remembered[0].Lines)

	events, err := f.store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOrderPlaced, events[0].EventType)

	var payload OrderEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, order.ID.Hex(), payload.OrderID)
	assert.Equal(t, 90.0, payload.DiscountedPrice)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Checkout(context.Background(), Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentCOD})
	assert.ErrorIs(t, err, apperr.EmptyCart)
	assert.Empty(t, f.orders(t))
}

func TestCheckoutRequiresAddress(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)
	ctx := context.Background()

	incomplete := &models.Address{FullName: "An", Phone: "0901", City: "Hue"}
	_, err := f.orch.Checkout(ctx, Request{User: f.user, Address: incomplete, PaymentMethod: models.PaymentCOD})
	assert.ErrorIs(t, err, apperr.MissingAddress)

	_, err = f.orch.Checkout(ctx, Request{User: f.user, AddressID: "nope", PaymentMethod: models.PaymentCOD})
	assert.ErrorIs(t, err, apperr.MissingAddress)
	assert.Equal(t, 1, f.cartLines(t))

	f.store.PutUser(models.User{ID: f.user, Addresses: []models.Address{{ID: "home", FullName: "An", Phone: "0901", Location: "1 A St", City: "Hanoi"}}})
	res, err := f.orch.Checkout(ctx, Request{User: f.user, AddressID: "home", PaymentMethod: models.PaymentCOD})
	require.NoError(t, err)
	assert.Equal(t, "home", res.Order.AddressID)
	assert.Equal(t, "Hanoi", res.Order.Shipping.City)
}

func TestCheckoutRejectsUnknownCoupon(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)

	_, err := f.orch.Checkout(context.Background(), Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentCOD, CouponCode: "BOGUS"})
	assert.ErrorIs(t, err, apperr.CouponInvalid)
	assert.Equal(t, 1, f.cartLines(t))
	assert.Empty(t, f.orders(t))
}

func TestCheckoutGatewayInitiationFailureKeepsCart(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)

	f.gateway.EXPECT().Initiate(gomock.Any(), gomock.Any()).Return(payment.Initiation{}, errors.New("gateway down"))

	_, err := f.orch.Checkout(context.Background(), Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentVNPay})
	assert.ErrorIs(t, err, apperr.PaymentInitiationFailed)
	assert.Equal(t, 1, f.cartLines(t))
	assert.Empty(t, f.orders(t))
	assert.Empty(t, f.carts.remembered)
}

func TestCheckoutGatewayTimeoutIsInitiationFailure(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)

	f.gateway.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ payment.InitiateRequest) (payment.Initiation, error) {
			<-ctx.Done()
			return payment.Initiation{}, ctx.Err()
		})

	_, err := f.orch.Checkout(context.Background(), Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentVNPay})
	assert.ErrorIs(t, err, apperr.PaymentInitiationFailed)
	assert.Equal(t, 1, f.cartLines(t))
	assert.Empty(t, f.orders(t))
}

func TestCheckoutGatewayAwaitsRedirect(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)
	ctx := context.Background()

	f.gateway.EXPECT().Initiate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req payment.InitiateRequest) (payment.Initiation, error) {
			assert.Equal(t, 90.0, req.Amount)
			assert.Equal(t, "NCB", req.BankCode)
			return payment.Initiation{TxnCode: "TXN1", RedirectURL: "https://pay.example/?vnp_TxnRef=TXN1"}, nil
		})

	res, err := f.orch.Checkout(ctx, Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentVNPay, CouponCode: "TEN", BankCode: "NCB"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateAwaitingGatewayRedirect, res.Order.PaymentState)
	assert.Equal(t, "TXN1", res.Order.GatewayTxnCode)
	assert.Equal(t, "https://pay.example/?vnp_TxnRef=TXN1", res.Order.RedirectURL)
	assert.Zero(t, f.cartLines(t))

	events, err := f.store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOrderAwaitingPayment, events[0].EventType)
}

func TestCheckoutReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)
	ctx := context.Background()

	f.gateway.EXPECT().Initiate(gomock.Any(), gomock.Any()).
		Return(payment.Initiation{TxnCode: "TXN2", RedirectURL: "https://pay.example/2"}, nil).
		Times(1)

	req := Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentVNPay, IdempotencyKey: "client-key-1"}
	first, err := f.orch.Checkout(ctx, req)
	require.NoError(t, err)

	f.seedCart(t)
	second, err := f.orch.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, "https://pay.example/2", second.Order.RedirectURL)
	assert.Len(t, f.orders(t), 1)
	assert.Equal(t, 1, f.cartLines(t), "a replay must not touch the new cart")
}

// racingRepo lets another writer change the cart right after checkout
// read it.
type racingRepo struct {
	*memstore.MemoryStore
	once bool
}

func (r *racingRepo) FindCart(ctx context.Context, user primitive.ObjectID) (*models.Cart, error) {
	c, err := r.MemoryStore.FindCart(ctx, user)
	if err == nil && !r.once {
		r.once = true
		edited := c.Clone()
		edited.Increment(models.CartLine{Product: primitive.NewObjectID(), Price: 1}, 1)
		if err := r.MemoryStore.SaveCart(ctx, edited); err != nil {
			return nil, err
		}
	}
	return c, err
}

func TestCheckoutAbortsWhenCartChangesMidway(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	repo := &racingRepo{MemoryStore: f.store}
	orch := New(repo, coupon.NewValidator(f.store, time.Second, logger), nil, nil, Options{}, logger)

	_, err := orch.Checkout(context.Background(), Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentCOD})
	assert.ErrorIs(t, err, apperr.Conflict)
	assert.Empty(t, f.orders(t))
	assert.Equal(t, 2, f.cartLines(t))

	events, err := f.store.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDeriveKey(t *testing.T) {
	user := primitive.NewObjectID()
	c := models.NewCart(user)
	c.Increment(models.CartLine{Product: primitive.NewObjectID(), Price: 5}, 1)
	c.Version = 3
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)

	key := deriveKey(user, c, models.PaymentCOD, now, time.Minute)
	assert.Equal(t, key, deriveKey(user, c, models.PaymentCOD, now.Add(20*time.Second), time.Minute))
	assert.NotEqual(t, key, deriveKey(user, c, models.PaymentVNPay, now, time.Minute))
	assert.NotEqual(t, key, deriveKey(user, c, models.PaymentCOD, now.Add(time.Minute), time.Minute))

	changed := c.Clone()
	changed.Lines[0].Quantity = 2
	assert.NotEqual(t, key, deriveKey(user, changed, models.PaymentCOD, now, time.Minute))
}

func (f *fixture) awaitingOrder(t *testing.T, code string) *models.Order {
	t.Helper()
	f.seedCart(t)
	f.gateway.EXPECT().Initiate(gomock.Any(), gomock.Any()).
		Return(payment.Initiation{TxnCode: code, RedirectURL: "https://pay.example/" + code}, nil)

	res, err := f.orch.Checkout(context.Background(), Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentVNPay})
	require.NoError(t, err)
	return res.Order
}

func amount(v float64) *float64 { return &v }

func TestSettleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.awaitingOrder(t, "TXN3")

	out, err := f.orch.Settle(ctx, payment.ReturnResult{TxnCode: "TXN3", Succeeded: true, Amount: amount(100)})
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, models.PaymentStatePaid, out.Order.PaymentState)
	require.NotNil(t, out.Order.PaidAt)

	for i := 0; i < 3; i++ {
		out, err = f.orch.Settle(ctx, payment.ReturnResult{TxnCode: "TXN3", Succeeded: true, Amount: amount(100)})
		require.NoError(t, err)
		assert.True(t, out.Duplicate)
		assert.Equal(t, models.PaymentStatePaid, out.Order.PaymentState)
	}

	out, err = f.orch.Settle(ctx, payment.ReturnResult{TxnCode: "TXN3", Succeeded: false})
	require.NoError(t, err)
	assert.True(t, out.Duplicate)

	stored, err := f.store.FindOrderByTxnCode(ctx, "TXN3")
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
	assert.Equal(t, models.PaymentStatePaid, stored.PaymentState)

	events, err := f.store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventOrderPaid, events[1].EventType)
}

func TestSettleFailure(t *testing.T) {
	f := newFixture(t)
	f.awaitingOrder(t, "TXN4")

	out, err := f.orch.Settle(context.Background(), payment.ReturnResult{TxnCode: "TXN4", Succeeded: false, ResponseCode: "24"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateFailed, out.Order.PaymentState)
	assert.Nil(t, out.Order.PaidAt)
}

func TestSettleRejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.awaitingOrder(t, "TXN5")

	_, err := f.orch.Settle(ctx, payment.ReturnResult{TxnCode: "TXN5", Succeeded: true, Amount: amount(1)})
	assert.ErrorIs(t, err, apperr.Validation)

	stored, err := f.store.FindOrderByTxnCode(ctx, "TXN5")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStateAwaitingGatewayRedirect, stored.PaymentState)
}

func TestSettleUnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Settle(context.Background(), payment.ReturnResult{TxnCode: "missing", Succeeded: true})
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestOnGatewayReturnParsesThroughGateway(t *testing.T) {
	f := newFixture(t)
	f.awaitingOrder(t, "TXN6")
	params := url.Values{"vnp_TxnRef": {"TXN6"}}

	f.gateway.EXPECT().ParseReturn(params).Return(payment.ReturnResult{TxnCode: "TXN6", Succeeded: true}, nil)
	out, err := f.orch.OnGatewayReturn(context.Background(), models.PaymentVNPay, params)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatePaid, out.Order.PaymentState)

	f.gateway.EXPECT().ParseReturn(gomock.Any()).Return(payment.ReturnResult{}, apperr.New(apperr.KindValidation, "invalid secure hash"))
	_, err = f.orch.OnGatewayReturn(context.Background(), models.PaymentVNPay, url.Values{})
	assert.ErrorIs(t, err, apperr.Validation)

	_, err = f.orch.OnGatewayReturn(context.Background(), models.PaymentCOD, params)
	assert.ErrorIs(t, err, apperr.Validation)
}

func TestFindByTxnCodeScopesToUser(t *testing.T) {
	f := newFixture(t)
	order := f.awaitingOrder(t, "TXN7")
	ctx := context.Background()

	got, err := f.orch.FindByTxnCode(ctx, f.user, "TXN7")
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.orch.FindByTxnCode(ctx, primitive.NewObjectID(), "TXN7")
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedCart(t)
	_, err := f.orch.Checkout(ctx, Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentCOD})
	require.NoError(t, err)

	orders, total, err := f.orch.ListOrders(ctx, f.user, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, orders, 1)
	assert.Len(t, orders[0].Items, 1)
}

func TestCheckoutRetryWithoutKeyReplaysCommittedOrder(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)
	ctx := context.Background()

	f.gateway.EXPECT().Initiate(gomock.Any(), gomock.Any()).
		Return(payment.Initiation{TxnCode: "TXN-RETRY", RedirectURL: "https://pay.example/retry"}, nil).Times(1)

	req := Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentVNPay}
	first, err := f.orch.Checkout(ctx, req)
	require.NoError(t, err)

	second, err := f.orch.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, "https://pay.example/retry", second.Order.RedirectURL)
	assert.Len(t, f.orders(t), 1)
}

func TestCheckoutRetryWithoutKeyReplaysCOD(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)
	ctx := context.Background()

	req := Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentCOD}
	first, err := f.orch.Checkout(ctx, req)
	require.NoError(t, err)

	second, err := f.orch.Checkout(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)

	// A different method is a new checkout of an empty cart.
	_, err = f.orch.Checkout(ctx, Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentVNPay})
	assert.ErrorIs(t, err, apperr.EmptyCart)
}

func TestCheckoutRetryDoesNotReplayStaleOrder(t *testing.T) {
	f := newFixture(t)
	f.seedCart(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.orch.now = func() time.Time { return now }

	req := Request{User: f.user, Address: f.address, PaymentMethod: models.PaymentCOD}
	_, err := f.orch.Checkout(ctx, req)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = f.orch.Checkout(ctx, req)
	assert.ErrorIs(t, err, apperr.EmptyCart)

	// Touching the cart drops the link to the earlier checkout.
	now = now.Add(-2 * time.Minute)
	c := f.seedCart(t)
	require.True(t, c.Remove(c.Lines[0].Key()))
	require.NoError(t, f.store.SaveCart(ctx, c))
	_, err = f.orch.Checkout(ctx, req)
	assert.ErrorIs(t, err, apperr.EmptyCart)
	assert.Len(t, f.orders(t), 1)
}
