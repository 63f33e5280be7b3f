// Package vnpay binds payment.Gateway to the VNPAY 2.1.0 redirect API.
package vnpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/apperr"
	"storefront/internal/payment"
)

const (
	apiVersion   = "2.1.0"
	command      = "pay"
	currencyCode = "VND"
	orderType    = "other"
	dateLayout   = "20060102150405"

	responseSuccess = "00"
)

// VNPAY timestamps are always local Vietnam time.
var vietnam = time.FixedZone("GMT+7", 7*60*60)

type Config struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	ReturnURL   string
	ExpireAfter time.Duration
}

type Client struct {
	cfg Config
	now func() time.Time
}

var _ payment.Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	return &Client{cfg: cfg, now: time.Now}
}

func (c *Client) Initiate(ctx context.Context, req payment.InitiateRequest) (payment.Initiation, error) {
	if err := ctx.Err(); err != nil {
		return payment.Initiation{}, apperr.Wrap(apperr.KindPaymentInitiationFailed, "payment gateway unavailable", err)
	}
	if c.cfg.TmnCode == "" || c.cfg.HashSecret == "" || c.cfg.PayURL == "" {
		return payment.Initiation{}, apperr.New(apperr.KindPaymentInitiationFailed, "payment gateway is not configured")
	}
	if req.Amount <= 0 {
		return payment.Initiation{}, apperr.New(apperr.KindPaymentInitiationFailed, "amount must be greater than 0")
	}

	txnRef := strings.ReplaceAll(uuid.NewString(), "-", "")
	created := c.now().In(vietnam)
	locale := req.Locale
	if locale == "" {
		locale = "vn"
	}
	orderInfo := req.OrderInfo
	if orderInfo == "" {
		orderInfo = "Thanh toan cho ma GD:" + txnRef
	}
	ipAddr := req.IPAddr
	if ipAddr == "" {
		ipAddr = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", apiVersion)
	params.Set("vnp_Command", command)
	params.Set("vnp_TmnCode", c.cfg.TmnCode)
	params.Set("vnp_Amount", toMinorUnits(req.Amount))
	params.Set("vnp_CurrCode", currencyCode)
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_OrderInfo", orderInfo)
	params.Set("vnp_OrderType", orderType)
	params.Set("vnp_Locale", locale)
	params.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	params.Set("vnp_IpAddr", ipAddr)
	params.Set("vnp_CreateDate", created.Format(dateLayout))
	params.Set("vnp_ExpireDate", created.Add(c.cfg.ExpireAfter).Format(dateLayout))
	if req.BankCode != "" {
		params.Set("vnp_BankCode", req.BankCode)
	}

	query := canonicalQuery(params)
	redirect := c.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + c.sign(query)

	return payment.Initiation{TxnCode: txnRef, RedirectURL: redirect}, nil
}

func (c *Client) ParseReturn(params url.Values) (payment.ReturnResult, error) {
	received := params.Get("vnp_SecureHash")
	if received == "" {
		return payment.ReturnResult{}, apperr.New(apperr.KindValidation, "missing secure hash")
	}

	signed := url.Values{}
	for key, values := range params {
		if !strings.HasPrefix(key, "vnp_") || key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		signed[key] = values
	}

	expected := c.sign(canonicalQuery(signed))
	if !hmac.Equal([]byte(strings.ToLower(received)), []byte(expected)) {
		return payment.ReturnResult{}, apperr.New(apperr.KindValidation, "invalid secure hash")
	}

	txnCode := signed.Get("vnp_TxnRef")
	if txnCode == "" {
		return payment.ReturnResult{}, apperr.New(apperr.KindValidation, "missing transaction reference")
	}

	result := payment.ReturnResult{
		TxnCode:      txnCode,
		ResponseCode: signed.Get("vnp_ResponseCode"),
	}
	result.Succeeded = result.ResponseCode == responseSuccess &&
		(signed.Get("vnp_TransactionStatus") == "" || signed.Get("vnp_TransactionStatus") == responseSuccess)

	if raw := signed.Get("vnp_Amount"); raw != "" {
		minor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return payment.ReturnResult{}, apperr.New(apperr.KindValidation, "invalid amount")
		}
		amount := decimal.NewFromInt(minor).Div(decimal.NewFromInt(100)).InexactFloat64()
		result.Amount = &amount
	}

	return result, nil
}

func (c *Client) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(c.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalQuery sorts keys and query-escapes values the way VNPAY hashes them.
func canonicalQuery(params url.Values) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(key)))
	}
	return b.String()
}

// toMinorUnits renders amount x100 as VNPAY expects.
func toMinorUnits(amount float64) string {
	return fmt.Sprintf("%d", decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}
