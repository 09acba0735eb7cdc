package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/razorpay/razorpay-go"
)

// GatewayOrder is the gateway-side order created for an online attempt
type GatewayOrder struct {
	OrderID  string  `json:"order_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Receipt  string  `json:"receipt"`
}

// Client wraps the online payment gateway. The surrounding pipeline
// treats it as opaque: it creates a gateway order when an online attempt
// starts and verifies the returned signature when the client reports
// completion. Everything else about the gateway protocol stays outside
// this codebase.
type Client struct {
	api       *razorpay.Client
	keySecret string
}

// Config holds gateway credentials
type Config struct {
	KeyID     string
	KeySecret string
}

// NewClient creates a gateway client; returns nil when no credentials
// are configured so the online method can be disabled cleanly.
func NewClient(config Config) *Client {
	if config.KeyID == "" || config.KeySecret == "" {
		return nil
	}
	return &Client{
		api:       razorpay.NewClient(config.KeyID, config.KeySecret),
		keySecret: config.KeySecret,
	}
}

// CreateOrder registers the attempt with the gateway. Amount is sent in
// the smallest currency unit as the gateway requires.
func (c *Client) CreateOrder(amount float64, currency string, trackingCode string) (*GatewayOrder, error) {
	data := map[string]interface{}{
		"amount":   int64(amount * 100),
		"currency": currency,
		"receipt":  trackingCode,
	}

	order, err := c.api.Order.Create(data, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway order creation failed: %w", err)
	}

	orderID, _ := order["id"].(string)
	if orderID == "" {
		return nil, fmt.Errorf("gateway returned no order id")
	}

	return &GatewayOrder{
		OrderID:  orderID,
		Amount:   amount,
		Currency: currency,
		Receipt:  trackingCode,
	}, nil
}

// VerifyPaymentSignature checks the HMAC the gateway attaches to a
// completed payment. A mismatch means the confirmation cannot be trusted.
func (c *Client) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.keySecret))
	mac.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
