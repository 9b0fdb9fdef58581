// Package gateway talks to the hosted payment provider: order creation,
// payment status lookup, and inbound webhook signature verification.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewayError wraps an upstream failure so callers can map it to a 502
// instead of a generic 500.
type GatewayError struct {
	Status  int
	Message string
}

func (e GatewayError) Error() string {
	return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.Status)
}

// Client is a thin JSON client for the provider's order API.
type Client struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	ReturnURL    string
	NotifyURL    string
	HTTPClient   *http.Client
}

func New(baseURL, clientID, clientSecret, returnURL, notifyURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:      baseURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		ReturnURL:    returnURL,
		NotifyURL:    notifyURL,
		HTTPClient:   &http.Client{Timeout: timeout},
	}
}

// Order is the provider's handle for one collection attempt.
type Order struct {
	OrderID      string `json:"order_id"`
	SessionToken string `json:"payment_session_id"`
	Status       string `json:"order_status"`
}

type orderRequest struct {
	OrderID  string        `json:"order_id"`
	Amount   string        `json:"order_amount"`
	Currency string        `json:"order_currency"`
	Customer orderCustomer `json:"customer_details"`
	Meta     orderMeta     `json:"order_meta"`
}

type orderCustomer struct {
	CustomerID string `json:"customer_id"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
	NotifyURL string `json:"notify_url,omitempty"`
}

// CreateOrder registers an order with the provider and returns its handle.
// Amount is in base currency units.
func (c *Client) CreateOrder(ctx context.Context, orderID string, amount int64, currency, customerID string) (Order, error) {
	req := orderRequest{
		OrderID:  orderID,
		Amount:   fmt.Sprintf("%d.00", amount),
		Currency: currency,
		Customer: orderCustomer{CustomerID: customerID},
		Meta:     orderMeta{ReturnURL: c.ReturnURL, NotifyURL: c.NotifyURL},
	}
	var out Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		return Order{}, err
	}
	return out, nil
}

// PaymentAttempt is one recorded payment against an order. An order can carry
// several failed attempts before a successful one.
type PaymentAttempt struct {
	PaymentID    string `json:"cf_payment_id"`
	Status       string `json:"payment_status"`
	Method       string `json:"payment_group"`
	CompletedAt  string `json:"payment_completion_time"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_description"`
}

// Succeeded reports whether this attempt collected money.
func (a PaymentAttempt) Succeeded() bool { return a.Status == "SUCCESS" }

// Failed reports whether this attempt terminally failed.
func (a PaymentAttempt) Failed() bool {
	return a.Status == "FAILED" || a.Status == "CANCELLED" || a.Status == "USER_DROPPED"
}

// FetchPayments returns all payment attempts recorded against an order,
// newest first per the provider's ordering.
func (c *Client) FetchPayments(ctx context.Context, orderID string) ([]PaymentAttempt, error) {
	var out []PaymentAttempt
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID+"/payments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("x-client-id", c.ClientID)
	req.Header.Set("x-client-secret", c.ClientSecret)
	req.Header.Set("x-api-version", "2023-08-01")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return GatewayError{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GatewayError{Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return GatewayError{Status: resp.StatusCode, Message: apiErr.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return GatewayError{Status: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	return nil
}
