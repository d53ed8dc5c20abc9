// Package mercadopago is a minimal Mercado Pago Checkout Pro client.
package mercadopago

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.mercadopago.com"

const maxBodySize = 1 << 20

var _ payment.Gateway = (*Client)(nil)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mercadopago: status %d", e.StatusCode)
	}
	return fmt.Sprintf("mercadopago: status %d: %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client talks to the Mercado Pago REST API. It is safe for concurrent use
// and is meant to be created once per process.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// New returns a Client. Outgoing requests are traced through otelhttp.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.AccessToken,
	}
}

// CreatePreference opens a Checkout Pro preference. The external reference
// doubles as the idempotency key, so a retried call cannot open two.
func (c *Client) CreatePreference(ctx context.Context, req payment.PreferenceRequest) (*payment.Preference, error) {
	body := encodePreference(req)

	resp, err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, req.ExternalReference)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusCreated {
		return nil, decodeAPIError(resp.status, resp.body)
	}

	pref, err := decodePreference(resp.body)
	if err != nil {
		return nil, errors.Wrap(err, "decode preference")
	}
	return pref, nil
}

// GetPayment fetches a payment. A payment the API does not know is returned
// with no status and no external reference.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, "")
	if err != nil {
		return nil, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return &payment.Payment{ID: paymentID}, nil
	default:
		return nil, decodeAPIError(resp.status, resp.body)
	}

	p, err := decodePayment(resp.body)
	if err != nil {
		return nil, errors.Wrap(err, "decode payment")
	}
	if p.ID == "" {
		p.ID = paymentID
	}
	return p, nil
}

type response struct {
	status int
	body   []byte
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) (*response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return &response{status: res.StatusCode, body: data}, nil
}
