// Package handler exposes the checkout over HTTP: a huma API for catalog,
// orders and payments, and a plain chi route for gateway webhooks.
package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// APIKeyHeader carries the optional caller API key.
const APIKeyHeader = "api_key"

// ProductReader is the read side of the catalog.
type ProductReader interface {
	List(ctx context.Context) ([]product.Product, error)
	GetByID(ctx context.Context, id int64) (*product.Product, error)
}

// OrderCreator places direct orders.
type OrderCreator interface {
	Create(ctx context.Context, req order.Request, opts order.CreateOptions) (*order.Order, error)
}

// OrderReader loads persisted orders.
type OrderReader interface {
	GetByID(ctx context.Context, id int64) (*order.Order, error)
}

// Payments drives the payment intent lifecycle.
type Payments interface {
	CreatePreference(ctx context.Context, req order.Request, userID string) (*payment.PreferenceHandle, error)
	HandleNotification(ctx context.Context, paymentID string) (*payment.Result, error)
	ConfirmPayment(ctx context.Context, req payment.ConfirmRequest) (*payment.Result, error)
}

// Authenticator resolves API keys into principals.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (auth.Principal, error)
}

// Config holds non-dependency handler settings.
type Config struct {
	// ImageBaseURL is prepended to relative product image paths.
	ImageBaseURL string
}

// Handler serves the storefront API.
type Handler struct {
	products ProductReader
	offers   order.OfferResolver
	builder  OrderCreator
	orders   OrderReader
	payments Payments
	authn    Authenticator

	imageBaseURL string
}

// New creates a Handler.
func New(
	cfg Config,
	products ProductReader,
	offers order.OfferResolver,
	builder OrderCreator,
	orders OrderReader,
	payments Payments,
	authn Authenticator,
) *Handler {
	return &Handler{
		products:     products,
		offers:       offers,
		builder:      builder,
		orders:       orders,
		payments:     payments,
		authn:        authn,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// APIConfig returns the huma configuration of the storefront API.
func APIConfig(version string) huma.Config {
	cfg := huma.DefaultConfig("Storefront API", version)
	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		APIKeyHeader: {Type: "apiKey", In: "header", Name: APIKeyHeader},
	}
	return cfg
}

// Register installs the auth middleware and every operation on api, and the
// webhook on router. It must be called once, before serving.
func (h *Handler) Register(api huma.API, router chi.Router) {
	api.UseMiddleware(h.authenticate(api))

	h.registerProducts(api)
	h.registerOrders(api)
	h.registerPayments(api)

	router.Post("/api/payments/webhook", h.Webhook)
}

var security = []map[string][]string{{}, {APIKeyHeader: {}}}

// authorize rejects principals lacking c before any unit of work starts.
func authorize(ctx context.Context, c auth.Capability) (auth.Principal, error) {
	p := auth.FromContext(ctx)
	if !auth.Can(p, c) {
		return p, huma.Error403Forbidden(auth.ErrForbidden.Error())
	}
	return p, nil
}

// schemaError maps domain errors onto HTTP problems.
func schemaError(ctx context.Context, err error) error {
	var (
		notFound *order.ProductNotFoundError
		gwErr    *payment.GatewayError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, payment.ErrPaymentIDRequired),
		errors.Is(err, payment.ErrMalformedSnapshot):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &notFound):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, payment.ErrIntentNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, auth.ErrForbidden):
		return huma.Error403Forbidden(err.Error())
	case errors.As(err, &gwErr):
		zctx.From(ctx).Warn("Gateway call failed", zap.Error(err))
		return huma.Error502BadGateway("payment gateway unavailable")
	default:
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		return huma.Error500InternalServerError(http.StatusText(http.StatusInternalServerError))
	}
}
