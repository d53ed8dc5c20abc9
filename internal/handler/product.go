package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// ProductBody is the public view of a catalog product. Prices are decimal
// strings with two places.
type ProductBody struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	OfferPrice  string `json:"offer_price,omitempty" doc:"Unit price after the current offer"`
	DiscountPct int    `json:"discount_pct,omitempty"`
	Category    string `json:"category,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Stock       int    `json:"stock"`
	Active      bool   `json:"active"`
}

type ListProductsOutput struct {
	Body []ProductBody
}

type GetProductInput struct {
	ProductID int64 `path:"productId" minimum:"1" doc:"Product ID"`
}

type GetProductOutput struct {
	Body ProductBody
}

func (h *Handler) registerProducts(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Summary:     "List products",
		Method:      http.MethodGet,
		Path:        "/api/products",
		Tags:        []string{"Products"},
	}, h.ListProducts)

	huma.Register(api, huma.Operation{
		OperationID: "get-product",
		Summary:     "Get product",
		Method:      http.MethodGet,
		Path:        "/api/products/{productId}",
		Tags:        []string{"Products"},
	}, h.GetProduct)
}

// ListProducts returns the whole catalog with current offer prices.
func (h *Handler) ListProducts(ctx context.Context, _ *struct{}) (*ListProductsOutput, error) {
	products, err := h.products.List(ctx)
	if err != nil {
		return nil, schemaError(ctx, errors.Wrap(err, "list products"))
	}

	out := &ListProductsOutput{Body: make([]ProductBody, 0, len(products))}
	for _, p := range products {
		body, err := h.productBody(ctx, p)
		if err != nil {
			return nil, schemaError(ctx, err)
		}
		out.Body = append(out.Body, body)
	}
	return out, nil
}

// GetProduct returns one product.
func (h *Handler) GetProduct(ctx context.Context, in *GetProductInput) (*GetProductOutput, error) {
	p, err := h.products.GetByID(ctx, in.ProductID)
	if err != nil {
		return nil, schemaError(ctx, err)
	}
	body, err := h.productBody(ctx, *p)
	if err != nil {
		return nil, schemaError(ctx, err)
	}
	return &GetProductOutput{Body: body}, nil
}

func (h *Handler) productBody(ctx context.Context, p product.Product) (ProductBody, error) {
	body := ProductBody{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price.StringFixed(2),
		Category: p.Category,
		ImageURL: h.imageURL(p.ImageURL),
		Stock:    p.Stock,
		Active:   p.Active,
	}
	o, err := h.offers.Current(ctx, p)
	if err != nil {
		return ProductBody{}, err
	}
	if o != nil {
		body.OfferPrice = pricing.UnitPrice(p.Price, o).StringFixed(2)
		body.DiscountPct = o.DiscountPct
	}
	return body, nil
}

func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
