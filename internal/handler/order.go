package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

type AddressBody struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type CustomerBody struct {
	Name    string      `json:"name" minLength:"1" maxLength:"200"`
	Email   string      `json:"email" format:"email"`
	Phone   string      `json:"phone,omitempty"`
	Address AddressBody `json:"address,omitempty"`
}

// LineBody is a requested cart line. Quantities below one count as one.
type LineBody struct {
	ProductID int64 `json:"product_id" minimum:"1"`
	Quantity  int   `json:"quantity" maximum:"10000"`
}

// CartBody is the request body shared by direct orders and payment
// preferences. Any client-side price is ignored.
type CartBody struct {
	Customer CustomerBody `json:"customer"`
	Items    []LineBody   `json:"items" maxItems:"100"`
}

func (c CartBody) request() order.Request {
	lines := make([]order.LineRequest, len(c.Items))
	for i, it := range c.Items {
		lines[i] = order.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	a := c.Customer.Address
	return order.Request{
		Customer: order.Customer{
			Name:  c.Customer.Name,
			Email: c.Customer.Email,
			Phone: c.Customer.Phone,
			Address: order.Address{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			},
		},
		Items: lines,
	}
}

type OrderItemBody struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	LineTotal   string `json:"line_total"`
}

type OrderBody struct {
	ID        int64           `json:"id"`
	Number    string          `json:"number" example:"ORD-0001"`
	Status    string          `json:"status"`
	UserID    string          `json:"user_id,omitempty"`
	Customer  CustomerBody    `json:"customer"`
	Items     []OrderItemBody `json:"items"`
	Subtotal  string          `json:"subtotal"`
	Shipping  string          `json:"shipping"`
	Discount  string          `json:"discount"`
	Taxes     string          `json:"taxes"`
	Total     string          `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
}

func orderBody(o *order.Order) OrderBody {
	items := make([]OrderItemBody, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemBody{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Quantity:    it.Quantity,
			LineTotal:   it.LineTotal.StringFixed(2),
		}
	}
	c, a := o.Customer, o.Customer.Address
	return OrderBody{
		ID:     o.ID,
		Number: o.Number,
		Status: string(o.Status),
		UserID: o.UserID,
		Customer: CustomerBody{
			Name:  c.Name,
			Email: c.Email,
			Phone: c.Phone,
			Address: AddressBody{
				Line1:      a.Line1,
				Line2:      a.Line2,
				City:       a.City,
				State:      a.State,
				PostalCode: a.PostalCode,
				Country:    a.Country,
			},
		},
		Items:     items,
		Subtotal:  o.Totals.Subtotal.StringFixed(2),
		Shipping:  o.Totals.Shipping.StringFixed(2),
		Discount:  o.Totals.Discount.StringFixed(2),
		Taxes:     o.Totals.Taxes.StringFixed(2),
		Total:     o.Totals.Total.StringFixed(2),
		CreatedAt: o.CreatedAt,
	}
}

type CreateOrderInput struct {
	Body CartBody
}

type OrderOutput struct {
	Body OrderBody
}

type GetOrderInput struct {
	OrderID int64 `path:"orderId" minimum:"1" doc:"Order ID"`
}

func (h *Handler) registerOrders(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Summary:       "Place an order",
		Description:   "Prices the cart from the catalog, takes stock and persists the order in one transaction.",
		Method:        http.MethodPost,
		Path:          "/api/orders",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"Orders"},
		Security:      security,
	}, h.CreateOrder)

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Summary:     "Get order",
		Method:      http.MethodGet,
		Path:        "/api/orders/{orderId}",
		Tags:        []string{"Orders"},
		Security:    security,
	}, h.GetOrder)
}

// CreateOrder places a direct order on behalf of the caller.
func (h *Handler) CreateOrder(ctx context.Context, in *CreateOrderInput) (*OrderOutput, error) {
	p, err := authorize(ctx, auth.CapCreateOrder)
	if err != nil {
		return nil, err
	}

	o, err := h.builder.Create(ctx, in.Body.request(), order.CreateOptions{UserID: p.UserID})
	if err != nil {
		return nil, schemaError(ctx, err)
	}
	return &OrderOutput{Body: orderBody(o)}, nil
}

// GetOrder returns an order to its owner or an admin.
func (h *Handler) GetOrder(ctx context.Context, in *GetOrderInput) (*OrderOutput, error) {
	p := auth.FromContext(ctx)
	if !auth.Can(p, auth.CapViewOwnOrder) && !auth.Can(p, auth.CapViewAnyOrder) {
		return nil, huma.Error403Forbidden(auth.ErrForbidden.Error())
	}

	o, err := h.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, schemaError(ctx, err)
	}
	if !auth.CanViewOrder(p, o.UserID) {
		return nil, schemaError(ctx, auth.ErrForbidden)
	}
	return &OrderOutput{Body: orderBody(o)}, nil
}
