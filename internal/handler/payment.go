package handler

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

type CreatePreferenceInput struct {
	Body CartBody
}

type PreferenceBody struct {
	IntentID           string `json:"intent_id"`
	ExternalReference  string `json:"external_reference"`
	PreferenceID       string `json:"preference_id"`
	RedirectURL        string `json:"redirect_url"`
	SandboxRedirectURL string `json:"sandbox_redirect_url,omitempty"`
}

type CreatePreferenceOutput struct {
	Body PreferenceBody
}

type ConfirmPaymentInput struct {
	Body struct {
		PaymentID         string `json:"payment_id" required:"false"`
		PreferenceID      string `json:"preference_id,omitempty"`
		ExternalReference string `json:"external_reference,omitempty"`
	}
}

type ConfirmBody struct {
	Status      string `json:"status" doc:"Intent status, empty when no intent matched"`
	Outcome     string `json:"outcome"`
	IntentID    string `json:"intent_id,omitempty"`
	OrderID     *int64 `json:"order_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
	Message     string `json:"message"`
}

type ConfirmPaymentOutput struct {
	Body ConfirmBody
}

func (h *Handler) registerPayments(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-payment-preference",
		Summary:       "Start a gateway checkout",
		Description:   "Stores a pending payment intent for the priced cart and opens a gateway preference for it.",
		Method:        http.MethodPost,
		Path:          "/api/payments/preference",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"Payments"},
		Security:      security,
	}, h.CreatePreference)

	huma.Register(api, huma.Operation{
		OperationID: "confirm-payment",
		Summary:     "Confirm a payment after the gateway redirect",
		Method:      http.MethodPost,
		Path:        "/api/payments/confirm",
		Tags:        []string{"Payments"},
		Security:    security,
	}, h.ConfirmPayment)
}

// CreatePreference opens a gateway checkout for the cart.
func (h *Handler) CreatePreference(ctx context.Context, in *CreatePreferenceInput) (*CreatePreferenceOutput, error) {
	p, err := authorize(ctx, auth.CapCreatePayment)
	if err != nil {
		return nil, err
	}

	pref, err := h.payments.CreatePreference(ctx, in.Body.request(), p.UserID)
	if err != nil {
		return nil, schemaError(ctx, err)
	}
	return &CreatePreferenceOutput{Body: PreferenceBody{
		IntentID:           pref.IntentID.String(),
		ExternalReference:  pref.ExternalReference,
		PreferenceID:       pref.PreferenceID,
		RedirectURL:        pref.RedirectURL,
		SandboxRedirectURL: pref.SandboxRedirectURL,
	}}, nil
}

// ConfirmPayment settles the intent behind a payment synchronously.
func (h *Handler) ConfirmPayment(ctx context.Context, in *ConfirmPaymentInput) (*ConfirmPaymentOutput, error) {
	if _, err := authorize(ctx, auth.CapConfirmPayment); err != nil {
		return nil, err
	}

	res, err := h.payments.ConfirmPayment(ctx, payment.ConfirmRequest{
		PaymentID:         in.Body.PaymentID,
		PreferenceID:      in.Body.PreferenceID,
		ExternalReference: in.Body.ExternalReference,
	})
	if err != nil {
		return nil, schemaError(ctx, err)
	}
	return &ConfirmPaymentOutput{Body: confirmBody(res)}, nil
}

func confirmBody(res *payment.Result) ConfirmBody {
	b := ConfirmBody{
		Status:  string(res.Status),
		Outcome: string(res.Outcome),
		OrderID: res.OrderID,
		Message: res.Message,
	}
	if res.IntentID != uuid.Nil {
		b.IntentID = res.IntentID.String()
	}
	if res.OrderID != nil {
		b.OrderNumber = order.FormatNumber(*res.OrderID)
	}
	return b
}
