package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

const maxWebhookBody = 64 << 10

// notification is the part of a gateway webhook the checkout acts on.
type notification struct {
	Topic     string
	PaymentID string
}

// Webhook receives gateway payment notifications. It answers 200 for
// everything it cannot or need not act on, including intents whose snapshot
// cannot be replayed, and 502 when the gateway lookup fails so the gateway
// redelivers.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	n := notification{
		Topic:     firstNonEmpty(r.URL.Query().Get("type"), r.URL.Query().Get("topic")),
		PaymentID: firstNonEmpty(r.URL.Query().Get("data.id"), r.URL.Query().Get("id")),
	}
	if body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody)); err == nil && len(body) > 0 {
		fromBody, err := decodeNotification(body)
		if err != nil {
			lg.Debug("Unparseable webhook body", zap.Error(err))
		}
		n.Topic = firstNonEmpty(n.Topic, fromBody.Topic)
		n.PaymentID = firstNonEmpty(n.PaymentID, fromBody.PaymentID)
	}

	if n.Topic != "" && n.Topic != "payment" {
		writeWebhook(w, http.StatusOK, "ignored", "topic "+n.Topic+" is not handled")
		return
	}

	res, err := h.payments.HandleNotification(ctx, n.PaymentID)
	if err != nil {
		var gwErr *payment.GatewayError
		if errors.As(err, &gwErr) {
			lg.Warn("Webhook gateway lookup failed", zap.String("payment_id", n.PaymentID), zap.Error(err))
			writeWebhook(w, http.StatusBadGateway, "retry", "payment lookup failed")
			return
		}
		if unreplayable(err) {
			lg.Error("Webhook intent cannot be replayed", zap.String("payment_id", n.PaymentID), zap.Error(err))
			writeWebhook(w, http.StatusOK, string(payment.OutcomeIgnored), "intent cannot be replayed")
			return
		}
		lg.Error("Webhook failed", zap.String("payment_id", n.PaymentID), zap.Error(err))
		writeWebhook(w, http.StatusInternalServerError, "error", "notification not processed")
		return
	}
	writeWebhook(w, http.StatusOK, string(res.Outcome), res.Message)
}

// unreplayable reports errors that no redelivery can fix: the stored snapshot
// is corrupt or names a product that no longer exists.
func unreplayable(err error) bool {
	var notFound *order.ProductNotFoundError
	return errors.Is(err, payment.ErrMalformedSnapshot) || errors.As(err, &notFound)
}

// decodeNotification reads {"type":"payment","data":{"id":...}}. Ids arrive
// both as numbers and strings.
func decodeNotification(data []byte) (notification, error) {
	var n notification
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "type", "topic":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			n.Topic = firstNonEmpty(n.Topic, s)
			return err
		case "data":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "id" {
					return d.Skip()
				}
				id, err := decodeID(d)
				n.PaymentID = id
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return notification{}, errors.Wrap(err, "decode notification")
	}
	return n, nil
}

func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return "", err
		}
		return num.String(), nil
	default:
		return "", d.Skip()
	}
}

func writeWebhook(w http.ResponseWriter, status int, outcome, message string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("status")
	e.Str(outcome)
	if message != "" {
		e.FieldStart("message")
		e.Str(message)
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
