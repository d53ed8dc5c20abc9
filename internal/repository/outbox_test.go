package repository

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

func TestEncodeOrderCreated(t *testing.T) {
	o := &order.Order{
		ID:     12,
		Number: "ORD-0012",
		Status: order.StatusPaid,
		Items: []order.Item{
			{ProductID: 3, Quantity: 2, UnitPrice: decimal.RequireFromString("9.5")},
		},
		Totals:    order.Totals{Total: decimal.NewFromInt(19)},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	assert.JSONEq(t, `{
		"id": 12,
		"number": "ORD-0012",
		"status": "paid",
		"total": "19.00",
		"items": [{"product_id": 3, "quantity": 2, "unit_price": "9.50"}],
		"created_at": "2026-03-01T12:00:00Z"
	}`, string(encodeOrderCreated(o)))

	o.UserID = "user-1"
	assert.Contains(t, string(encodeOrderCreated(o)), `"user_id":"user-1"`)
}
