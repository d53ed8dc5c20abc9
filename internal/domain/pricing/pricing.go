// Package pricing turns base prices and offers into line amounts.
//
// All amounts are shopspring decimals. Discounted prices are computed with
// four fractional digits and then rounded half-up to cents.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/offer"
)

const (
	// intermediatePlaces is the precision kept between the discount
	// multiplication and the final rounding.
	intermediatePlaces = 4
	moneyPlaces        = 2
)

var hundred = decimal.NewFromInt(100)

// UnitPrice applies o to base. Without an offer, or with a percentage outside
// the open interval (0, 100), base is returned unchanged.
func UnitPrice(base decimal.Decimal, o *offer.Offer) decimal.Decimal {
	if o == nil || o.DiscountPct <= 0 || o.DiscountPct >= 100 {
		return base
	}
	factor := decimal.NewFromInt(int64(100 - o.DiscountPct))
	return base.Mul(factor).DivRound(hundred, intermediatePlaces).Round(moneyPlaces)
}

// LineTotal is unit times qty, in cents.
func LineTotal(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty))).Round(moneyPlaces)
}

// Total combines the order-level amounts: subtotal + shipping - discount + taxes.
func Total(subtotal, shipping, discount, taxes decimal.Decimal) decimal.Decimal {
	return subtotal.Add(shipping).Sub(discount).Add(taxes).Round(moneyPlaces)
}
