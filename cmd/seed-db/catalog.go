package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/offer"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

type catalogFile struct {
	Products []productJSON `json:"products"`
	Offers   []offerJSON   `json:"offers"`
}

type productJSON struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Active   *bool           `json:"active"`
	Category string          `json:"category"`
	ImageURL string          `json:"image_url"`
}

type offerJSON struct {
	ProductID   int64      `json:"product_id"`
	DiscountPct int        `json:"discount_pct"`
	EndsAt      *time.Time `json:"ends_at"`
	Active      *bool      `json:"active"`
}

type catalog struct {
	Products []product.Product
	Offers   []offer.Offer
}

// readCatalog loads a catalog file. Files ending in .gz are gunzipped.
func readCatalog(path string) (*catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return decodeCatalog(r)
}

func decodeCatalog(r io.Reader) (*catalog, error) {
	var file catalogFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}

	c := &catalog{}
	known := make(map[int64]bool, len(file.Products))
	for _, p := range file.Products {
		switch {
		case p.ID <= 0:
			return nil, errors.Errorf("product %q: id must be positive", p.Name)
		case known[p.ID]:
			return nil, errors.Errorf("product %d: duplicate id", p.ID)
		case p.Price.IsNegative():
			return nil, errors.Errorf("product %d: negative price", p.ID)
		case p.Stock < 0:
			return nil, errors.Errorf("product %d: negative stock", p.ID)
		}
		known[p.ID] = true
		c.Products = append(c.Products, product.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    p.Price.Round(2),
			Stock:    p.Stock,
			Active:   p.Active == nil || *p.Active,
			Category: p.Category,
			ImageURL: p.ImageURL,
		})
	}
	for _, o := range file.Offers {
		if !known[o.ProductID] {
			return nil, errors.Errorf("offer for unknown product %d", o.ProductID)
		}
		c.Offers = append(c.Offers, offer.Offer{
			ProductID:   o.ProductID,
			DiscountPct: o.DiscountPct,
			EndsAt:      o.EndsAt,
			Active:      o.Active == nil || *o.Active,
		})
	}
	return c, nil
}

func (c *catalog) productIDs() []int64 {
	ids := make([]int64, len(c.Products))
	for i, p := range c.Products {
		ids[i] = p.ID
	}
	return ids
}
