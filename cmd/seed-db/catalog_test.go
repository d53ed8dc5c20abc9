package main

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `{
  "products": [
    {"id": 1, "name": "Espresso machine", "price": "1000", "stock": 5, "category": "coffee", "image_url": "img/espresso.png"},
    {"id": 2, "name": "Milk jug", "price": 24.9, "stock": 12, "active": false}
  ],
  "offers": [
    {"product_id": 1, "discount_pct": 10, "ends_at": "2026-12-31T23:59:59Z"}
  ]
}`

func TestDecodeCatalog(t *testing.T) {
	c, err := decodeCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)

	require.Len(t, c.Products, 2)
	assert.Equal(t, "1000.00", c.Products[0].Price.StringFixed(2))
	assert.True(t, c.Products[0].Active)
	assert.False(t, c.Products[1].Active)
	assert.Equal(t, "24.90", c.Products[1].Price.StringFixed(2))

	require.Len(t, c.Offers, 1)
	assert.True(t, c.Offers[0].Active)
	require.NotNil(t, c.Offers[0].EndsAt)
	assert.Equal(t, 2026, c.Offers[0].EndsAt.Year())
	assert.Equal(t, []int64{1, 2}, c.productIDs())
}

func TestDecodeCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{"zero id", `{"products":[{"id":0,"name":"x","price":"1"}]}`, "id must be positive"},
		{"duplicate", `{"products":[{"id":1,"price":"1"},{"id":1,"price":"2"}]}`, "duplicate id"},
		{"negative price", `{"products":[{"id":1,"price":"-1"}]}`, "negative price"},
		{"negative stock", `{"products":[{"id":1,"price":"1","stock":-3}]}`, "negative stock"},
		{"orphan offer", `{"products":[],"offers":[{"product_id":9,"discount_pct":5}]}`, "unknown product 9"},
		{"unknown field", `{"coupons":[]}`, "parse catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeCatalog(strings.NewReader(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestReadCatalog_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(sampleCatalog))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	c, err := readCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.Products, 2)
}

func TestReadCatalog_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	c, err := readCatalog(path)
	require.NoError(t, err)
	assert.Len(t, c.Offers, 1)

	_, err = readCatalog(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
