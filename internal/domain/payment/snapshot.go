package payment

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// ErrMalformedSnapshot is returned when a stored snapshot cannot be replayed.
var ErrMalformedSnapshot = errors.New("malformed order snapshot")

// Snapshot is the order request captured when the preference was created.
// Prices are informational: replay re-prices against locked product rows.
type Snapshot struct {
	Customer order.Customer `json:"customer"`
	Items    []SnapshotItem `json:"items"`
}

// SnapshotItem is an authoritative cart line at preference time.
type SnapshotItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

func newSnapshot(c order.Customer, items []order.Item) Snapshot {
	s := Snapshot{Customer: c, Items: make([]SnapshotItem, 0, len(items))}
	for _, it := range items {
		s.Items = append(s.Items, SnapshotItem{
			ProductID: it.ProductID,
			Name:      it.ProductName,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
		})
	}
	return s
}

// Encode serializes the snapshot for storage on the intent.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	return data, nil
}

// DecodeSnapshot parses a stored snapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, errors.Wrap(ErrMalformedSnapshot, err.Error())
	}
	if len(s.Items) == 0 {
		return Snapshot{}, errors.Wrap(ErrMalformedSnapshot, "no items")
	}
	for _, it := range s.Items {
		if it.ProductID <= 0 || it.Quantity <= 0 {
			return Snapshot{}, errors.Wrapf(ErrMalformedSnapshot, "invalid line for product %d", it.ProductID)
		}
	}
	return s, nil
}

// OrderRequest converts the snapshot back into a cart for the order builder.
func (s Snapshot) OrderRequest() order.Request {
	lines := make([]order.LineRequest, 0, len(s.Items))
	for _, it := range s.Items {
		lines = append(lines, order.LineRequest{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return order.Request{Customer: s.Customer, Items: lines}
}
