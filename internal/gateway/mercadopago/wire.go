package mercadopago

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

func encodePreference(req payment.PreferenceRequest) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range req.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(it.ID)
		e.FieldStart("title")
		e.Str(it.Title)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unit_price")
		e.Raw([]byte(it.UnitPrice.StringFixed(2)))
		if it.CurrencyID != "" {
			e.FieldStart("currency_id")
			e.Str(it.CurrencyID)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("payer")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(req.Payer.Name)
	e.FieldStart("email")
	e.Str(req.Payer.Email)
	if req.Payer.Phone != "" {
		e.FieldStart("phone")
		e.ObjStart()
		e.FieldStart("number")
		e.Str(req.Payer.Phone)
		e.ObjEnd()
	}
	e.ObjEnd()

	if req.BackURLs != (payment.BackURLs{}) {
		e.FieldStart("back_urls")
		e.ObjStart()
		e.FieldStart("success")
		e.Str(req.BackURLs.Success)
		e.FieldStart("failure")
		e.Str(req.BackURLs.Failure)
		e.FieldStart("pending")
		e.Str(req.BackURLs.Pending)
		e.ObjEnd()
		if req.BackURLs.Success != "" {
			e.FieldStart("auto_return")
			e.Str("approved")
		}
	}
	if req.NotificationURL != "" {
		e.FieldStart("notification_url")
		e.Str(req.NotificationURL)
	}
	e.FieldStart("external_reference")
	e.Str(req.ExternalReference)
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

func decodePreference(data []byte) (*payment.Preference, error) {
	var p payment.Preference
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = decodeID(d)
		case "init_point":
			p.RedirectURL, err = decodeOptStr(d)
		case "sandbox_init_point":
			p.SandboxRedirectURL, err = decodeOptStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, errors.New("preference without id")
	}
	return &p, nil
}

func decodePayment(data []byte) (*payment.Payment, error) {
	var p payment.Payment
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = decodeID(d)
		case "status":
			p.Status, err = decodeOptStr(d)
		case "external_reference":
			p.ExternalReference, err = decodeOptStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeAPIError(status int, data []byte) error {
	apiErr := &APIError{StatusCode: status}
	if len(data) == 0 {
		return apiErr
	}
	var message, code string
	_ = jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "message":
			message, err = decodeOptStr(d)
		case "error":
			code, err = decodeOptStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	apiErr.Message = message
	if message == "" {
		apiErr.Message = code
	}
	return apiErr
}

// decodeID accepts numeric and string identifiers; payments use the former.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return d.Str()
	}
}

func decodeOptStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}
