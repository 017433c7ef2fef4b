package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/rop-settlement/internal/domain/settlement"
)

const maxBodySize = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

type decodable interface {
	decode(d *jx.Decoder) error
}

// decodeBody reads a JSON body into v and validates it.
func decodeBody(r *http.Request, v decodable) error {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err != nil {
		return badRequest("read body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return badRequest("request body required", nil)
	}
	if err := v.decode(jx.DecodeBytes(data)); err != nil {
		return badRequest("invalid JSON", err)
	}
	if err := validate.Struct(v); err != nil {
		return badRequest("validation failed", formatValidationErrors(err))
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		msgs = append(msgs, field+" "+validationMessage(fe))
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return "is invalid"
}

type packagesRequest struct {
	Packages              []packageDTO `json:"packages" validate:"dive"`
	UseAnyMethod          bool         `json:"use_any_method"`
	NoAutoShippingMethods bool         `json:"no_auto_shipping_methods"`
}

type packageDTO struct {
	ID       string       `json:"id" validate:"required"`
	ShipCode string       `json:"shipcode"`
	Tracking string       `json:"tracking"`
	From     string       `json:"from" validate:"required"`
	Date     string       `json:"date"`
	Contents []contentDTO `json:"contents" validate:"dive"`
}

type contentDTO struct {
	LineItemID string `json:"line_item_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gte=0"`
}

func (p *packagesRequest) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "packages":
			return d.Arr(func(d *jx.Decoder) error {
				var pkg packageDTO
				if err := pkg.decode(d); err != nil {
					return err
				}
				p.Packages = append(p.Packages, pkg)
				return nil
			})
		case "use_any_method":
			return decodeBool(d, &p.UseAnyMethod)
		case "no_auto_shipping_methods":
			return decodeBool(d, &p.NoAutoShippingMethods)
		default:
			return d.Skip()
		}
	})
}

func (p *packageDTO) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			return decodeString(d, &p.ID)
		case "shipcode":
			return decodeString(d, &p.ShipCode)
		case "tracking":
			return decodeString(d, &p.Tracking)
		case "from":
			return decodeString(d, &p.From)
		case "date":
			return decodeString(d, &p.Date)
		case "contents":
			return d.Arr(func(d *jx.Decoder) error {
				var c contentDTO
				err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					switch string(key) {
					case "line_item_id":
						return decodeString(d, &c.LineItemID)
					case "quantity":
						v, err := d.Int()
						if err != nil {
							return errors.Wrap(err, "quantity")
						}
						c.Quantity = v
						return nil
					default:
						return d.Skip()
					}
				})
				if err != nil {
					return err
				}
				p.Contents = append(p.Contents, c)
				return nil
			})
		default:
			return d.Skip()
		}
	})
}

func (p *packagesRequest) toDomain() (settlement.AddPackagesRequest, error) {
	out := settlement.AddPackagesRequest{
		Packages: make([]settlement.Package, 0, len(p.Packages)),
		Methods: settlement.MethodOptions{
			UseAnyMethod:  p.UseAnyMethod,
			NoAutoMethods: p.NoAutoShippingMethods,
		},
	}
	for _, dto := range p.Packages {
		pkg, err := dto.toDomain()
		if err != nil {
			return settlement.AddPackagesRequest{}, err
		}
		out.Packages = append(out.Packages, pkg)
	}
	return out, nil
}

func (p *packageDTO) toDomain() (settlement.Package, error) {
	date, err := parseShipDate(p.Date)
	if err != nil {
		return settlement.Package{}, badRequest(fmt.Sprintf("package %s: invalid date %q", p.ID, p.Date), nil)
	}
	contents := make([]settlement.PackageItem, len(p.Contents))
	for i, c := range p.Contents {
		contents[i] = settlement.PackageItem{LineItemID: c.LineItemID, Quantity: c.Quantity}
	}
	return settlement.Package{
		ID:       p.ID,
		ShipCode: p.ShipCode,
		Tracking: p.Tracking,
		From:     p.From,
		Date:     date,
		Contents: contents,
	}, nil
}

// DecodePackage reads one package object in the format accepted by the
// packages endpoint.
func DecodePackage(d *jx.Decoder) (settlement.Package, error) {
	var p packageDTO
	if err := p.decode(d); err != nil {
		return settlement.Package{}, badRequest("invalid JSON", err)
	}
	if err := validate.Struct(&p); err != nil {
		return settlement.Package{}, badRequest("validation failed", formatValidationErrors(err))
	}
	return p.toDomain()
}

var shipDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// parseShipDate accepts the layouts ROP has been seen to emit. An empty
// date yields the zero time and the engine substitutes the current time.
func parseShipDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range shipDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unsupported date %q", s)
}

type paymentFlagsDTO struct {
	OKCapture        bool `json:"ok_capture"`
	OKPartialCapture bool `json:"ok_partial_capture"`
	OKVoid           bool `json:"ok_void"`
	OKRefund         bool `json:"ok_refund"`
}

func (f *paymentFlagsDTO) decodeField(d *jx.Decoder, key string) (bool, error) {
	switch key {
	case "ok_capture":
		return true, decodeBool(d, &f.OKCapture)
	case "ok_partial_capture":
		return true, decodeBool(d, &f.OKPartialCapture)
	case "ok_void":
		return true, decodeBool(d, &f.OKVoid)
	case "ok_refund":
		return true, decodeBool(d, &f.OKRefund)
	}
	return false, nil
}

func (f paymentFlagsDTO) toDomain() settlement.PaymentFlags {
	return settlement.PaymentFlags{
		Capture:        f.OKCapture,
		PartialCapture: f.OKPartialCapture,
		Void:           f.OKVoid,
		Refund:         f.OKRefund,
	}
}

type completeRequest struct {
	paymentFlagsDTO
	UseAnyMethod          bool   `json:"use_any_method"`
	PartialShipName       string `json:"partial_ship_name"`
	NoAutoShippingMethods bool   `json:"no_auto_shipping_methods"`
}

func (c *completeRequest) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		k := string(key)
		if ok, err := c.paymentFlagsDTO.decodeField(d, k); ok {
			return err
		}
		switch k {
		case "use_any_method":
			return decodeBool(d, &c.UseAnyMethod)
		case "partial_ship_name":
			return decodeString(d, &c.PartialShipName)
		case "no_auto_shipping_methods":
			return decodeBool(d, &c.NoAutoShippingMethods)
		default:
			return d.Skip()
		}
	})
}

func (c *completeRequest) toDomain() settlement.CompleteRequest {
	return settlement.CompleteRequest{
		Payments: c.paymentFlagsDTO.toDomain(),
		Methods: settlement.MethodOptions{
			UseAnyMethod:  c.UseAnyMethod,
			NoAutoMethods: c.NoAutoShippingMethods,
			MethodName:    strings.TrimSpace(c.PartialShipName),
		},
	}
}

type refundRequest struct {
	paymentFlagsDTO
	RefundID string `json:"refund_id" validate:"required"`
	Amount   string `json:"amount" validate:"required"`
}

func (rr *refundRequest) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		k := string(key)
		if ok, err := rr.paymentFlagsDTO.decodeField(d, k); ok {
			return err
		}
		switch k {
		case "refund_id":
			return decodeString(d, &rr.RefundID)
		case "amount":
			return decodeString(d, &rr.Amount)
		default:
			return d.Skip()
		}
	})
}

func (rr *refundRequest) toDomain() (settlement.RefundRequest, error) {
	amount, err := decimal.NewFromString(rr.Amount)
	if err != nil {
		return settlement.RefundRequest{}, badRequest(fmt.Sprintf("invalid amount %q", rr.Amount), nil)
	}
	// Amounts are stored as NUMERIC(12,2); finer values would be rounded silently.
	if !amount.Equal(amount.Round(2)) {
		return settlement.RefundRequest{}, badRequest(fmt.Sprintf("amount %q has more than 2 decimal places", rr.Amount), nil)
	}
	return settlement.RefundRequest{
		RefundID: rr.RefundID,
		Amount:   amount,
		Payments: rr.paymentFlagsDTO.toDomain(),
	}, nil
}

// decodeString accepts strings and numbers; ROP sends ids both ways.
func decodeString(d *jx.Decoder, dst *string) error {
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return err
		}
		*dst = v
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return err
		}
		*dst = n.String()
	case jx.Null:
		return d.Null()
	default:
		return errors.Errorf("expected string, got %s", d.Next())
	}
	return nil
}

func decodeBool(d *jx.Decoder, dst *bool) error {
	switch d.Next() {
	case jx.Bool:
		v, err := d.Bool()
		if err != nil {
			return err
		}
		*dst = v
	case jx.Null:
		return d.Null()
	default:
		return errors.Errorf("expected bool, got %s", d.Next())
	}
	return nil
}

func encodeEmpty() []byte {
	return []byte("{}")
}

func encodeResult(res *settlement.Result) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("errors")
	e.ArrStart()
	if res != nil {
		for _, msg := range res.Errors {
			e.Str(msg)
		}
	}
	e.ArrEnd()
	e.FieldStart("status")
	e.ArrStart()
	if res != nil {
		for _, s := range res.Status {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(s.ID)
			e.FieldStart("state")
			e.Str(string(s.State))
			e.FieldStart("amount")
			e.Str(s.Amount.StringFixed(2))
			e.FieldStart("credit")
			e.Str(s.Credit.StringFixed(2))
			e.ObjEnd()
		}
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}
