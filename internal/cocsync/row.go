package cocsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/cocledger-backend/internal/coc"
)

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

// Receipt is a validated feed row, ready for the ledger.
type Receipt = coc.RecordReceiptInput

// Rejection is a feed row that never reaches the ledger.
type Rejection struct {
	Row       int    `json:"row"`
	InvoiceNo string `json:"invoiceNo,omitempty"`
	Reason    string `json:"reason"`
}

// feedRow mirrors the supplier payload. Quantities arrive as numbers or
// numeric strings and dates as YYYY-MM-DD or RFC3339.
type feedRow struct {
	Material      string          `json:"material"`
	Brand         string          `json:"brand"`
	InvoiceNo     string          `json:"invoiceNo"`
	Quantity      json.RawMessage `json:"quantity"`
	ReceivedDate  string          `json:"receivedDate"`
	COCDocumentNo *string         `json:"cocDocumentNo"`
}

// decodeRow returns whatever invoice number it could read alongside an error
// so rejections stay traceable.
func decodeRow(raw json.RawMessage) (Receipt, error) {
	var row feedRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return Receipt{}, fmt.Errorf("malformed row: %w", err)
	}

	receipt := Receipt{
		Material:  strings.TrimSpace(row.Material),
		Brand:     strings.TrimSpace(row.Brand),
		InvoiceNo: strings.TrimSpace(row.InvoiceNo),
	}
	if row.COCDocumentNo != nil {
		if doc := strings.TrimSpace(*row.COCDocumentNo); doc != "" {
			receipt.COCDocumentNo = &doc
		}
	}

	qty, err := parseQuantity(row.Quantity)
	if err != nil {
		return receipt, err
	}
	receipt.Quantity = qty

	received, err := parseDate(row.ReceivedDate)
	if err != nil {
		return receipt, err
	}
	receipt.ReceivedDate = received

	if err := validate.Struct(receipt); err != nil {
		return receipt, describeValidation(err)
	}
	return receipt, nil
}

func parseQuantity(raw json.RawMessage) (int, error) {
	text := string(bytes.TrimSpace(raw))
	if text == "" || text == "null" {
		return 0, errors.New("quantity is required")
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("quantity: %w", err)
		}
		text = strings.TrimSpace(s)
	}
	value, err := decimal.NewFromString(text)
	if err != nil {
		return 0, fmt.Errorf("quantity %q is not numeric", text)
	}
	if !value.IsInteger() {
		return 0, fmt.Errorf("quantity %s is not a whole number", value)
	}
	if value.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return 0, fmt.Errorf("quantity %s is out of range", value)
	}
	return int(value.IntPart()), nil
}

func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("receivedDate is required")
	}
	if t, err := time.Parse(sinceLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("receivedDate %q is not a date", value)
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func describeValidation(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "gt":
			parts = append(parts, fe.Field()+" must be greater than "+fe.Param())
		case "max":
			parts = append(parts, fe.Field()+" must be at most "+fe.Param()+" characters")
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return errors.New(strings.Join(parts, "; "))
}
