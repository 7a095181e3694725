package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	// SequenceWidth is the zero-padded width of a bill sNo.
	SequenceWidth = 4
	// FirstSequence is handed out when a store holds no bills.
	FirstSequence = "0001"
	// DateLayout is the calendar date format of BillRecord.Date.
	DateLayout = "2006-01-02"
)

// BillItem is one line of a bill. Its amount is always derived.
type BillItem struct {
	ID       string  `json:"id" validate:"required"`
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Rate     float64 `json:"rate"`
}

// Amount returns quantity × rate.
func (i BillItem) Amount() decimal.Decimal {
	return decimal.NewFromFloat(i.Quantity).Mul(decimal.NewFromFloat(i.Rate))
}

// BillRecord is the persisted shape of a bill, shared by every backend and
// the API. SNo is the primary key.
type BillRecord struct {
	SNo          string     `json:"sNo" validate:"required,max=10"`
	Date         string     `json:"date" validate:"required,datetime=2006-01-02"`
	CustomerName string     `json:"customerName" validate:"max=255"`
	Items        []BillItem `json:"items" validate:"dive"`
	Basket       float64    `json:"basket"`
	Luggage      float64    `json:"luggage"`
	OldBalance   float64    `json:"oldBalance"`
	PaidAmount   float64    `json:"paidAmount"`
}

// Totals are computed on demand and never stored.
type Totals struct {
	SubTotal   decimal.Decimal
	Total      decimal.Decimal
	BalanceDue decimal.Decimal
}

// MarshalJSON writes the totals as plain JSON numbers.
func (t Totals) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SubTotal   float64 `json:"subTotal"`
		Total      float64 `json:"total"`
		BalanceDue float64 `json:"balanceDue"`
	}{
		SubTotal:   t.SubTotal.InexactFloat64(),
		Total:      t.Total.InexactFloat64(),
		BalanceDue: t.BalanceDue.InexactFloat64(),
	})
}

// Totals derives subTotal, total and balanceDue. Basket is informational and
// does not enter the totals.
func (r BillRecord) Totals() Totals {
	sub := decimal.Zero
	for _, item := range r.Items {
		sub = sub.Add(item.Amount())
	}
	total := sub.Add(decimal.NewFromFloat(r.Luggage))
	due := total.Add(decimal.NewFromFloat(r.OldBalance)).Sub(decimal.NewFromFloat(r.PaidAmount))
	return Totals{SubTotal: sub, Total: total, BalanceDue: due}
}

// Normalize makes sure a record is safe to persist: items is never nil.
func (r *BillRecord) Normalize() {
	if r.Items == nil {
		r.Items = []BillItem{}
	}
}

// Clone returns a deep copy.
func (r BillRecord) Clone() BillRecord {
	c := r
	c.Items = make([]BillItem, len(r.Items))
	copy(c.Items, r.Items)
	return c
}

// NewBillRecord returns an empty draft with one blank item.
func NewBillRecord(sNo, date, itemID string) BillRecord {
	return BillRecord{
		SNo:   sNo,
		Date:  date,
		Items: []BillItem{{ID: itemID}},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the record against its struct tags.
func (r *BillRecord) Validate() error {
	return validate.Struct(r)
}

// UnmarshalJSON decodes a bill item, coercing missing or non-numeric
// quantity and rate to zero.
func (i *BillItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       flexString `json:"id"`
		Name     flexString `json:"name"`
		Quantity flexNumber `json:"quantity"`
		Rate     flexNumber `json:"rate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = BillItem{
		ID:       string(raw.ID),
		Name:     string(raw.Name),
		Quantity: float64(raw.Quantity),
		Rate:     float64(raw.Rate),
	}
	return nil
}

// UnmarshalJSON decodes a bill record, coercing missing or non-numeric
// money fields to zero and a null item list to an empty one.
func (r *BillRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		SNo          flexString `json:"sNo"`
		Date         flexString `json:"date"`
		CustomerName flexString `json:"customerName"`
		Items        []BillItem `json:"items"`
		Basket       flexNumber `json:"basket"`
		Luggage      flexNumber `json:"luggage"`
		OldBalance   flexNumber `json:"oldBalance"`
		PaidAmount   flexNumber `json:"paidAmount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = BillRecord{
		SNo:          string(raw.SNo),
		Date:         string(raw.Date),
		CustomerName: string(raw.CustomerName),
		Items:        raw.Items,
		Basket:       float64(raw.Basket),
		Luggage:      float64(raw.Luggage),
		OldBalance:   float64(raw.OldBalance),
		PaidAmount:   float64(raw.PaidAmount),
	}
	r.Normalize()
	return nil
}

// flexNumber accepts a JSON number or numeric string; anything else,
// including NaN and infinities, is 0.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	*n = flexNumber(coerceNumber(data))
	return nil
}

func coerceNumber(data []byte) float64 {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0
		}
		data = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// flexString accepts a JSON string or number; null and other kinds are "".
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		*s = flexString(data)
	default:
		*s = ""
	}
	return nil
}

// FormatSequence renders n as a zero-padded sNo.
func FormatSequence(n int64) string {
	return fmt.Sprintf("%0*d", SequenceWidth, n)
}

// ParseSequence returns the numeric value of an all-digit sNo.
func ParseSequence(sNo string) (int64, bool) {
	if sNo == "" {
		return 0, false
	}
	for _, c := range sNo {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(sNo, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// NextSequence returns the sNo after the largest numeric one in sNos, or
// FirstSequence when there is none. Non-numeric values are ignored.
func NextSequence(sNos []string) string {
	var highest int64
	for _, s := range sNos {
		if n, ok := ParseSequence(s); ok && n > highest {
			highest = n
		}
	}
	return FormatSequence(highest + 1)
}

// MaxSequence returns the larger of two sNo strings by numeric value.
func MaxSequence(a, b string) string {
	na, okA := ParseSequence(a)
	nb, okB := ParseSequence(b)
	switch {
	case !okA:
		return b
	case !okB:
		return a
	case nb > na:
		return b
	default:
		return a
	}
}

// SortNewestFirst orders records by date descending, then sNo descending.
// The sort is stable.
func SortNewestFirst(records []BillRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		return sequenceGreater(a.SNo, b.SNo)
	})
}

// SortByDateDesc orders records by date only. Records sharing a date keep
// their relative order.
func SortByDateDesc(records []BillRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date > records[j].Date
	})
}

func sequenceGreater(a, b string) bool {
	na, okA := ParseSequence(a)
	nb, okB := ParseSequence(b)
	if okA && okB {
		return na > nb
	}
	return a > b
}

// SameCustomer reports whether two customer names match exactly, ignoring
// case.
func SameCustomer(a, b string) bool {
	return strings.EqualFold(a, b)
}
