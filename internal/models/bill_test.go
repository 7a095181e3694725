package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBill() BillRecord {
	return BillRecord{
		SNo:          "0007",
		Date:         "2024-06-15",
		CustomerName: "Asha",
		Items: []BillItem{
			{ID: "a", Name: "Roses", Quantity: 2, Rate: 45},
			{ID: "b", Name: "Marigold", Quantity: 1.5, Rate: 110},
		},
		Basket:     3,
		Luggage:    10,
		OldBalance: 40,
		PaidAmount: 100,
	}
}

func TestTotals(t *testing.T) {
	totals := sampleBill().Totals()

	assert.Equal(t, "255", totals.SubTotal.String())
	assert.Equal(t, "265", totals.Total.String())
	assert.Equal(t, "205", totals.BalanceDue.String())
}

func TestTotalsAvoidFloatDrift(t *testing.T) {
	bill := BillRecord{Items: []BillItem{
		{ID: "a", Quantity: 3, Rate: 0.1},
		{ID: "b", Quantity: 1, Rate: 0.2},
	}}
	assert.Equal(t, "0.5", bill.Totals().SubTotal.String())
}

func TestTotalsIgnoreBasket(t *testing.T) {
	bill := sampleBill()
	before := bill.Totals()
	bill.Basket = 99
	assert.True(t, before.Total.Equal(bill.Totals().Total))
}

func TestTotalsMarshalAsNumbers(t *testing.T) {
	out, err := json.Marshal(sampleBill().Totals())
	require.NoError(t, err)
	assert.JSONEq(t, `{"subTotal":255,"total":265,"balanceDue":205}`, string(out))
}

func TestValidate(t *testing.T) {
	ok := sampleBill()
	assert.NoError(t, ok.Validate())

	noSNo := sampleBill()
	noSNo.SNo = ""
	assert.Error(t, noSNo.Validate())

	badDate := sampleBill()
	badDate.Date = "15-06-2024"
	assert.Error(t, badDate.Validate())

	longName := sampleBill()
	longName.CustomerName = strings.Repeat("x", 256)
	assert.Error(t, longName.Validate())

	noItemID := sampleBill()
	noItemID.Items[1].ID = ""
	assert.Error(t, noItemID.Validate())
}

func TestUnmarshalIsLenient(t *testing.T) {
	var bill BillRecord
	err := json.Unmarshal([]byte(`{
		"sNo": 12,
		"date": "2024-06-15",
		"customerName": null,
		"items": [{"id": "a", "name": "Roses", "quantity": "2", "rate": "abc"}],
		"luggage": "10.5",
		"paidAmount": null
	}`), &bill)
	require.NoError(t, err)

	assert.Equal(t, "12", bill.SNo)
	assert.Equal(t, "", bill.CustomerName)
	assert.Equal(t, 2.0, bill.Items[0].Quantity)
	assert.Equal(t, 0.0, bill.Items[0].Rate)
	assert.Equal(t, 10.5, bill.Luggage)
	assert.Equal(t, 0.0, bill.PaidAmount)
	assert.Equal(t, 0.0, bill.OldBalance)
}

func TestUnmarshalZeroesNonFiniteNumbers(t *testing.T) {
	var bill BillRecord
	err := json.Unmarshal([]byte(`{
		"sNo": "0001",
		"date": "2024-06-15",
		"items": [{"id": "a", "quantity": "NaN", "rate": "Infinity"}],
		"luggage": "inf",
		"oldBalance": "-inf",
		"paidAmount": " +Inf "
	}`), &bill)
	require.NoError(t, err)

	assert.Equal(t, 0.0, bill.Items[0].Quantity)
	assert.Equal(t, 0.0, bill.Items[0].Rate)
	assert.Equal(t, 0.0, bill.Luggage)
	assert.Equal(t, 0.0, bill.OldBalance)
	assert.Equal(t, 0.0, bill.PaidAmount)

	assert.NotPanics(t, func() { bill.Totals() })
	_, err = json.Marshal(bill)
	assert.NoError(t, err)
}

func TestUnmarshalNullItems(t *testing.T) {
	var bill BillRecord
	require.NoError(t, json.Unmarshal([]byte(`{"sNo":"0001","date":"2024-06-15","items":null}`), &bill))
	assert.NotNil(t, bill.Items)
	assert.Empty(t, bill.Items)
}

func TestCloneDoesNotShareItems(t *testing.T) {
	bill := sampleBill()
	c := bill.Clone()
	c.Items[0].Name = "Lilies"
	assert.Equal(t, "Roses", bill.Items[0].Name)
}

func TestNewBillRecordHasOneBlankItem(t *testing.T) {
	bill := NewBillRecord("0003", "2024-06-15", "item-1")
	require.Len(t, bill.Items, 1)
	assert.Equal(t, "item-1", bill.Items[0].ID)
	assert.Equal(t, "0", bill.Totals().BalanceDue.String())
}

func TestSequenceHelpers(t *testing.T) {
	assert.Equal(t, "0001", FormatSequence(1))
	assert.Equal(t, "10000", FormatSequence(10000))

	n, ok := ParseSequence("0042")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
	_, ok = ParseSequence("A-12")
	assert.False(t, ok)
	_, ok = ParseSequence("")
	assert.False(t, ok)
	_, ok = ParseSequence("-5")
	assert.False(t, ok)

	assert.Equal(t, FirstSequence, NextSequence(nil))
	assert.Equal(t, "0043", NextSequence([]string{"0007", "draft", "0042"}))
	assert.Equal(t, "10000", NextSequence([]string{"9999"}))

	assert.Equal(t, "0010", MaxSequence("0009", "0010"))
	assert.Equal(t, "0009", MaxSequence("0009", "junk"))
	assert.Equal(t, "0002", MaxSequence("", "0002"))
}

func TestSortNewestFirst(t *testing.T) {
	bills := []BillRecord{
		{SNo: "0002", Date: "2024-06-01"},
		{SNo: "0010", Date: "2024-06-15"},
		{SNo: "0009", Date: "2024-06-15"},
		{SNo: "0011", Date: "2024-05-30"},
	}
	SortNewestFirst(bills)

	var order []string
	for _, b := range bills {
		order = append(order, b.SNo)
	}
	assert.Equal(t, []string{"0010", "0009", "0002", "0011"}, order)
}

func TestSortByDateDescKeepsTies(t *testing.T) {
	bills := []BillRecord{
		{SNo: "0001", Date: "2024-06-15"},
		{SNo: "0005", Date: "2024-06-16"},
		{SNo: "0003", Date: "2024-06-15"},
	}
	SortByDateDesc(bills)
	assert.Equal(t, "0005", bills[0].SNo)
	assert.Equal(t, "0001", bills[1].SNo)
	assert.Equal(t, "0003", bills[2].SNo)
}

func TestSameCustomer(t *testing.T) {
	assert.True(t, SameCustomer("Asha", "ASHA"))
	assert.False(t, SameCustomer("Asha", "Asha K"))
}
