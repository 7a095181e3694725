package format

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0.00"},
		{"5", "5.00"},
		{"999.5", "999.50"},
		{"1000", "1,000.00"},
		{"12345.678", "12,345.68"},
		{"1234567.5", "12,34,567.50"},
		{"123456789", "12,34,56,789.00"},
		{"-98765.4", "-98,765.40"},
		{"0.005", "0.01"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Amount(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2", "2"},
		{"2.5", "2.5"},
		{"0.25", "0.25"},
		{"1234.5678", "1,234.568"},
		{"100000", "1,00,000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Number(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestFloatHelpers(t *testing.T) {
	assert.Equal(t, "1,50,000.00", AmountFloat(150000))
	assert.Equal(t, "1.5", NumberFloat(1.5))
}
