package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPercentOf(t *testing.T) {
	tests := []struct {
		name  string
		part  Quantity
		whole Quantity
		want  string
	}{
		{"half percent", -1, 200, "0.5"},
		{"forty percent", -40, 100, "40"},
		{"positive surplus", 3, 100, "3"},
		{"zero theoretical with difference", 5, 0, "100"},
		{"negative theoretical with difference", 5, -2, "100"},
		{"zero theoretical without difference", 0, 0, "0"},
		{"rounded", 1, 3, "33.33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentOf(tt.part, tt.whole)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestExactPercentOf(t *testing.T) {
	exact := ExactPercentOf(-2004, 100000)
	assert.True(t, exact.Equal(decimal.RequireFromString("2.004")), "got %s", exact)
	assert.True(t, exact.GreaterThan(decimal.NewFromInt(2)))
	assert.True(t, PercentOf(-2004, 100000).Equal(decimal.NewFromInt(2)))
	assert.True(t, ExactPercentOf(7, 0).Equal(decimal.NewFromInt(100)))
}

func TestQuantityHelpers(t *testing.T) {
	assert.Equal(t, Quantity(4), Quantity(-4).Abs())
	assert.Equal(t, Quantity(2), Min(2, 9))
	assert.False(t, Quantity(0).IsPositive())
	assert.True(t, Quantity(12).Decimal().Equal(decimal.NewFromInt(12)))
}
