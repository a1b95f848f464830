package payindex

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func bases(vals ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		amount  int64
		bases   []decimal.Decimal
		want    int
		wantOK  bool
	}{
		{"single period with index 87", 250087, bases(250000), 87, true},
		{"multi-period amount 500123/250000", 500123, bases(250000), 123, true},
		{"exact due amount has no index", 250000, bases(250000), 0, false},
		{"remainder below minimum rejected", 250005, bases(250000), 0, false},
		{"remainder above maximum rejected", 260000, bases(250000), 0, false},
		{"amount smaller than base rejected", 87, bases(250000), 0, false},
		{"first base wins on tie", 300025, bases(300000, 150000), 25, true},
		{"second base consulted when first fails", 150042, bases(250000, 150000), 42, true},
		{"zero amount rejected", 0, bases(250000), 0, false},
		{"no bases configured", 250087, nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(decimal.NewFromInt(tt.amount), tt.bases)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_NegativeAmount(t *testing.T) {
	_, ok := Extract(decimal.NewFromInt(-250087), bases(250000))
	assert.False(t, ok)
}

func TestExtract_FractionalRemainder(t *testing.T) {
	amount, _ := decimal.NewFromString("250087.50")
	_, ok := Extract(amount, bases(250000))
	assert.False(t, ok)
}

func TestExtract_Deterministic(t *testing.T) {
	amount := decimal.NewFromInt(250087)
	b := bases(250000, 150000)

	first, ok1 := Extract(amount, b)
	second, ok2 := Extract(amount, b)
	assert.Equal(t, first, second)
	assert.Equal(t, ok1, ok2)
}

func TestExtract_BoundsInclusive(t *testing.T) {
	min, ok := Extract(decimal.NewFromInt(250010), bases(250000))
	assert.True(t, ok)
	assert.Equal(t, 10, min)

	max, ok := Extract(decimal.NewFromInt(259999), bases(250000))
	assert.True(t, ok)
	assert.Equal(t, 9999, max)
}
