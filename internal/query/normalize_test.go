package query

import (
	"math"
	"math/big"
	"testing"

	"github.com/marcboeker/go-duckdb"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeValue(t *testing.T) {
	huge, _ := new(big.Int).SetString("170141183460469231731687303715884105727", 10)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "nil", in: nil, want: nil},
		{name: "string untouched", in: "x", want: "x"},
		{name: "small int64 untouched", in: int64(42), want: int64(42)},
		{name: "safe boundary untouched", in: int64(1 << 53), want: int64(1 << 53)},
		{name: "wide int64", in: int64(1<<53 + 1), want: float64(1<<53 + 1)},
		{name: "negative wide int64", in: int64(-(1<<53 + 1)), want: float64(-(1<<53 + 1))},
		{name: "wide uint64", in: uint64(math.MaxUint64), want: float64(math.MaxUint64)},
		{name: "small big.Int", in: big.NewInt(7), want: int64(7)},
		{name: "huge big.Int", in: huge, want: 1.7014118346046923e38},
		{name: "big.Int value", in: *big.NewInt(9), want: int64(9)},
		{name: "decimal", in: duckdb.Decimal{Width: 10, Scale: 2, Value: big.NewInt(150)}, want: 1.5},
		{name: "decimal without scale", in: duckdb.Decimal{Width: 4, Value: big.NewInt(12)}, want: float64(12)},
		{name: "float untouched", in: 2.5, want: 2.5},
		{name: "nan becomes text", in: math.NaN(), want: "NaN"},
		{
			name: "list",
			in:   []any{int64(1), huge},
			want: []any{int64(1), 1.7014118346046923e38},
		},
		{
			name: "struct",
			in:   map[string]any{"a": big.NewInt(1), "b": map[string]any{"c": int64(1 << 60)}},
			want: map[string]any{"a": int64(1), "b": map[string]any{"c": float64(1 << 60)}},
		},
		{
			name: "map with non string keys",
			in:   duckdb.Map{int32(1): huge},
			want: map[string]any{"1": 1.7014118346046923e38},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeValue(tt.in))
		})
	}
}

func TestNormalizeRows(t *testing.T) {
	rows := NormalizeRows([]map[string]any{{"h": big.NewInt(1)}, {"h": nil}})
	assert.Equal(t, int64(1), rows[0]["h"])
	assert.Nil(t, rows[1]["h"])
}
