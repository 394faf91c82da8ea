package query

import (
	"fmt"
	"math"
	"math/big"

	"github.com/marcboeker/go-duckdb"

	"github.com/leapstack-labs/trilogyctl/internal/protocol"
)

// maxSafeInteger is the largest integer a float64 represents exactly.
const maxSafeInteger = 1 << 53

// NormalizeRows applies NormalizeValue to every column of every row.
func NormalizeRows(rows []map[string]any) []protocol.Row {
	out := make([]protocol.Row, len(rows))
	for i, row := range rows {
		normalized := make(protocol.Row, len(row))
		for k, v := range row {
			normalized[k] = NormalizeValue(v)
		}
		out[i] = normalized
	}
	return out
}

// NormalizeValue converts values that cannot travel safely through JSON.
// Arbitrary precision and out-of-range integers become float64, decimals
// become float64, and nested lists, structs and maps are walked.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case *big.Int:
		if x == nil {
			return nil
		}
		return bigToFloat(x)
	case big.Int:
		return bigToFloat(&x)
	case duckdb.Decimal:
		return decimalToFloat(x)
	case *duckdb.Decimal:
		if x == nil {
			return nil
		}
		return decimalToFloat(*x)
	case int64:
		if x > maxSafeInteger || x < -maxSafeInteger {
			return float64(x)
		}
		return x
	case int:
		if x > maxSafeInteger || x < -maxSafeInteger {
			return float64(x)
		}
		return x
	case uint64:
		if x > maxSafeInteger {
			return float64(x)
		}
		return x
	case uint:
		if x > maxSafeInteger {
			return float64(x)
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = NormalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = NormalizeValue(item)
		}
		return out
	case duckdb.Map:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[fmt.Sprint(k)] = NormalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[fmt.Sprint(k)] = NormalizeValue(item)
		}
		return out
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Sprint(x)
		}
		return x
	default:
		return v
	}
}

func bigToFloat(x *big.Int) any {
	if x.IsInt64() {
		return NormalizeValue(x.Int64())
	}
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}

func decimalToFloat(d duckdb.Decimal) float64 {
	if d.Value == nil {
		return 0
	}
	f := new(big.Float).SetInt(d.Value)
	if d.Scale > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil))
		f.Quo(f, scale)
	}
	out, _ := f.Float64()
	return out
}
