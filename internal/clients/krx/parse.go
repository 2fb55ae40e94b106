package krx

import (
	"math"
	"strconv"
	"strings"

	"github.com/mkkang/swingbot/internal/models"
)

func stringValue(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// parseNumber parses the portal's comma-grouped numerics; empty or
// non-numeric values become NaN.
func parseNumber(v any) models.PriceValue {
	switch val := v.(type) {
	case float64:
		return models.PriceValue(val)
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(val), ",", "")
		if s == "" || s == "-" {
			return models.PriceValue(math.NaN())
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.PriceValue(math.NaN())
		}
		return models.PriceValue(f)
	default:
		return models.PriceValue(math.NaN())
	}
}
