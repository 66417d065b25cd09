package classifier

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// parseAmbiguousDecimal interprets a numeric string whose thousand and
// decimal separators are unknown. Bank SMS mix formats freely:
// "1,234.56", "1.234,56", "10 000,00" all occur in the wild.
func parseAmbiguousDecimal(s string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount")
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")

	var normalized string
	switch {
	case lastDot != -1 && lastComma != -1:
		if lastComma > lastDot {
			// "1.234,56": dots group thousands, comma is decimal
			normalized = strings.ReplaceAll(cleaned, ".", "")
			normalized = strings.ReplaceAll(normalized, ",", ".")
		} else {
			// "1,234.56": commas group thousands
			normalized = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma != -1:
		if strings.Count(cleaned, ",") > 1 {
			// "1,234,567"
			normalized = strings.ReplaceAll(cleaned, ",", "")
		} else {
			// "1,23" — a single comma is a decimal separator
			normalized = strings.ReplaceAll(cleaned, ",", ".")
		}
	case lastDot != -1:
		if strings.Count(cleaned, ".") > 1 {
			// "1.234.567": all but the last dot group thousands
			parts := strings.Split(cleaned, ".")
			normalized = strings.Join(parts[:len(parts)-1], "") + "." + parts[len(parts)-1]
		} else {
			normalized = cleaned
		}
	default:
		normalized = cleaned
	}

	// Drop currency symbols or stray letters around the number.
	var b strings.Builder
	for _, r := range normalized {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}

	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("unparseable amount %q: %w", s, err)
	}
	return d, nil
}
