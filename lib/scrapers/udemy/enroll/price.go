package enroll

import (
	"regexp"
	"strconv"
	"strings"
)

// Price is a parsed display price, e.g. "€19,99" or "$1,299.00".
type Price struct {
	Amount   float64
	Currency string
}

var amountPattern = regexp.MustCompile(`\d[\d.,\s]*`)

// ParsePrice extracts the amount and currency symbol from a localized
// price string. Both "1.299,00" and "1,299.00" style separators are
// handled, whichever separator comes last is the decimal point.
func ParsePrice(text string) (Price, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Price{}, false
	}
	if strings.EqualFold(text, "free") {
		return Price{}, true
	}

	raw := amountPattern.FindString(text)
	if raw == "" {
		return Price{}, false
	}
	currency := strings.TrimSpace(strings.Replace(text, raw, "", 1))

	raw = strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	lastComma := strings.LastIndex(raw, ",")
	lastDot := strings.LastIndex(raw, ".")

	decimal := byte(0)
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			decimal = ','
		} else {
			decimal = '.'
		}
	case lastComma >= 0:
		// a lone separator with three trailing digits is a thousands
		// separator ("1,299"), anything else is decimal ("19,9")
		if len(raw)-lastComma-1 != 3 {
			decimal = ','
		}
	case lastDot >= 0:
		if len(raw)-lastDot-1 != 3 {
			decimal = '.'
		}
	}

	var normalized strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
			normalized.WriteByte(c)
		case c == decimal:
			normalized.WriteByte('.')
		}
	}

	amount, err := strconv.ParseFloat(normalized.String(), 64)
	if err != nil {
		return Price{}, false
	}
	return Price{Amount: amount, Currency: currency}, true
}
