package validator

import (
	"regexp"
	"strconv"
	"strings"
)

// amountPattern finds a number with an optional currency marker before it
// and an optional word or percent sign after it.
var amountPattern = regexp.MustCompile(`(?i)(\$|us\$|usd|clp|eur|€)?\s*(\d[\d.,]*\d|\d)\s*(%|[a-zñóáé]+)?`)

var multipliers = map[string]float64{
	"k": 1e3, "mil": 1e3, "thousand": 1e3, "miles": 1e3,
	"m": 1e6, "mm": 1e6, "mill": 1e6, "millon": 1e6, "millón": 1e6, "millones": 1e6,
	"million": 1e6, "millions": 1e6,
	"b": 1e9, "billion": 1e9, "billions": 1e9,
}

// amount is a number quoted in prose.
type amount struct {
	Text     string
	Value    float64
	Currency bool
}

// round reports whether v looks like an estimate: at least ten thousand
// and a multiple of a thousand.
func (a amount) round() bool {
	return a.Value >= 10_000 && a.Value == float64(int64(a.Value/1000))*1000
}

// amounts extracts the numbers stated in prose. Percentages and bare
// years are skipped.
func amounts(prose string) []amount {
	var out []amount
	for _, m := range amountPattern.FindAllStringSubmatchIndex(prose, -1) {
		currency := m[2] >= 0
		digits := prose[m[4]:m[5]]
		var word string
		if m[6] >= 0 {
			word = strings.ToLower(prose[m[6]:m[7]])
		}
		if word == "%" {
			continue
		}
		v, ok := parseNumber(digits)
		if !ok {
			continue
		}
		end := m[5]
		if mult, ok := multipliers[word]; ok {
			v *= mult
			end = m[7]
		} else if !currency && isYear(digits, v) {
			continue
		}
		out = append(out, amount{Text: strings.TrimSpace(prose[m[0]:end]), Value: v, Currency: currency})
	}
	return out
}

func isYear(digits string, v float64) bool {
	return len(digits) == 4 && !strings.ContainsAny(digits, ".,") && v >= 1900 && v <= 2100
}

// parseNumber reads both "1,250,000.50" and "5.200.000" / "5,2". A lone
// separator followed by exactly three digits is a thousands separator;
// when both separators appear the last one is the decimal mark.
func parseNumber(s string) (float64, bool) {
	lastDot, lastComma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	var decimal byte
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			decimal = '.'
		} else {
			decimal = ','
		}
	case lastDot >= 0:
		decimal = decimalMark(s, '.')
	case lastComma >= 0:
		decimal = decimalMark(s, ',')
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == decimal:
			b.WriteByte('.')
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	return v, err == nil
}

// decimalMark decides whether sep, the only separator kind in s, is a
// decimal mark (returned) or a thousands separator (returns 0).
func decimalMark(s string, sep byte) byte {
	if strings.Count(s, string(sep)) > 1 {
		return 0
	}
	i := strings.IndexByte(s, sep)
	if len(s)-i-1 == 3 {
		return 0
	}
	return sep
}
