package query

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ziadkadry99/erp-copilot/internal/erp"
)

// keyAliases maps English and Spanish filter words to vocabulary keys.
var keyAliases = map[string]string{
	"customer": "customer", "client": "customer", "cliente": "customer",
	"supplier": "supplier", "vendor": "supplier", "proveedor": "supplier",
	"partner": "partner", "contact": "partner", "contacto": "partner",
	"product": "product", "producto": "product",
	"category": "category", "categoria": "category",
	"salesperson": "salesperson", "seller": "salesperson", "vendedor": "salesperson",
	"company": "company", "empresa": "company", "compania": "company",
	"country": "country", "pais": "country",
	"team": "team", "equipo": "team",
	"amount": "amount", "total": "amount", "monto": "amount",
	"quantity": "quantity", "qty": "quantity", "cantidad": "quantity",
	"state": "state", "status": "state", "estado": "state",
	"name": "name", "nombre": "name",
}

var numericKeys = map[string]bool{"amount": true, "quantity": true}

var (
	clauseSplit   = regexp.MustCompile(`(?i)\s*;\s*|,\s+|\s+(?:and|y)\s+`)
	clauseStart   = regexp.MustCompile(`^[\p{L}_]+\s*(?:>=|<=|!=|=|:|>|<)`)
	clausePattern = regexp.MustCompile(`^([\p{L}_]+)\s*(>=|<=|!=|=|:|>|<)\s*(.+)$`)
)

func canonicalKey(word string) string {
	n := normalize(word)
	if k, ok := keyAliases[n]; ok {
		return k
	}
	return n
}

// ParseFilter translates a constrained filter expression such as
// "customer: acme and amount > 1000" into domain clauses for p. Clauses are
// separated by "and", "y", ";" or ", " when the next clause starts with
// <key> <op>, so values like "Johnson and Johnson" stay whole. Quoted
// values are never split. Anything outside the vocabulary is rejected
// rather than guessed.
func ParseFilter(expr string, p Profile) (erp.Domain, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	var out erp.Domain
	for _, raw := range splitClauses(expr) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		c, err := parseClause(raw, p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// splitClauses cuts expr at separators that are outside quotes and
// followed by the start of another clause.
func splitClauses(expr string) []string {
	var out []string
	start := 0
	for _, loc := range clauseSplit.FindAllStringIndex(expr, -1) {
		if quoted(expr[:loc[0]]) || !clauseStart.MatchString(expr[loc[1]:]) {
			continue
		}
		out = append(out, expr[start:loc[0]])
		start = loc[1]
	}
	return append(out, expr[start:])
}

// quoted reports whether s leaves a quote open. A quote only opens after
// a space or an operator, so the apostrophe in O'Brien is text.
func quoted(s string) bool {
	var open rune
	prev := ' '
	for _, r := range s {
		switch {
		case open != 0 && r == open:
			open = 0
		case open == 0 && (r == '"' || r == '\'') && (unicode.IsSpace(prev) || strings.ContainsRune(":=<>!", prev)):
			open = r
		}
		prev = r
	}
	return open != 0
}

func parseClause(raw string, p Profile) (erp.Condition, error) {
	m := clausePattern.FindStringSubmatch(raw)
	if m == nil {
		return erp.Condition{}, invalid("cannot parse filter %q: expected <key> <op> <value> with key one of %s",
			raw, strings.Join(p.Keys(), ", "))
	}
	key, op := canonicalKey(m[1]), m[2]
	value := strings.Trim(strings.TrimSpace(m[3]), `"'`)
	if value == "" {
		return erp.Condition{}, invalid("filter %q has an empty value", raw)
	}

	field, ok := p.Field(key)
	if !ok {
		return erp.Condition{}, invalid("unsupported filter key %q for %s (supported: %s)",
			m[1], p.Model, strings.Join(p.Keys(), ", "))
	}

	switch {
	case numericKeys[key]:
		n, err := strconv.ParseFloat(strings.NewReplacer(",", "", "_", "", "$", "").Replace(value), 64)
		if err != nil {
			return erp.Condition{}, invalid("filter %q needs a number, got %q", m[1], value)
		}
		if op == ":" {
			op = "="
		}
		return erp.Cond(field, op, n), nil

	case key == "state":
		switch op {
		case ":", "=":
			return erp.Cond(field, "=", strings.ToLower(value)), nil
		case "!=":
			return erp.Cond(field, "!=", strings.ToLower(value)), nil
		}

	default:
		switch op {
		case ":", "=":
			return erp.Cond(field, "ilike", value), nil
		case "!=":
			return erp.Cond(field, "not ilike", value), nil
		}
	}
	return erp.Condition{}, invalid("operator %q is not supported for %q", op, m[1])
}
