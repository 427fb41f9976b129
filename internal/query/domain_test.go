package query

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/erp-copilot/internal/erp"
)

func TestBuildDomainExactClauses(t *testing.T) {
	spec := QuerySpec{
		Model: "sale.report",
		Conditions: erp.Domain{
			erp.Cond("date", ">=", "2025-07-01"),
			erp.Cond("date", "<=", "2026-01-14"),
		},
	}
	domain, err := BuildDomain(spec, nil)
	require.NoError(t, err)

	b, err := json.Marshal(domain)
	require.NoError(t, err)
	assert.JSONEq(t, `[["date",">=","2025-07-01"],["date","<=","2026-01-14"],["state","in",["sale","done"]]]`, string(b))
}

func TestBuildDomainExplicitStatesOverride(t *testing.T) {
	domain, err := BuildDomain(QuerySpec{Model: "purchase.report", States: []string{"draft"}}, nil)
	require.NoError(t, err)
	require.Len(t, domain, 1)
	assert.Equal(t, erp.Cond("state", "in", []string{"draft"}), domain[0])

	domain, err = BuildDomain(QuerySpec{Model: "purchase.report", Filter: "state = cancel"}, nil)
	require.NoError(t, err)
	require.Len(t, domain, 1, "a caller state condition must suppress the default")
	assert.Equal(t, erp.Cond("state", "=", "cancel"), domain[0])
}

func TestBuildDomainFinalStatesPerModel(t *testing.T) {
	tests := map[string][]string{
		"sale.report":            {"sale", "done"},
		"purchase.report":        {"purchase", "done"},
		"account.invoice.report": {"posted"},
		"account.move":           {"posted"},
		"pos.order.report":       {"paid", "done", "invoiced"},
		"stock.move":             {"done"},
	}
	for model, want := range tests {
		domain, err := BuildDomain(QuerySpec{Model: model}, nil)
		require.NoError(t, err, model)
		require.Len(t, domain, 1, model)
		assert.Equal(t, erp.Cond("state", "in", want), domain[0], model)
	}

	domain, err := BuildDomain(QuerySpec{Model: "res.partner"}, nil)
	require.NoError(t, err)
	assert.Empty(t, domain, "non-report models get no state filter")
}

func TestBuildDomainDateRange(t *testing.T) {
	rng, err := NewDateRange("2026-01-01", "2026-01-31", nil)
	require.NoError(t, err)

	domain, err := BuildDomain(QuerySpec{Model: "sale.report", Filter: "customer: acme"}, &rng)
	require.NoError(t, err)
	assert.Equal(t, erp.Domain{
		erp.Cond("partner_id", "ilike", "acme"),
		erp.Cond("date", ">=", "2026-01-01"),
		erp.Cond("date", "<=", "2026-01-31 23:59:59"),
		erp.Cond("state", "in", []string{"sale", "done"}),
	}, domain)

	domain, err = BuildDomain(QuerySpec{Model: "account.move"}, &rng)
	require.NoError(t, err)
	assert.Equal(t, erp.Cond("invoice_date", "<=", "2026-01-31"), domain[1])

	_, err = BuildDomain(QuerySpec{Model: "res.partner"}, &rng)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestParseFilter(t *testing.T) {
	p, _ := LookupProfile("sale.report")
	tests := []struct {
		expr string
		want erp.Domain
	}{
		{"", nil},
		{"cliente: Acme Corp", erp.Domain{erp.Cond("partner_id", "ilike", "Acme Corp")}},
		{`product = "Desk"; amount > 1,000`, erp.Domain{
			erp.Cond("product_id", "ilike", "Desk"),
			erp.Cond("price_total", ">", 1000.0),
		}},
		{"vendedor: Ana and categoría != Services", erp.Domain{
			erp.Cond("user_id", "ilike", "Ana"),
			erp.Cond("categ_id", "not ilike", "Services"),
		}},
		{"cantidad >= 5 y estado: SALE", erp.Domain{
			erp.Cond("product_uom_qty", ">=", 5.0),
			erp.Cond("state", "=", "sale"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseFilter(tt.expr, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilterKeepsConjunctionsInNames(t *testing.T) {
	p, _ := LookupProfile("sale.report")
	tests := []struct {
		expr string
		want erp.Domain
	}{
		{"customer: Johnson and Johnson", erp.Domain{erp.Cond("partner_id", "ilike", "Johnson and Johnson")}},
		{`customer: "Pérez y Asociados"`, erp.Domain{erp.Cond("partner_id", "ilike", "Pérez y Asociados")}},
		{"cliente: Pérez y Asociados", erp.Domain{erp.Cond("partner_id", "ilike", "Pérez y Asociados")}},
		{"customer: Acme, Inc", erp.Domain{erp.Cond("partner_id", "ilike", "Acme, Inc")}},
		{"customer: O'Brien and Sons and amount > 500", erp.Domain{
			erp.Cond("partner_id", "ilike", "O'Brien and Sons"),
			erp.Cond("price_total", ">", 500.0),
		}},
		{`customer: "Smith; amount > 5" and product: Desk`, erp.Domain{
			erp.Cond("partner_id", "ilike", "Smith; amount > 5"),
			erp.Cond("product_id", "ilike", "Desk"),
		}},
		{"customer: Acme, Inc, amount >= 1000", erp.Domain{
			erp.Cond("partner_id", "ilike", "Acme, Inc"),
			erp.Cond("price_total", ">=", 1000.0),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseFilter(tt.expr, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilterRejectsUnknownVocabulary(t *testing.T) {
	p, _ := LookupProfile("sale.report")
	for _, expr := range []string{
		"warehouse: main",
		"supplier: acme",
		"amount > lots",
		"customer > acme",
		"top customers please",
	} {
		_, err := ParseFilter(expr, p)
		assert.Truef(t, errors.Is(err, ErrValidation), "%q: got %v", expr, err)
	}
}

func TestDimension(t *testing.T) {
	f, err := Dimension("sale.report", "customer")
	require.NoError(t, err)
	assert.Equal(t, "partner_id", f)

	f, err = Dimension("purchase.report", "mes")
	require.NoError(t, err)
	assert.Equal(t, "date_order:month", f)

	_, err = Dimension("sale.report", "warehouse")
	assert.True(t, errors.Is(err, ErrValidation))
}
