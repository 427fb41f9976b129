package query

import (
	"sort"
	"strings"
)

// Profile describes how to query one ERP model: which field carries the
// date, which one the amount, and which states count as final.
type Profile struct {
	Model         string
	DateField     string
	DateTime      bool // the date field is a datetime; the range end is extended to 23:59:59
	AmountField   string
	QuantityField string
	StateField    string

	// FinalStates is non-empty only for report-class models, whose raw rows
	// include drafts and cancellations that must never reach a total.
	FinalStates []string

	// Fields maps filter and group-by vocabulary keys to model fields.
	Fields map[string]string
}

// ReportClass reports whether the model gets the automatic state filter.
func (p Profile) ReportClass() bool { return len(p.FinalStates) > 0 }

// Field resolves a vocabulary key ("customer", "product", ...) to a field.
func (p Profile) Field(key string) (string, bool) {
	f, ok := p.Fields[key]
	return f, ok
}

// Keys returns the vocabulary keys supported by this profile, sorted.
func (p Profile) Keys() []string {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var profiles = map[string]Profile{
	"sale.report": {
		Model: "sale.report", DateField: "date", DateTime: true,
		AmountField: "price_total", QuantityField: "product_uom_qty", StateField: "state",
		FinalStates: []string{"sale", "done"},
		Fields: map[string]string{
			"customer": "partner_id", "partner": "partner_id", "product": "product_id",
			"category": "categ_id", "salesperson": "user_id", "company": "company_id",
			"country": "country_id", "team": "team_id", "amount": "price_total",
			"quantity": "product_uom_qty", "state": "state",
		},
	},
	"purchase.report": {
		Model: "purchase.report", DateField: "date_order", DateTime: true,
		AmountField: "price_total", QuantityField: "qty_ordered", StateField: "state",
		FinalStates: []string{"purchase", "done"},
		Fields: map[string]string{
			"supplier": "partner_id", "partner": "partner_id", "product": "product_id",
			"category": "category_id", "salesperson": "user_id", "company": "company_id",
			"country": "country_id", "amount": "price_total", "quantity": "qty_ordered",
			"state": "state",
		},
	},
	"account.invoice.report": {
		Model: "account.invoice.report", DateField: "invoice_date",
		AmountField: "price_subtotal", QuantityField: "quantity", StateField: "state",
		FinalStates: []string{"posted"},
		Fields: map[string]string{
			"customer": "partner_id", "supplier": "partner_id", "partner": "partner_id",
			"product": "product_id", "category": "product_categ_id", "salesperson": "invoice_user_id",
			"company": "company_id", "country": "country_id", "team": "team_id",
			"amount": "price_subtotal", "quantity": "quantity", "state": "state",
		},
	},
	"account.move": {
		Model: "account.move", DateField: "invoice_date",
		AmountField: "amount_total_signed", StateField: "state",
		FinalStates: []string{"posted"},
		Fields: map[string]string{
			"customer": "partner_id", "supplier": "partner_id", "partner": "partner_id",
			"salesperson": "invoice_user_id", "company": "company_id", "team": "team_id",
			"amount": "amount_total_signed", "state": "state",
		},
	},
	"pos.order.report": {
		Model: "pos.order.report", DateField: "date", DateTime: true,
		AmountField: "price_total", QuantityField: "product_qty", StateField: "state",
		FinalStates: []string{"paid", "done", "invoiced"},
		Fields: map[string]string{
			"customer": "partner_id", "partner": "partner_id", "product": "product_id",
			"category": "product_categ_id", "salesperson": "user_id", "company": "company_id",
			"amount": "price_total", "quantity": "product_qty", "state": "state",
		},
	},
	"stock.move": {
		Model: "stock.move", DateField: "date", DateTime: true,
		AmountField: "product_qty", QuantityField: "product_qty", StateField: "state",
		FinalStates: []string{"done"},
		Fields: map[string]string{
			"partner": "partner_id", "product": "product_id", "company": "company_id",
			"quantity": "product_qty", "state": "state",
		},
	},
}

// genericFields is the vocabulary for models without a profile.
var genericFields = map[string]string{
	"name": "name", "partner": "partner_id", "company": "company_id",
	"country": "country_id", "state": "state",
}

// LookupProfile returns the profile for model. Unknown models get a
// profile with no date field and no automatic state filter.
func LookupProfile(model string) (Profile, bool) {
	if p, ok := profiles[model]; ok {
		return p, true
	}
	return Profile{Model: model, StateField: "state", Fields: genericFields}, false
}

// ReportModels lists the models that receive the automatic state filter.
func ReportModels() []string {
	out := make([]string, 0, len(profiles))
	for m := range profiles {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

var granularities = map[string]string{
	"day": "day", "dia": "day", "week": "week", "semana": "week",
	"month": "month", "mes": "month", "quarter": "quarter", "trimestre": "quarter",
	"year": "year", "ano": "year",
}

// Dimension resolves a group-by dimension for model. Time dimensions
// ("month", "quarter", ...) truncate the profile's date field; anything
// else goes through the filter vocabulary.
func Dimension(model, name string) (string, error) {
	p, _ := LookupProfile(model)
	key := canonicalKey(name)
	if g, ok := granularities[key]; ok {
		if p.DateField == "" {
			return "", invalid("%s has no date field to group by %s", model, name)
		}
		return p.DateField + ":" + g, nil
	}
	if f, ok := p.Field(key); ok {
		return f, nil
	}
	return "", invalid("cannot group %s by %q (supported: %s, day, week, month, quarter, year)",
		model, name, strings.Join(p.Keys(), ", "))
}
