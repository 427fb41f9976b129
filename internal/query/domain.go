package query

import (
	"github.com/ziadkadry99/erp-copilot/internal/erp"
)

// Operation selects between a read_group aggregate and a plain search_read.
type Operation string

const (
	OpAggregate Operation = "aggregate"
	OpList      Operation = "list"
)

// QuerySpec describes one data request.
type QuerySpec struct {
	Model     string
	Operation Operation

	// GroupBy holds model fields, optionally with a date granularity
	// ("partner_id", "date:month"). Empty means a flat total.
	GroupBy []string

	// Filter is a free-text expression in the ParseFilter vocabulary.
	Filter string

	// Conditions are structured clauses ANDed before everything else.
	Conditions erp.Domain

	// Period is a token for ResolvePeriod; Range takes precedence when set.
	Period string
	Range  *DateRange

	// States overrides the automatic final-state filter.
	States []string

	// Measure is the summed field; defaults to the profile's amount field.
	Measure string

	Limit   int
	OrderBy string
	Compare bool
	Fields  []string
}

// BuildDomain is the single place where a spec becomes an ERP domain. Flat
// totals, grouped breakdowns, lists and comparison queries all go through
// it so they can never disagree on which records are counted.
//
// Clause order: structured conditions, parsed filter, date range, state.
// Explicit States replace the final-state default; they never stack, and a
// caller condition on the state field suppresses the default too.
func BuildDomain(spec QuerySpec, rng *DateRange) (erp.Domain, error) {
	if spec.Model == "" {
		return nil, invalid("model is required")
	}
	p, _ := LookupProfile(spec.Model)

	domain := make(erp.Domain, 0, len(spec.Conditions)+4)
	domain = append(domain, spec.Conditions...)

	parsed, err := ParseFilter(spec.Filter, p)
	if err != nil {
		return nil, err
	}
	domain = append(domain, parsed...)

	if rng != nil {
		if p.DateField == "" {
			return nil, invalid("%s has no date field; a period cannot be applied", spec.Model)
		}
		end := rng.End.Format(dateLayout)
		if p.DateTime {
			end += " 23:59:59"
		}
		domain = append(domain,
			erp.Cond(p.DateField, ">=", rng.Start.Format(dateLayout)),
			erp.Cond(p.DateField, "<=", end),
		)
	}

	stateField := p.StateField
	if stateField == "" {
		stateField = "state"
	}
	switch {
	case len(spec.States) > 0:
		domain = append(domain, erp.Cond(stateField, "in", append([]string(nil), spec.States...)))
	case p.ReportClass() && !domain.Has(stateField):
		domain = append(domain, erp.Cond(stateField, "in", append([]string(nil), p.FinalStates...)))
	}
	return domain, nil
}
