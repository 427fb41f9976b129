package skills

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/erp-copilot/internal/erp"
	"github.com/ziadkadry99/erp-copilot/internal/query"
)

const (
	saleReport     = "sale.report"
	purchaseReport = "purchase.report"
	invoiceReport  = "account.invoice.report"
	moveModel      = "account.move"
	partnerModel   = "res.partner"
)

var statesProp = Property{
	Type:        TypeArray,
	Description: "Explicit document states to include. Replaces the default of confirmed records only; use it only when the user asks about drafts or cancellations.",
	Items:       &Property{Type: TypeString},
}

var filterProp = Property{
	Type:        TypeString,
	Description: "Optional filter, e.g. \"customer: Acme; amount > 1000\". Keys: customer, supplier, product, category, salesperson, team, company, country, state, amount, quantity.",
}

// periodProps are the date inputs shared by every ERP skill.
func periodProps(defaultPeriod string) map[string]Property {
	period := Property{
		Type: TypeString,
		Description: "Period token: today, yesterday, this_week, last_week, this_month, last_month, " +
			"this_quarter, last_quarter, this_year, last_year, ytd, mtd or last_N_days. Spanish tokens are accepted.",
	}
	if defaultPeriod != "" {
		period.Default = defaultPeriod
	}
	return map[string]Property{
		"period":     period,
		"start_date": {Type: TypeString, Description: "Inclusive start date (YYYY-MM-DD). Requires end_date and overrides period."},
		"end_date":   {Type: TypeString, Description: "Inclusive end date (YYYY-MM-DD). Requires start_date."},
	}
}

func limitProp(def, max int) Property {
	return Property{Type: TypeInteger, Description: "Maximum number of rows to show; totals always cover every row.",
		Minimum: Bound(1), Maximum: Bound(float64(max)), Default: def}
}

// withPeriod fills spec's date inputs from args. Explicit dates win over
// the period token.
func (b *builder) withPeriod(spec *query.QuerySpec, args Args) error {
	start, end := args.String("start_date"), args.String("end_date")
	if start == "" && end == "" {
		spec.Period = args.String("period")
		return nil
	}
	if start == "" || end == "" {
		return newError(KindValidation, "start_date and end_date must be given together")
	}
	rng, err := query.NewDateRange(start, end, b.deps.Location)
	if err != nil {
		return err
	}
	spec.Range = &rng
	return nil
}

func (b *builder) aggregate(ctx context.Context, sc *Context, args Args, spec query.QuerySpec) (*query.AggregationResult, error) {
	e, err := b.engine(sc)
	if err != nil {
		return nil, err
	}
	if err := b.withPeriod(&spec, args); err != nil {
		return nil, err
	}
	spec.Operation = query.OpAggregate
	spec.Filter = args.String("filter")
	return e.Aggregate(ctx, spec)
}

// groupBy resolves a dimension argument. Time dimensions are ordered
// chronologically instead of by total.
func groupBy(spec *query.QuerySpec, by string) error {
	if by == "" {
		return nil
	}
	dim, err := query.Dimension(spec.Model, by)
	if err != nil {
		return err
	}
	spec.GroupBy = []string{dim}
	if strings.Contains(dim, ":") {
		spec.OrderBy = dim + " asc"
	}
	return nil
}

func (b *builder) salesSummary() Skill {
	props := periodProps("this_month")
	props["filter"] = filterProp
	props["states"] = statesProp
	props["compare"] = Property{Type: TypeBoolean, Description: "Compare with the previous period of equal length.", Default: true}
	return Skill{
		Name: "sales_summary",
		Description: "Total confirmed sales amount and number of order lines for a period, " +
			"compared with the previous period, with short insights. Drafts and cancelled orders are excluded.",
		Tags:     []string{"sales", "totals"},
		Requires: []Integration{IntegrationERP},
		Schema:   InputSchema{Properties: props},
		Run: func(ctx context.Context, sc *Context, args Args) (any, error) {
			return b.aggregate(ctx, sc, args, query.QuerySpec{
				Model:   saleReport,
				States:  args.Strings("states"),
				Compare: args.Bool("compare", true),
			})
		},
	}
}

func (b *builder) salesBreakdown() Skill {
	props := periodProps("this_month")
	props["filter"] = filterProp
	props["states"] = statesProp
	props["by"] = Property{Type: TypeString, Description: "Dimension to group sales by.",
		Enum: []string{"customer", "product", "salesperson", "category", "team", "month"}}
	props["limit"] = limitProp(10, 50)
	props["compare"] = Property{Type: TypeBoolean, Description: "Also compare the total with the previous period.", Default: false}
	return Skill{
		Name: "sales_breakdown",
		Description: "Confirmed sales for a period grouped by customer, product, salesperson, category, team or month, " +
			"ranked by amount. The total covers every group even when only the top rows are listed.",
		Tags:     []string{"sales", "breakdown"},
		Requires: []Integration{IntegrationERP},
		Schema:   InputSchema{Properties: props, Required: []string{"by"}},
		Run: func(ctx context.Context, sc *Context, args Args) (any, error) {
			spec := query.QuerySpec{
				Model:   saleReport,
				States:  args.Strings("states"),
				Limit:   args.Int("limit", 10),
				Compare: args.Bool("compare", false),
			}
			if err := groupBy(&spec, args.String("by")); err != nil {
				return nil, err
			}
			return b.aggregate(ctx, sc, args, spec)
		},
	}
}

func (b *builder) purchasesSummary() Skill {
	props := periodProps("this_month")
	props["filter"] = filterProp
	props["states"] = statesProp
	props["by"] = Property{Type: TypeString, Description: "Optional dimension to group purchases by.",
		Enum: []string{"supplier", "product", "month"}}
	props["limit"] = limitProp(10, 50)
	props["compare"] = Property{Type: TypeBoolean, Description: "Compare with the previous period of equal length.", Default: true}
	return Skill{
		Name: "purchases_summary",
		Description: "Confirmed purchase amount for a period, as a total or grouped by supplier, product or month. " +
			"Requests for quotation and cancelled orders are excluded.",
		Tags:     []string{"purchases"},
		Requires: []Integration{IntegrationERP},
		Schema:   InputSchema{Properties: props},
		Run: func(ctx context.Context, sc *Context, args Args) (any, error) {
			spec := query.QuerySpec{
				Model:   purchaseReport,
				States:  args.Strings("states"),
				Limit:   args.Int("limit", 10),
				Compare: args.Bool("compare", true),
			}
			if err := groupBy(&spec, args.String("by")); err != nil {
				return nil, err
			}
			return b.aggregate(ctx, sc, args, spec)
		},
	}
}

func (b *builder) invoicingSummary() Skill {
	props := periodProps("this_month")
	props["filter"] = filterProp
	props["by"] = Property{Type: TypeString, Description: "Optional dimension to group invoices by.",
		Enum: []string{"customer", "month"}}
	props["limit"] = limitProp(10, 50)
	props["compare"] = Property{Type: TypeBoolean, Description: "Compare with the previous period of equal length.", Default: true}
	return Skill{
		Name: "invoicing_summary",
		Description: "Posted customer invoices (net of credit notes, untaxed) for a period, as a total " +
			"or grouped by customer or month. Draft and cancelled invoices are excluded.",
		Tags:     []string{"invoicing", "accounting"},
		Requires: []Integration{IntegrationERP},
		Schema:   InputSchema{Properties: props},
		Run: func(ctx context.Context, sc *Context, args Args) (any, error) {
			spec := query.QuerySpec{
				Model:      invoiceReport,
				Conditions: erp.Domain{erp.Cond("move_type", "in", []string{"out_invoice", "out_refund"})},
				Limit:      args.Int("limit", 10),
				Compare:    args.Bool("compare", true),
			}
			if err := groupBy(&spec, args.String("by")); err != nil {
				return nil, err
			}
			return b.aggregate(ctx, sc, args, spec)
		},
	}
}

func (b *builder) topProducts() Skill {
	props := periodProps("this_month")
	props["filter"] = filterProp
	props["rank_by"] = Property{Type: TypeString, Description: "Rank by sales amount or by quantity sold.",
		Enum: []string{"amount", "quantity"}, Default: "amount"}
	props["limit"] = limitProp(5, 50)
	return Skill{
		Name:        "top_products",
		Description: "Best-selling products for a period, ranked by confirmed sales amount or quantity.",
		Tags:        []string{"sales", "products", "ranking"},
		Requires:    []Integration{IntegrationERP},
		Schema:      InputSchema{Properties: props},
		Run: func(ctx context.Context, sc *Context, args Args) (any, error) {
			p, _ := query.LookupProfile(saleReport)
			measure := p.AmountField
			if args.String("rank_by") == "quantity" {
				measure = p.QuantityField
			}
			return b.aggregate(ctx, sc, args, query.QuerySpec{
				Model:   saleReport,
				GroupBy: []string{"product_id"},
				Measure: measure,
				Limit:   args.Int("limit", 5),
			})
		},
	}
}

// Receivables is the output of the receivables skill.
type Receivables struct {
	Range         *query.DateRange `json:"range,omitempty"`
	TotalResidual float64          `json:"total_residual"`
	Count         int              `json:"count"`
	Shown         int              `json:"shown"`
	Invoices      []erp.Record     `json:"invoices"`
}

var receivableFields = []string{"name", "partner_id", "invoice_date", "invoice_date_due", "amount_total", "amount_residual", "payment_state"}

func (b *builder) receivables() Skill {
	props := periodProps("")
	props["filter"] = filterProp
	props["overdue_only"] = Property{Type: TypeBoolean, Description: "Only invoices past their due date.", Default: false}
	props["limit"] = limitProp(10, 100)
	return Skill{
		Name: "receivables",
		Description: "Open posted customer invoices (unpaid or partially paid), largest outstanding amount first, " +
			"with the outstanding total over all of them. The period filters by invoice date.",
		Tags:     []string{"accounting", "receivables"},
		Requires: []Integration{IntegrationERP},
		Schema:   InputSchema{Properties: props},
		Run: func(ctx context.Context, sc *Context, args Args) (any, error) {
			e, err := b.engine(sc)
			if err != nil {
				return nil, err
			}
			conds := erp.Domain{
				erp.Cond("move_type", "=", "out_invoice"),
				erp.Cond("payment_state", "in", []string{"not_paid", "partial"}),
			}
			if args.Bool("overdue_only", false) {
				conds = append(conds, erp.Cond("invoice_date_due", "<", b.deps.Now().In(b.deps.Location).Format("2006-01-02")))
			}
			spec := query.QuerySpec{Model: moveModel, Conditions: conds, Filter: args.String("filter")}
			if err := b.withPeriod(&spec, args); err != nil {
				return nil, err
			}

			listSpec := spec
			listSpec.Operation = query.OpList
			listSpec.Fields = receivableFields
			listSpec.OrderBy = "amount_residual desc"
			listSpec.Limit = args.Int("limit", 10)
			totalSpec := spec
			totalSpec.Operation = query.OpAggregate
			totalSpec.Measure = "amount_residual"

			var list *query.ListResult
			var total *query.AggregationResult
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() (err error) {
				list, err = e.List(gctx, listSpec)
				return err
			})
			g.Go(func() (err error) {
				total, err = e.Aggregate(gctx, totalSpec)
				return err
			})
			if err := g.Wait(); err != nil {
				return nil, err
			}
			return &Receivables{
				Range:         total.Range,
				TotalResidual: total.Total,
				Count:         total.Count,
				Shown:         list.Count,
				Invoices:      list.Records,
			}, nil
		},
	}
}

// PartnerMatch is one partner returned by partner_lookup.
type PartnerMatch struct {
	Partner    erp.Record `json:"partner"`
	SalesTotal float64    `json:"sales_total"`
	SalesCount int        `json:"sales_count"`
}

// PartnerLookup is the output of the partner_lookup skill.
type PartnerLookup struct {
	Query    string           `json:"query"`
	Range    *query.DateRange `json:"range,omitempty"`
	Partners []PartnerMatch   `json:"partners"`
}

var partnerFields = []string{"name", "email", "phone", "city", "country_id", "vat", "customer_rank", "supplier_rank"}

func (b *builder) partnerLookup() Skill {
	props := periodProps("this_year")
	props["name"] = Property{Type: TypeString, Description: "Full or partial partner name."}
	props["limit"] = limitProp(5, 20)
	return Skill{
		Name: "partner_lookup",
		Description: "Find customers or suppliers by name and return their contact details " +
			"together with their confirmed sales for the period.",
		Tags:     []string{"partners", "crm"},
		Requires: []Integration{IntegrationERP},
		Schema:   InputSchema{Properties: props, Required: []string{"name"}},
		Run: func(ctx context.Context, sc *Context, args Args) (any, error) {
			e, err := b.engine(sc)
			if err != nil {
				return nil, err
			}
			name := args.String("name")
			rows, err := e.Lookup(ctx, partnerModel, name, partnerFields, args.Int("limit", 5))
			if err != nil {
				return nil, err
			}
			out := &PartnerLookup{Query: name, Partners: make([]PartnerMatch, 0, len(rows))}
			if len(rows) == 0 {
				return out, nil
			}

			ids := make([]int, 0, len(rows))
			for _, r := range rows {
				if id, ok := r.Int("id"); ok {
					ids = append(ids, id)
				}
			}
			spec := query.QuerySpec{
				Model:      saleReport,
				GroupBy:    []string{"partner_id"},
				Conditions: erp.Domain{erp.Cond("partner_id", "in", ids)},
				Limit:      len(ids),
			}
			sales, err := b.aggregate(ctx, sc, args, spec)
			if err != nil {
				return nil, err
			}
			out.Range = sales.Range
			byID := make(map[int]query.Group, len(sales.Grouped))
			for _, g := range sales.Grouped {
				byID[g.ID] = g
			}
			for _, r := range rows {
				id, _ := r.Int("id")
				g := byID[id]
				out.Partners = append(out.Partners, PartnerMatch{Partner: r, SalesTotal: g.Total, SalesCount: g.Count})
			}
			return out, nil
		},
	}
}
