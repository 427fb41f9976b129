package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/erp-copilot/internal/erp"
)

// Transport is the subset of erp.Client the engine needs.
type Transport interface {
	SearchRead(ctx context.Context, model string, domain erp.Domain, opts erp.SearchOptions) ([]erp.Record, error)
	ReadGroup(ctx context.Context, model string, domain erp.Domain, aggregates, groupBy []string, opts erp.GroupOptions) ([]erp.Record, error)
	Read(ctx context.Context, model string, ids []int, fields []string) ([]erp.Record, error)
}

// DefaultLimit caps grouped results and lists when the spec sets no limit.
const DefaultLimit = 10

// maxListLimit bounds search_read so a list can never pull a whole table.
const maxListLimit = 200

// Engine turns QuerySpecs into transport calls and post-processes results.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	transport    Transport
	loc          *time.Location
	now          func() time.Time
	defaultLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the timezone used to resolve period tokens.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultLimit sets the display limit used when a spec has none.
func WithDefaultLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.defaultLimit = n
		}
	}
}

// New creates an Engine over t.
func New(t Transport, opts ...Option) *Engine {
	e := &Engine{transport: t, loc: time.UTC, now: time.Now, defaultLimit: DefaultLimit}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Location returns the timezone periods are resolved in.
func (e *Engine) Location() *time.Location { return e.loc }

// ResolveRange returns the spec's date range: Range if set, else the
// resolved Period, else nil.
func (e *Engine) ResolveRange(spec QuerySpec) (*DateRange, error) {
	if spec.Range != nil {
		if spec.Range.Start.After(spec.Range.End) {
			return nil, invalid("range start %s is after end %s",
				spec.Range.Start.Format(dateLayout), spec.Range.End.Format(dateLayout))
		}
		r := *spec.Range
		return &r, nil
	}
	if strings.TrimSpace(spec.Period) == "" {
		return nil, nil
	}
	r, err := ResolvePeriod(spec.Period, e.now(), e.loc)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Resolve returns the range and the final domain the engine would send.
func (e *Engine) Resolve(spec QuerySpec) (*DateRange, erp.Domain, error) {
	rng, err := e.ResolveRange(spec)
	if err != nil {
		return nil, nil, err
	}
	domain, err := BuildDomain(spec, rng)
	if err != nil {
		return nil, nil, err
	}
	return rng, domain, nil
}

// Aggregate runs spec as a read_group. Totals are always computed over every
// group, even when the displayed groups are truncated to Limit. With Compare
// set and a period available, the previous period is queried concurrently;
// if that query fails the primary result is still returned without it.
func (e *Engine) Aggregate(ctx context.Context, spec QuerySpec) (*AggregationResult, error) {
	if spec.Operation != "" && spec.Operation != OpAggregate {
		return nil, invalid("Aggregate called with operation %q", spec.Operation)
	}
	rng, domain, err := e.Resolve(spec)
	if err != nil {
		return nil, err
	}
	p, _ := LookupProfile(spec.Model)
	measure := spec.Measure
	if measure == "" {
		measure = p.AmountField
	}
	if measure == "" {
		return nil, invalid("%s has no default measure; set one explicitly", spec.Model)
	}

	res := &AggregationResult{Model: spec.Model, Measure: measure, Range: rng, Domain: domain}

	var (
		prevRange  DateRange
		prevTotal  float64
		compareErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.aggregateInto(gctx, spec, domain, measure, res)
	})
	if spec.Compare && rng != nil {
		prevRange = rng.Previous()
		g.Go(func() error {
			prevDomain, err := BuildDomain(spec, &prevRange)
			if err == nil {
				prevTotal, _, err = e.total(gctx, spec.Model, prevDomain, measure)
			}
			compareErr = err
			return nil
		})
	} else if spec.Compare {
		log.Debug().Str("model", spec.Model).Msg("comparison skipped: no period")
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if spec.Compare && rng != nil {
		if compareErr != nil {
			log.Warn().Err(compareErr).Str("model", spec.Model).Str("previous", prevRange.String()).
				Msg("comparison query failed, returning primary result only")
		} else {
			res.Comparison = compare(res.Total, prevTotal, prevRange)
		}
	}
	res.Insights = Insights(res)
	return res, nil
}

func (e *Engine) aggregateInto(ctx context.Context, spec QuerySpec, domain erp.Domain, measure string, res *AggregationResult) error {
	if len(spec.GroupBy) == 0 {
		total, count, err := e.total(ctx, spec.Model, domain, measure)
		if err != nil {
			return err
		}
		res.Total, res.Count = total, count
		return nil
	}

	rows, err := e.transport.ReadGroup(ctx, spec.Model, domain,
		[]string{measure + ":sum"}, spec.GroupBy, erp.GroupOptions{OrderBy: spec.OrderBy})
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", spec.Model, err)
	}

	groups := mergeGroups(rows, spec.GroupBy, measure)
	if spec.OrderBy == "" {
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].Total > groups[j].Total })
	}
	for _, grp := range groups {
		res.Total += grp.Total
		res.Count += grp.Count
	}

	limit := spec.Limit
	if limit <= 0 {
		limit = e.defaultLimit
	}
	if len(groups) > limit {
		tail := groups[limit:]
		o := &Others{Groups: len(tail)}
		for _, grp := range tail {
			o.Total += grp.Total
			o.Count += grp.Count
		}
		res.Others = o
		groups = groups[:limit]
	}
	res.Grouped = groups
	return nil
}

// total runs an ungrouped read_group, which returns a single row.
func (e *Engine) total(ctx context.Context, model string, domain erp.Domain, measure string) (float64, int, error) {
	rows, err := e.transport.ReadGroup(ctx, model, domain, []string{measure + ":sum"}, nil, erp.GroupOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("aggregate %s: %w", model, err)
	}
	var total float64
	var count int
	for _, r := range rows {
		v, _ := r.Float(measure)
		total += v
		count += rowCount(r)
	}
	return total, count, nil
}

// mergeGroups converts read_group rows to Groups. Rows fold by group key,
// which is the record id for relational fields, so two partners sharing a
// display name stay apart. Their labels then get an id suffix so the
// ordered map never repeats a key.
func mergeGroups(rows []erp.Record, groupBy []string, measure string) Groups {
	groups := make(Groups, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, r := range rows {
		labels := make([]string, len(groupBy))
		keys := make([]string, len(groupBy))
		for i, g := range groupBy {
			labels[i] = label(r, g)
			keys[i] = labels[i]
			if id, _, ok := r.Many2One(g); ok {
				keys[i] = "#" + strconv.Itoa(id)
			}
		}
		key := strings.Join(keys, "\x00")
		v, _ := r.Float(measure)
		if i, ok := index[key]; ok {
			groups[i].Total += v
			groups[i].Count += rowCount(r)
			continue
		}
		grp := Group{Label: strings.Join(labels, " / "), Total: v, Count: rowCount(r)}
		if len(groupBy) == 1 {
			grp.ID, _, _ = r.Many2One(groupBy[0])
		}
		index[key] = len(groups)
		groups = append(groups, grp)
	}

	seen := make(map[string]int, len(groups))
	for _, grp := range groups {
		seen[grp.Label]++
	}
	for i, grp := range groups {
		if seen[grp.Label] > 1 && grp.ID != 0 {
			groups[i].Label = fmt.Sprintf("%s (#%d)", grp.Label, grp.ID)
		}
	}
	return groups
}

func rowCount(r erp.Record) int {
	if n, ok := r.Int("__count"); ok {
		return n
	}
	for k := range r {
		if strings.HasSuffix(k, "_count") {
			n, _ := r.Int(k)
			return n
		}
	}
	return 0
}

const undefinedLabel = "Undefined"

func label(r erp.Record, field string) string {
	v, ok := r[field]
	if !ok {
		// older servers key date groups by the bare field name
		base, _, _ := strings.Cut(field, ":")
		v = r[base]
	}
	switch t := v.(type) {
	case nil, bool:
		return undefinedLabel
	case string:
		if t == "" {
			return undefinedLabel
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		if _, name, ok := (erp.Record{"v": t}).Many2One("v"); ok && name != "" {
			return name
		}
	}
	return fmt.Sprint(v)
}

// List runs spec as a search_read through the same domain funnel.
func (e *Engine) List(ctx context.Context, spec QuerySpec) (*ListResult, error) {
	if spec.Operation != "" && spec.Operation != OpList {
		return nil, invalid("List called with operation %q", spec.Operation)
	}
	rng, domain, err := e.Resolve(spec)
	if err != nil {
		return nil, err
	}
	limit := spec.Limit
	if limit <= 0 {
		limit = e.defaultLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := e.transport.SearchRead(ctx, spec.Model, domain, erp.SearchOptions{
		Fields: spec.Fields, Limit: limit, Order: spec.OrderBy,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", spec.Model, err)
	}
	return &ListResult{Model: spec.Model, Range: rng, Count: len(rows), Records: rows, Domain: domain}, nil
}

// Lookup finds records of model whose name contains name and reads fields
// for them.
func (e *Engine) Lookup(ctx context.Context, model, name string, fields []string, limit int) ([]erp.Record, error) {
	if model == "" {
		return nil, invalid("model is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("a name to look up is required")
	}
	if limit <= 0 {
		limit = e.defaultLimit
	}
	hits, err := e.transport.SearchRead(ctx, model, erp.Domain{erp.Cond("name", "ilike", name)},
		erp.SearchOptions{Fields: []string{"id"}, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", model, err)
	}
	ids := make([]int, 0, len(hits))
	for _, h := range hits {
		if id, ok := h.Int("id"); ok {
			ids = append(ids, id)
		}
	}
	rows, err := e.transport.Read(ctx, model, ids, fields)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", model, err)
	}
	return rows, nil
}
