package query

import (
	"bytes"
	"encoding/json"

	"github.com/ziadkadry99/erp-copilot/internal/erp"
)

// Group is one row of a grouped aggregate. ID is the record id when the
// grouping is a single relational field, and zero otherwise.
type Group struct {
	ID    int     `json:"id,omitempty"`
	Label string  `json:"label"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// Groups keeps engine-chosen order. It marshals as a JSON object keyed by
// label, in slice order: {"Acme Corp": {"total": 1, "count": 2}, ...}.
type Groups []Group

func (g Groups) MarshalJSON() ([]byte, error) {
	if g == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, grp := range g {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(grp.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(struct {
			Total float64 `json:"total"`
			Count int     `json:"count"`
		}{grp.Total, grp.Count})
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Labels returns the group labels in order.
func (g Groups) Labels() []string {
	out := make([]string, len(g))
	for i, grp := range g {
		out[i] = grp.Label
	}
	return out
}

// Others summarizes the groups cut off by a display limit.
type Others struct {
	Total  float64 `json:"total"`
	Count  int     `json:"count"`
	Groups int     `json:"groups"`
}

// Trend is the direction of a period-over-period change.
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// flatBand is the relative change treated as no change at all.
const flatBand = 0.01

// Comparison holds the current total against the previous period.
type Comparison struct {
	Current       float64   `json:"current"`
	Previous      float64   `json:"previous"`
	Variation     float64   `json:"variation"`
	VariationPct  *float64  `json:"variation_pct"` // nil when the previous total is zero
	Trend         Trend     `json:"trend"`
	PreviousRange DateRange `json:"previous_range"`
}

func compare(current, previous float64, prev DateRange) *Comparison {
	c := &Comparison{Current: current, Previous: previous, Variation: current - previous, PreviousRange: prev}
	switch {
	case previous != 0:
		pct := (current - previous) / abs(previous) * 100
		c.VariationPct = &pct
		switch {
		case pct > flatBand*100:
			c.Trend = TrendUp
		case pct < -flatBand*100:
			c.Trend = TrendDown
		default:
			c.Trend = TrendFlat
		}
	case current > 0:
		c.Trend = TrendUp
	case current < 0:
		c.Trend = TrendDown
	default:
		c.Trend = TrendFlat
	}
	return c
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// AggregationResult is produced fresh for every call and never cached.
type AggregationResult struct {
	Model      string      `json:"model"`
	Measure    string      `json:"measure"`
	Range      *DateRange  `json:"range,omitempty"`
	Total      float64     `json:"total"`
	Count      int         `json:"count"`
	Grouped    Groups      `json:"grouped"`
	Others     *Others     `json:"others,omitempty"`
	Comparison *Comparison `json:"comparison,omitempty"`
	Insights   []Insight   `json:"insights,omitempty"`

	Domain erp.Domain `json:"-"`
}

// ListResult is the outcome of Engine.List.
type ListResult struct {
	Model   string       `json:"model"`
	Range   *DateRange   `json:"range,omitempty"`
	Count   int          `json:"count"`
	Records []erp.Record `json:"records"`

	Domain erp.Domain `json:"-"`
}
