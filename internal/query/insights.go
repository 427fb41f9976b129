package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Severity grades an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Insight is a short observation derived from a result.
type Insight struct {
	Kind     string   `json:"kind"`
	Severity Severity `json:"severity"`
	Icon     string   `json:"icon"`
	Message  string   `json:"message"`
}

const (
	concentrationShare = 0.50
	topThreeShare      = 0.80
	topThreeMinGroups  = 5
	swingPct           = 20.0
)

// Insights derives observations from r. It never issues queries.
func Insights(r *AggregationResult) []Insight {
	var out []Insight
	if r.Count == 0 && r.Total == 0 {
		out = append(out, Insight{
			Kind: "empty", Severity: SeverityInfo, Icon: "ℹ️",
			Message: "No records were found for the selected period and filters.",
		})
		if c := r.Comparison; c != nil && c.Previous != 0 {
			out = append(out, Insight{
				Kind: "activity_stopped", Severity: SeverityWarning, Icon: "⚠️",
				Message: fmt.Sprintf("There was activity in the previous period (%s) but none now.", formatAmount(c.Previous)),
			})
		}
		return out
	}

	groups := r.Grouped
	if r.Total > 0 && len(groups)+othersGroups(r) > 1 && len(groups) > 0 {
		top := groups[0]
		share := top.Total / r.Total
		if share >= concentrationShare && r.OrderedByTotal() {
			out = append(out, Insight{
				Kind: "concentration", Severity: SeverityWarning, Icon: "⚠️",
				Message: fmt.Sprintf("%s accounts for %s of the total.", top.Label, formatPct(share*100)),
			})
		}
		n := len(groups) + othersGroups(r)
		if n >= topThreeMinGroups && len(groups) >= 3 && r.OrderedByTotal() {
			top3 := groups[0].Total + groups[1].Total + groups[2].Total
			if top3/r.Total >= topThreeShare {
				out = append(out, Insight{
					Kind: "top3_concentration", Severity: SeverityInfo, Icon: "🎯",
					Message: fmt.Sprintf("The top 3 of %d groups concentrate %s of the total.", n, formatPct(top3/r.Total*100)),
				})
			}
		}
	}

	if o := r.Others; o != nil && o.Groups > 0 {
		out = append(out, Insight{
			Kind: "long_tail", Severity: SeverityInfo, Icon: "📊",
			Message: fmt.Sprintf("%d more groups add up to %s.", o.Groups, formatAmount(o.Total)),
		})
	}

	if c := r.Comparison; c != nil {
		switch {
		case c.VariationPct == nil && c.Current > 0:
			out = append(out, Insight{
				Kind: "new_activity", Severity: SeverityInfo, Icon: "🆕",
				Message: "There was no activity in the previous period; all of this period is new.",
			})
		case c.VariationPct != nil && *c.VariationPct >= swingPct:
			out = append(out, Insight{
				Kind: "growth", Severity: SeverityInfo, Icon: "📈",
				Message: fmt.Sprintf("Up %s versus the previous period (%s).", formatPct(*c.VariationPct), formatAmount(c.Previous)),
			})
		case c.VariationPct != nil && *c.VariationPct <= -swingPct:
			out = append(out, Insight{
				Kind: "drop", Severity: SeverityWarning, Icon: "📉",
				Message: fmt.Sprintf("Down %s versus the previous period (%s).", formatPct(-*c.VariationPct), formatAmount(c.Previous)),
			})
		}
	}
	return out
}

// OrderedByTotal reports whether Grouped is ranked by descending total,
// which the concentration rules rely on.
func (r *AggregationResult) OrderedByTotal() bool {
	for i := 1; i < len(r.Grouped); i++ {
		if r.Grouped[i].Total > r.Grouped[i-1].Total {
			return false
		}
	}
	return true
}

func othersGroups(r *AggregationResult) int {
	if r.Others == nil {
		return 0
	}
	return r.Others.Groups
}

func formatPct(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64) + "%"
}

// formatAmount renders v with thousands separators and no decimals.
func formatAmount(v float64) string {
	neg := v < 0
	s := strconv.FormatFloat(math.Round(math.Abs(v)), 'f', 0, 64)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
