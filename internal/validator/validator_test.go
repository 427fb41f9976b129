package validator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issuesOf(v PreSendValidation, typ IssueType, sev Severity) []Issue {
	var out []Issue
	for _, is := range v.Issues {
		if is.Type == typ && is.Severity == sev {
			out = append(out, is)
		}
	}
	return out
}

func TestEmptyDataWithLargeAmountRegenerates(t *testing.T) {
	data := map[string]any{"grouped": map[string]any{}}
	v := Validate("Este mes vendimos $ 5.200.000 en total.", data)

	require.Len(t, issuesOf(v, Inconsistency, Critical), 1)
	assert.Equal(t, Regenerate, v.Action)
	assert.LessOrEqual(t, v.Confidence, 50)
}

func TestFaithfulAnswerIsSent(t *testing.T) {
	data := map[string]any{"grouped": map[string]any{"Acme Corp": map[string]any{"total": 128000}}}
	v := Validate("Acme Corp fue el cliente principal, con ventas por $128.000.", data)

	assert.Empty(t, v.Issues)
	assert.GreaterOrEqual(t, v.Confidence, 90)
	assert.Equal(t, Send, v.Action)
}

func TestPlaceholderNames(t *testing.T) {
	data := map[string]any{"grouped": map[string]any{"Acme Corp": map[string]any{"total": 128000.0, "count": 3}}}

	v := Validate("Acme Corp lidera con $128.000, seguido por Cliente B.", data)
	crit := issuesOf(v, Hallucination, Critical)
	require.Len(t, crit, 1)
	assert.Equal(t, "Cliente B", crit[0].Evidence)
	assert.Equal(t, Regenerate, v.Action)

	v = Validate("John Doe bought the most; Acme Corp follows with $128.000.", data)
	assert.Len(t, issuesOf(v, Hallucination, Critical), 1)

	// A real partner that happens to look generic is not flagged.
	real := map[string]any{"grouped": map[string]any{"Customer A": map[string]any{"total": 10.0}}}
	v = Validate("Customer A bought 10.", real)
	assert.Empty(t, issuesOf(v, Hallucination, Critical))

	// A placeholder that is only a prefix of a real name is still flagged.
	andes := map[string]any{"grouped": map[string]any{"Cliente Andes": map[string]any{"total": 10.0}}}
	v = Validate("Cliente A compró 10.", andes)
	crit = issuesOf(v, Hallucination, Critical)
	require.Len(t, crit, 1)
	assert.Equal(t, "Cliente A", crit[0].Evidence)

	ltda := map[string]any{"grouped": map[string]any{"Cliente A Ltda": map[string]any{"total": 10.0}}}
	v = Validate("Cliente A compró 10.", ltda)
	assert.Empty(t, issuesOf(v, Hallucination, Critical))

	// Acme is a real company name, never a placeholder.
	v = Validate("Acme Corp bought $128.000.", data)
	assert.Empty(t, v.Issues)
}

func TestUnknownLinksAreFlagged(t *testing.T) {
	data := map[string]any{"passages": []any{
		map[string]any{"title": "Return policy", "url": "https://docs.acme.test/returns", "content": "30 days"},
	}}
	v := Validate("See https://docs.acme.test/returns and https://made-up.example/policy.", data)
	hall := issuesOf(v, Hallucination, Warning)
	require.Len(t, hall, 1)
	assert.Equal(t, "https://made-up.example/policy", hall[0].Evidence)
	assert.Equal(t, 85, v.Confidence)
	assert.Equal(t, Send, v.Action)
}

func TestGenericNamesDespiteRealLabels(t *testing.T) {
	data := map[string]any{"grouped": map[string]any{
		"Acme Corp": map[string]any{"total": 128000.0},
		"Globex":    map[string]any{"total": 40000.0},
	}}
	v := Validate("The top customer bought $128.000 this month.", data)
	assert.Len(t, issuesOf(v, Inconsistency, Warning), 1)
	assert.Len(t, issuesOf(v, MissingData, Warning), 1)
	assert.Equal(t, 70, v.Confidence)
	assert.Equal(t, Warn, v.Action)
}

func TestSuspiciousRoundNumbers(t *testing.T) {
	data := map[string]any{"total": 185000.0, "count": 4}

	v := Validate("Sales reached $190.000 this month.", data)
	assert.Empty(t, v.Issues, "within 5% of the total")

	v = Validate("Sales reached $250.000 this month.", data)
	require.Len(t, issuesOf(v, Inconsistency, Warning), 1)
	assert.Equal(t, Send, v.Action)

	v = Validate("Sales reached $250.000, $300.000 and $400.000 in three weeks.", data)
	assert.Len(t, issuesOf(v, Inconsistency, Warning), 3)
	assert.Equal(t, 55, v.Confidence)
	assert.Equal(t, Warn, v.Action)
}

func TestLabelCoverage(t *testing.T) {
	grouped := map[string]any{}
	for _, n := range []string{"Acme Corp", "Globex", "Initech", "Umbrella", "Hooli", "Undefined"} {
		grouped[n] = map[string]any{"total": 1000.0}
	}
	data := map[string]any{"grouped": grouped}

	v := Validate("Acme leads, followed by Globex.", data)
	assert.Empty(t, issuesOf(v, MissingData, Warning), "2 of 5 named groups is enough")

	v = Validate("Acme Corp leads.", data)
	assert.Len(t, issuesOf(v, MissingData, Warning), 1)
}

func TestAcceptsToolEnvelopesAndRawJSON(t *testing.T) {
	raw := json.RawMessage(`{"ok":true,"skill":"sales_breakdown","data":{"total":180000,"grouped":{"Acme Corp":{"total":128000,"count":1}}}}`)
	v := Validate("Acme Corp: $128.000 de $180.000.", raw)
	assert.Equal(t, Send, v.Action)

	v = Validate("Acme Corp: $128.000.", string(raw))
	assert.Equal(t, Send, v.Action)

	failed := `{"ok":false,"skill":"sales_summary","error":{"kind":"auth","message":"not configured"}}`
	v = Validate("Vendimos 3.4M este mes.", failed)
	assert.Equal(t, Regenerate, v.Action)
}

func TestAmounts(t *testing.T) {
	tests := []struct {
		prose string
		want  []float64
	}{
		{"$ 5.200.000", []float64{5200000}},
		{"$128.000.", []float64{128000}},
		{"1,250,000.50 total", []float64{1250000.50}},
		{"1.234,56", []float64{1234.56}},
		{"5,2 millones", []float64{5200000}},
		{"3.4M and 12k", []float64{3400000, 12000}},
		{"up 15% in 2025", nil},
		{"$2025", []float64{2025}},
		{"3 months", []float64{3}},
	}
	for _, tt := range tests {
		var got []float64
		for _, a := range amounts(tt.prose) {
			got = append(got, a.Value)
		}
		require.Len(t, got, len(tt.want), tt.prose)
		for i := range got {
			assert.InDelta(t, tt.want[i], got[i], 0.001, tt.prose)
		}
	}
}

func TestScoreBands(t *testing.T) {
	warn := Issue{Severity: Warning}
	tests := []struct {
		issues []Issue
		conf   int
		action Action
	}{
		{nil, 100, Send},
		{[]Issue{{Severity: Info}}, 95, Send},
		{[]Issue{warn}, 85, Send},
		{[]Issue{warn, warn}, 70, Warn},
		{[]Issue{warn, warn, warn}, 55, Warn},
		{[]Issue{warn, warn, warn, warn}, 40, Regenerate},
		{[]Issue{{Severity: Critical}}, 50, Regenerate},
		{[]Issue{{Severity: Critical}, {Severity: Critical}, {Severity: Critical}}, 0, Regenerate},
	}
	for _, tt := range tests {
		conf, action := score(tt.issues)
		assert.Equal(t, tt.conf, conf)
		assert.Equal(t, tt.action, action)
	}
}

func TestCorrectionPrompt(t *testing.T) {
	v := Validate("Vendimos $ 5.200.000 a Cliente A.", map[string]any{"grouped": map[string]any{}})
	require.Equal(t, Regenerate, v.Action)

	p := CorrectionPrompt(v)
	assert.Contains(t, p, "Cliente A")
	assert.Contains(t, p, "$ 5.200.000")
	assert.Contains(t, p, "only use names, figures and links that appear in the tool results")
	assert.True(t, strings.Contains(p, "no data"))
}
