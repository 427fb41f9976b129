package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/erp-copilot/internal/erp"
	"github.com/ziadkadry99/erp-copilot/internal/erp/erptest"
)

var fixedNow = time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)

func salesFixture(t *testing.T) (*Engine, *erptest.Server) {
	t.Helper()
	srv := erptest.NewServer("acme", "bot", "key")
	t.Cleanup(srv.Close)
	srv.AddRows("sale.report",
		erp.Record{"partner_id": erptest.Partner(1, "Acme Corp"), "price_total": 128000.0, "state": "sale", "date": "2026-01-05"},
		erp.Record{"partner_id": erptest.Partner(2, "Globex"), "price_total": 40000.0, "state": "done", "date": "2026-01-07"},
		erp.Record{"partner_id": erptest.Partner(3, "Initech"), "price_total": 12000.0, "state": "sale", "date": "2026-01-09"},
		erp.Record{"partner_id": erptest.Partner(1, "Acme Corp"), "price_total": 999999.0, "state": "draft", "date": "2026-01-10"},
		erp.Record{"partner_id": erptest.Partner(2, "Globex"), "price_total": 555555.0, "state": "cancel", "date": "2026-01-11"},
		erp.Record{"partner_id": false, "price_total": 5000.0, "state": "sale", "date": "2026-01-12"},
		erp.Record{"partner_id": erptest.Partner(2, "Globex"), "price_total": 100000.0, "state": "sale", "date": "2025-12-15"},
	)
	client := erp.NewClient(srv.Credentials(), erp.Config{})
	return New(client, WithClock(func() time.Time { return fixedNow })), srv
}

func TestFlatTotalEqualsGroupedSum(t *testing.T) {
	e, _ := salesFixture(t)
	ctx := context.Background()

	flat, err := e.Aggregate(ctx, QuerySpec{Model: "sale.report", Period: "this month"})
	require.NoError(t, err)
	grouped, err := e.Aggregate(ctx, QuerySpec{Model: "sale.report", Period: "this month", GroupBy: []string{"partner_id"}})
	require.NoError(t, err)

	assert.Equal(t, 185000.0, flat.Total, "drafts and cancellations must be excluded")
	assert.Equal(t, 4, flat.Count)
	assert.InDelta(t, flat.Total, grouped.Total, 0.001)
	assert.Equal(t, flat.Count, grouped.Count)

	var sum float64
	for _, g := range grouped.Grouped {
		sum += g.Total
	}
	assert.InDelta(t, flat.Total, sum, 0.001)
}

func TestGroupedOrderAndLabels(t *testing.T) {
	e, _ := salesFixture(t)
	res, err := e.Aggregate(context.Background(), QuerySpec{
		Model: "sale.report", Period: "this month", GroupBy: []string{"partner_id"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp", "Globex", "Initech", "Undefined"}, res.Grouped.Labels())

	b, err := json.Marshal(res.Grouped)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), `{"Acme Corp":{"total":128000,"count":1},"Globex"`), string(b))
}

func TestMergeGroupsKeepsSameNamePartnersApart(t *testing.T) {
	rows := []erp.Record{
		{"partner_id": erptest.Partner(4, "Juan Pérez"), "price_total": 100.0, "__count": 1.0},
		{"partner_id": erptest.Partner(9, "Juan Pérez"), "price_total": 50.0, "__count": 2.0},
		{"partner_id": erptest.Partner(1, "Acme Corp"), "price_total": 10.0, "__count": 1.0},
		{"partner_id": erptest.Partner(1, "Acme Corp"), "price_total": 5.0, "__count": 1.0},
	}
	groups := mergeGroups(rows, []string{"partner_id"}, "price_total")
	require.Len(t, groups, 3)
	assert.Equal(t, Group{ID: 4, Label: "Juan Pérez (#4)", Total: 100, Count: 1}, groups[0])
	assert.Equal(t, Group{ID: 9, Label: "Juan Pérez (#9)", Total: 50, Count: 2}, groups[1])
	assert.Equal(t, Group{ID: 1, Label: "Acme Corp", Total: 15, Count: 2}, groups[2])

	b, err := json.Marshal(groups)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Len(t, decoded, 3)
}

func TestTruncationNeverUnderstatesTotals(t *testing.T) {
	e, _ := salesFixture(t)
	res, err := e.Aggregate(context.Background(), QuerySpec{
		Model: "sale.report", Period: "this month", GroupBy: []string{"partner_id"}, Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, res.Grouped, 2)
	assert.Equal(t, 185000.0, res.Total)
	require.NotNil(t, res.Others)
	assert.Equal(t, 2, res.Others.Groups)
	assert.Equal(t, 17000.0, res.Others.Total)
}

func TestComparison(t *testing.T) {
	e, _ := salesFixture(t)
	res, err := e.Aggregate(context.Background(), QuerySpec{Model: "sale.report", Period: "this month", Compare: true})
	require.NoError(t, err)
	require.NotNil(t, res.Comparison)

	c := res.Comparison
	assert.Equal(t, 185000.0, c.Current)
	assert.Equal(t, 100000.0, c.Previous)
	assert.Equal(t, 85000.0, c.Variation)
	require.NotNil(t, c.VariationPct)
	assert.InDelta(t, 85.0, *c.VariationPct, 0.001)
	assert.Equal(t, TrendUp, c.Trend)
	assert.Equal(t, "2025-12-01..2025-12-31", c.PreviousRange.String())

	var kinds []string
	for _, in := range res.Insights {
		kinds = append(kinds, in.Kind)
	}
	assert.Contains(t, kinds, "growth")
}

func TestStateOverrideReachesTransport(t *testing.T) {
	e, srv := salesFixture(t)
	res, err := e.Aggregate(context.Background(), QuerySpec{Model: "sale.report", Period: "this month", States: []string{"draft"}})
	require.NoError(t, err)
	assert.Equal(t, 999999.0, res.Total)

	args := srv.LastArgs("read_group")
	domain := args[5].([]any)[0].([]any)
	var stateClauses int
	for _, c := range domain {
		if c.([]any)[0] == "state" {
			stateClauses++
		}
	}
	assert.Equal(t, 1, stateClauses)
}

func TestListAndLookup(t *testing.T) {
	e, srv := salesFixture(t)
	srv.AddRows("res.partner",
		erp.Record{"name": "Acme Corp", "email": "sales@acme.test"},
		erp.Record{"name": "Globex", "email": "info@globex.test"},
	)
	ctx := context.Background()

	list, err := e.List(ctx, QuerySpec{Model: "sale.report", Period: "this month", Fields: []string{"partner_id", "price_total"}, OrderBy: "price_total desc", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, list.Count)
	total, _ := list.Records[0].Float("price_total")
	assert.Equal(t, 128000.0, total)

	rows, err := e.Lookup(ctx, "res.partner", "acme", []string{"name", "email"}, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "sales@acme.test", rows[0].String("email"))

	_, err = e.Lookup(ctx, "res.partner", "  ", nil, 0)
	assert.True(t, errors.Is(err, ErrValidation))
}

// stubTransport answers read_group from a function and records calls.
type stubTransport struct {
	readGroup func(domain erp.Domain) ([]erp.Record, error)
	calls     atomic.Int32
}

func (s *stubTransport) SearchRead(context.Context, string, erp.Domain, erp.SearchOptions) ([]erp.Record, error) {
	s.calls.Add(1)
	return nil, nil
}

func (s *stubTransport) ReadGroup(_ context.Context, _ string, domain erp.Domain, _, _ []string, _ erp.GroupOptions) ([]erp.Record, error) {
	s.calls.Add(1)
	return s.readGroup(domain)
}

func (s *stubTransport) Read(context.Context, string, []int, []string) ([]erp.Record, error) {
	s.calls.Add(1)
	return nil, nil
}

func TestComparisonFailureDegradesGracefully(t *testing.T) {
	upstream := errors.New("erp upstream failure")
	st := &stubTransport{readGroup: func(d erp.Domain) ([]erp.Record, error) {
		if d[0].Value == "2025-12-01" {
			return nil, upstream
		}
		return []erp.Record{{"price_total": 10.0, "__count": 2.0}}, nil
	}}
	e := New(st, WithClock(func() time.Time { return fixedNow }))

	res, err := e.Aggregate(context.Background(), QuerySpec{Model: "sale.report", Period: "this month", Compare: true})
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Total)
	assert.Equal(t, 2, res.Count)
	assert.Nil(t, res.Comparison)
}

func TestTransportErrorsKeepTheirKind(t *testing.T) {
	st := &stubTransport{readGroup: func(erp.Domain) ([]erp.Record, error) {
		return nil, erp.ErrUpstream
	}}
	e := New(st)
	_, err := e.Aggregate(context.Background(), QuerySpec{Model: "sale.report"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, erp.ErrUpstream))
}

func TestValidationErrorsSkipTransport(t *testing.T) {
	st := &stubTransport{readGroup: func(erp.Domain) ([]erp.Record, error) { return nil, nil }}
	e := New(st)
	ctx := context.Background()

	for _, spec := range []QuerySpec{
		{Model: "sale.report", Period: "whenever"},
		{Model: "sale.report", Filter: "mood: happy"},
		{Model: ""},
		{Model: "res.partner"},
		{Model: "sale.report", Operation: OpList},
	} {
		_, err := e.Aggregate(ctx, spec)
		assert.Truef(t, errors.Is(err, ErrValidation), "%+v: %v", spec, err)
	}
	assert.Equal(t, int32(0), st.calls.Load())
}

func TestEmptyFlatTotal(t *testing.T) {
	st := &stubTransport{readGroup: func(erp.Domain) ([]erp.Record, error) {
		return []erp.Record{{"price_total": false, "__count": 0.0}}, nil
	}}
	res, err := New(st).Aggregate(context.Background(), QuerySpec{Model: "sale.report"})
	require.NoError(t, err)
	assert.Zero(t, res.Total)
	require.NotEmpty(t, res.Insights)
	assert.Equal(t, "empty", res.Insights[0].Kind)
}
