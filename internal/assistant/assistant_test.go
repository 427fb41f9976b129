package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/erp-copilot/internal/audit"
	"github.com/ziadkadry99/erp-copilot/internal/db"
	"github.com/ziadkadry99/erp-copilot/internal/erp"
	"github.com/ziadkadry99/erp-copilot/internal/erp/erptest"
	"github.com/ziadkadry99/erp-copilot/internal/llm"
	"github.com/ziadkadry99/erp-copilot/internal/llm/llmtest"
	"github.com/ziadkadry99/erp-copilot/internal/skills"
	"github.com/ziadkadry99/erp-copilot/internal/tenants"
	"github.com/ziadkadry99/erp-copilot/internal/validator"
)

const secret = "s3cr3t-token"

var fixedNow = time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	tenants  *tenants.Store
	loader   *skills.Loader
	audit    *audit.Store
	sessions *Store
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cipher, err := tenants.NewCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	store := tenants.NewStore(database, cipher)

	catalog, err := skills.NewCatalog(skills.Deps{
		ERP: erp.NewFactory(erp.Config{}, nil, nil),
		Now: func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	return &fixture{
		tenants:  store,
		loader:   skills.NewLoader(catalog, store),
		audit:    audit.NewStore(database),
		sessions: NewStore(database),
	}
}

// connect registers a fake ERP for tenant and returns it.
func (f *fixture) connect(t *testing.T, tenant string, rows ...erp.Record) *erptest.Server {
	t.Helper()
	srv := erptest.NewServer(tenant, "bot", secret)
	t.Cleanup(srv.Close)
	srv.AddRows("sale.report", rows...)
	require.NoError(t, f.tenants.PutERP(context.Background(), tenant, srv.Credentials()))
	return srv
}

func (f *fixture) assistant(p llm.Provider, cfg Config) *Assistant {
	return New(p, f.loader, cfg,
		WithSessions(f.sessions),
		WithAudit(f.audit),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func januarySales() []erp.Record {
	return []erp.Record{
		{"partner_id": erptest.Partner(1, "Acme Corp"), "product_id": erptest.Partner(10, "Widget"), "price_total": 128000.0, "product_uom_qty": 4.0, "state": "sale", "date": "2026-01-05"},
		{"partner_id": erptest.Partner(2, "Globex"), "product_id": erptest.Partner(11, "Gadget"), "price_total": 40000.0, "product_uom_qty": 40.0, "state": "done", "date": "2026-01-07"},
		{"partner_id": erptest.Partner(3, "Initech"), "product_id": erptest.Partner(10, "Widget"), "price_total": 12000.0, "product_uom_qty": 1.0, "state": "sale", "date": "2026-01-09"},
		{"partner_id": erptest.Partner(1, "Acme Corp"), "product_id": erptest.Partner(11, "Gadget"), "price_total": 999999.0, "product_uom_qty": 1.0, "state": "draft", "date": "2026-01-10"},
	}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func toolNames(specs []llm.ToolSpec) []string {
	var out []string
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}

func TestAskGroundedAnswerIsSent(t *testing.T) {
	f := setup(t)
	srv := f.connect(t, "acme", januarySales()...)

	const prose = "Acme Corp led January with $128.000, followed by Globex with $40.000 and Initech with $12.000, for a total of $180.000."
	p := llmtest.New(
		llmtest.Calls(call("c1", "sales_breakdown", `{"by":"customer"}`)),
		llmtest.Text(prose),
	)

	ans, err := f.assistant(p, Config{}).Ask(context.Background(), Request{TenantID: "acme", CallerID: "u1", Question: "Who were our best customers this month?"})
	require.NoError(t, err)

	assert.Equal(t, prose, ans.Text)
	assert.Equal(t, validator.Send, ans.Validation.Action)
	assert.Equal(t, 100, ans.Validation.Confidence)
	assert.False(t, ans.Regenerated)
	assert.Equal(t, 1, ans.Rounds)
	assert.Equal(t, []string{"sales_breakdown"}, ans.SkillsUsed())
	require.Len(t, ans.Calls, 1)
	assert.True(t, ans.Calls[0].OK)
	assert.Equal(t, skills.StateSucceeded, ans.Calls[0].State)
	assert.Equal(t, 20, ans.Usage.InputTokens)
	assert.Equal(t, 10, ans.Usage.OutputTokens)
	assert.NotEmpty(t, ans.SessionID)
	assert.Positive(t, srv.TotalCalls())

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, toolNames(reqs[0].Tools), "sales_breakdown")
	assert.Equal(t, llm.RoleSystem, reqs[0].Messages[0].Role)
	assert.Contains(t, reqs[0].Messages[0].Content, "Wednesday, 14 January 2026")
	assert.NotContains(t, reqs[0].Messages[0].Content, secret)

	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Contains(t, last.Content, "Acme Corp")
	assert.NotContains(t, last.Content, "999999", "drafts are not confirmed sales")
	for _, m := range reqs[1].Messages {
		assert.NotContains(t, m.Content, secret, "credentials never reach the model")
	}
}

func TestAskRegeneratesHallucinatedFigure(t *testing.T) {
	f := setup(t)
	f.connect(t, "globex")

	p := llmtest.New(
		llmtest.Calls(call("c1", "sales_summary", `{}`)),
		llmtest.Text("Sales this month were $ 5.200.000."),
		llmtest.Text("There is no confirmed sales data for this month yet."),
	)

	ans, err := f.assistant(p, Config{}).Ask(context.Background(), Request{TenantID: "globex", CallerID: "u2", Question: "How much did we sell this month?"})
	require.NoError(t, err)

	assert.True(t, ans.Regenerated)
	assert.Equal(t, "There is no confirmed sales data for this month yet.", ans.Text)
	assert.Equal(t, validator.Send, ans.Validation.Action)
	assert.NotContains(t, ans.Text, "5.200.000")

	reqs := p.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, llm.ToolChoiceAuto, reqs[0].ToolChoice)
	assert.NotEmpty(t, reqs[2].Tools, "tool history needs the definitions on the corrective pass")
	assert.Equal(t, llm.ToolChoiceNone, reqs[2].ToolChoice, "the corrective pass cannot call tools")
	msgs := reqs[2].Messages
	assert.Equal(t, "Sales this month were $ 5.200.000.", msgs[len(msgs)-2].Content)
	assert.Contains(t, msgs[len(msgs)-1].Content, "Absolute rule")

	entries, err := f.audit.Query(context.Background(), audit.QueryFilter{TenantID: "globex", Action: audit.ActionAnswerValidated})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(validator.Regenerate), entries[0].Target)

	entries, err = f.audit.Query(context.Background(), audit.QueryFilter{TenantID: "globex", Action: audit.ActionAnswerRegenerated})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(validator.Send), entries[0].Target)
}

func TestAskFallsBackWhenCorrectionFails(t *testing.T) {
	f := setup(t)
	f.connect(t, "globex")

	p := llmtest.New(
		llmtest.Calls(call("c1", "sales_summary", `{}`)),
		llmtest.Text("Sales this month were $ 5.200.000."),
		llmtest.Text("Roughly $ 4.900.000 so far."),
	)

	ans, err := f.assistant(p, Config{}).Ask(context.Background(), Request{TenantID: "globex", Question: "How much did we sell?"})
	require.NoError(t, err)
	assert.Equal(t, fallbackAnswer, ans.Text)
	assert.Equal(t, validator.Regenerate, ans.Validation.Action)
	assert.True(t, ans.Regenerated)
}

func TestAskKeepsTenantsApart(t *testing.T) {
	f := setup(t)
	acme := f.connect(t, "acme", januarySales()...)
	initech := f.connect(t, "initech",
		erp.Record{"partner_id": erptest.Partner(9, "Wayne"), "price_total": 7.0, "product_uom_qty": 1.0, "state": "sale", "date": "2026-01-02"},
	)

	ask := func(tenant string) string {
		p := llmtest.New(
			llmtest.Calls(call("c1", "sales_summary", `{"compare":false}`)),
			llmtest.Text("Done."),
		)
		_, err := f.assistant(p, Config{}).Ask(context.Background(), Request{TenantID: tenant, Question: "Sales this month?"})
		require.NoError(t, err)
		msgs := p.Requests()[1].Messages
		return msgs[len(msgs)-1].Content
	}

	acmeResult := ask("acme")
	assert.Equal(t, 0, initech.TotalCalls(), "acme's turn never reaches initech's ERP")
	assert.Contains(t, acmeResult, `"total":180000`)

	before := acme.TotalCalls()
	initechResult := ask("initech")
	assert.Equal(t, before, acme.TotalCalls(), "initech's turn never reaches acme's ERP")
	assert.Contains(t, initechResult, `"total":7`)
	assert.NotContains(t, initechResult, "Acme Corp")
}

func TestAskWithoutIntegrationRefusesSkill(t *testing.T) {
	f := setup(t)

	p := llmtest.New(
		llmtest.Calls(call("c1", "sales_summary", `{}`)),
		llmtest.Text("Your ERP is not connected, so I cannot report sales."),
	)

	ans, err := f.assistant(p, Config{}).Ask(context.Background(), Request{TenantID: "hooli", Question: "Sales this month?"})
	require.NoError(t, err)

	reqs := p.Requests()
	assert.Empty(t, reqs[0].Tools)
	assert.Contains(t, reqs[0].Messages[0].Content, "No data sources are connected")
	require.Len(t, ans.Calls, 1)
	assert.False(t, ans.Calls[0].OK)
	assert.Equal(t, skills.KindAuth, ans.Calls[0].ErrorKind)
	assert.Equal(t, validator.Send, ans.Validation.Action)
}

func TestAskRunsOneRoundOfCallsConcurrently(t *testing.T) {
	f := setup(t)
	f.connect(t, "acme", januarySales()...)

	p := llmtest.New(
		llmtest.Calls(
			call("c1", "sales_summary", `{"compare":false}`),
			call("c2", "top_products", `{}`),
			call("c3", "run_sql", `{"sql":"select 1"}`),
		),
		llmtest.Text("Sales reached $180.000. Widget and Gadget were the top products."),
	)

	ans, err := f.assistant(p, Config{}).Ask(context.Background(), Request{TenantID: "acme", Question: "How are we doing?"})
	require.NoError(t, err)

	require.Len(t, ans.Calls, 3)
	assert.Equal(t, "sales_summary", ans.Calls[0].Skill)
	assert.Equal(t, "top_products", ans.Calls[1].Skill)
	assert.Equal(t, skills.KindValidation, ans.Calls[2].ErrorKind)
	assert.Equal(t, []string{"sales_summary", "top_products", "run_sql"}, ans.SkillsUsed())

	msgs := p.Requests()[1].Messages
	tools := msgs[len(msgs)-3:]
	for i, id := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, llm.RoleTool, tools[i].Role)
		assert.Equal(t, id, tools[i].ToolCallID)
	}
	assert.Contains(t, tools[1].Content, "Widget")
}

func TestAskStopsAtToolRoundBudget(t *testing.T) {
	f := setup(t)
	f.connect(t, "acme", januarySales()...)

	p := llmtest.New(
		llmtest.Calls(call("c1", "sales_summary", `{"compare":false}`)),
		llmtest.Text("Confirmed sales this month total $180.000."),
	)

	ans, err := f.assistant(p, Config{MaxToolRounds: 1}).Ask(context.Background(), Request{TenantID: "acme", Question: "Sales?"})
	require.NoError(t, err)

	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[0].Tools)
	assert.Equal(t, llm.ToolChoiceAuto, reqs[0].ToolChoice)
	assert.NotEmpty(t, reqs[1].Tools)
	assert.Equal(t, llm.ToolChoiceNone, reqs[1].ToolChoice, "no tool use once the budget is spent")
	assert.Equal(t, 1, ans.Rounds)
	assert.Equal(t, validator.Send, ans.Validation.Action)
}

func TestAskContinuesSession(t *testing.T) {
	f := setup(t)
	f.connect(t, "acme", januarySales()...)
	a := f.assistant(llmtest.New(llmtest.Text("Hello, ask me about your sales.")), Config{})

	first, err := a.Ask(context.Background(), Request{TenantID: "acme", CallerID: "u1", Question: "Hi"})
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)

	p := llmtest.New(llmtest.Text("Sure."))
	a = f.assistant(p, Config{})
	second, err := a.Ask(context.Background(), Request{TenantID: "acme", CallerID: "u1", SessionID: first.SessionID, Question: "Thanks"})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	msgs := p.Requests()[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "Hi", msgs[1].Content)
	assert.Equal(t, "Hello, ask me about your sales.", msgs[2].Content)
	assert.Equal(t, "Thanks", msgs[3].Content)

	stored, err := f.sessions.Messages(context.Background(), first.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Contains(t, stored[3].Metadata, `"action":"send"`)

	_, err = a.Ask(context.Background(), Request{TenantID: "globex", SessionID: first.SessionID, Question: "Hi"})
	assert.True(t, errors.Is(err, ErrSessionNotFound), "a session is invisible to other tenants")
}

func TestAskAuditTrail(t *testing.T) {
	f := setup(t)
	f.connect(t, "acme", januarySales()...)

	p := llmtest.New(
		llmtest.Calls(call("c1", "sales_summary", `{"compare":false}`)),
		llmtest.Text("Confirmed sales this month total $180.000."),
	)
	ans, err := f.assistant(p, Config{}).Ask(context.Background(), Request{TenantID: "acme", CallerID: "u1", Question: "Sales?"})
	require.NoError(t, err)

	entries, err := f.audit.Query(context.Background(), audit.QueryFilter{TenantID: "acme"})
	require.NoError(t, err)

	actions := map[audit.Action]audit.Entry{}
	for _, e := range entries {
		actions[e.Action] = e
		assert.Equal(t, ans.SessionID, e.ConversationID)
		assert.NotContains(t, e.Detail, secret)
		assert.NotContains(t, e.Summary, secret)
	}
	require.Contains(t, actions, audit.ActionQuestionAsked)
	require.Contains(t, actions, audit.ActionSkillInvoked)
	require.Contains(t, actions, audit.ActionAnswerValidated)
	assert.NotContains(t, actions, audit.ActionAnswerRegenerated)

	invoked := actions[audit.ActionSkillInvoked]
	assert.Equal(t, "sales_summary", invoked.Target)
	assert.Equal(t, string(skills.StateSucceeded), invoked.Outcome)
	assert.Equal(t, audit.ActorAssistant, invoked.ActorType)
	assert.Equal(t, "u1", invoked.ActorID)
}

func TestAskErrors(t *testing.T) {
	f := setup(t)

	_, err := f.assistant(llmtest.New(), Config{}).Ask(context.Background(), Request{TenantID: "acme", Question: "   "})
	assert.True(t, errors.Is(err, ErrEmptyQuestion))

	_, err = f.assistant(llmtest.New(), Config{}).Ask(context.Background(), Request{Question: "Sales?"})
	assert.Error(t, err, "a tenant is required")

	p := llmtest.New()
	p.Err = errors.New("provider down")
	_, err = f.assistant(p, Config{}).Ask(context.Background(), Request{TenantID: "acme", Question: "Sales?"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "provider down"))
}

func TestMessagesHistoryLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	sess, err := f.sessions.CreateSession(ctx, "acme", "")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", sess.UserID)

	for _, c := range []string{"one", "two", "three", "four"} {
		_, err := f.sessions.AddMessage(ctx, Message{SessionID: sess.ID, Role: "user", Content: c})
		require.NoError(t, err)
	}

	last, err := f.sessions.Messages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "three", last[0].Content)
	assert.Equal(t, "four", last[1].Content)

	got, err := f.sessions.GetSession(ctx, "acme", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.TenantID)

	_, err = f.sessions.GetSession(ctx, "other", sess.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}
