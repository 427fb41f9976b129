package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/erp-copilot/internal/assistant"
	"github.com/ziadkadry99/erp-copilot/internal/audit"
	"github.com/ziadkadry99/erp-copilot/internal/db"
	"github.com/ziadkadry99/erp-copilot/internal/erp"
	"github.com/ziadkadry99/erp-copilot/internal/erp/erptest"
	"github.com/ziadkadry99/erp-copilot/internal/llm"
	"github.com/ziadkadry99/erp-copilot/internal/llm/llmtest"
	"github.com/ziadkadry99/erp-copilot/internal/skills"
	"github.com/ziadkadry99/erp-copilot/internal/tenants"
)

var fixedNow = time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db      *db.DB
	tenants *tenants.Store
	loader  *skills.Loader
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	cipher, err := tenants.NewCipher(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	store := tenants.NewStore(database, cipher)

	catalog, err := skills.NewCatalog(skills.Deps{
		ERP: erp.NewFactory(erp.Config{}, nil, nil),
		Now: func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	return &fixture{db: database, tenants: store, loader: skills.NewLoader(catalog, store)}
}

func (f *fixture) server(t *testing.T, p llm.Provider) *Server {
	t.Helper()
	var asst *assistant.Assistant
	if p != nil {
		asst = assistant.New(p, f.loader, assistant.Config{},
			assistant.WithSessions(assistant.NewStore(f.db)),
			assistant.WithAudit(audit.NewStore(f.db)),
			assistant.WithClock(func() time.Time { return fixedNow }),
		)
	}
	return New(Config{}, f.db, f.loader, asst)
}

func (f *fixture) connectAcme(t *testing.T) {
	t.Helper()
	srv := erptest.NewServer("acme", "bot", "key")
	t.Cleanup(srv.Close)
	srv.AddRows("sale.report",
		erp.Record{"partner_id": erptest.Partner(1, "Acme Corp"), "price_total": 128000.0, "product_uom_qty": 4.0, "state": "sale", "date": "2026-01-05"},
		erp.Record{"partner_id": erptest.Partner(2, "Globex"), "price_total": 40000.0, "product_uom_qty": 40.0, "state": "done", "date": "2026-01-07"},
	)
	require.NoError(t, f.tenants.PutERP(context.Background(), "acme", srv.Credentials()))
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	f := setup(t)
	srv := f.server(t, nil)

	w := do(t, srv.Router(), "GET", "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCORSHeaders(t *testing.T) {
	f := setup(t)
	srv := New(Config{AllowAll: true}, f.db, f.loader, nil)

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCatalogEndpoint(t *testing.T) {
	f := setup(t)
	w := do(t, f.server(t, nil).Router(), "GET", "/api/skills", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []skills.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 8)
	for _, s := range got {
		assert.True(t, json.Valid(s.Schema), s.Name)
	}
}

func TestTenantSkillsEndpoint(t *testing.T) {
	f := setup(t)
	f.connectAcme(t)
	h := f.server(t, nil).Router()

	w := do(t, h, "GET", "/api/tenants/acme/skills", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got []skills.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 7, "every ERP skill, no document search")

	w = do(t, h, "GET", "/api/tenants/nobody/skills", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAskRequiresTenant(t *testing.T) {
	f := setup(t)
	w := do(t, f.server(t, llmtest.New()).Router(), "POST", "/api/ask", askRequest{Question: "Sales?"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "tenant is required")
}

func TestAskEndpoint(t *testing.T) {
	f := setup(t)
	f.connectAcme(t)

	p := llmtest.New(
		llmtest.Calls(llm.ToolCall{ID: "c1", Name: "sales_summary", Arguments: json.RawMessage(`{"compare":false}`)}),
		llmtest.Text("Confirmed sales this month total $168.000."),
	)
	h := f.server(t, p).Router()

	w := do(t, h, "POST", "/api/ask", askRequest{Question: "How much did we sell this month?"},
		map[string]string{TenantHeader: "acme", CallerHeader: "u1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var ans assistant.Answer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ans))
	assert.Equal(t, "Confirmed sales this month total $168.000.", ans.Text)
	assert.Equal(t, "send", string(ans.Validation.Action))
	assert.NotEmpty(t, ans.SessionID)

	w = do(t, h, "GET", "/api/audit/?tenant=acme&action=skill_invoked", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "sales_summary", entries[0].Target)
	assert.Equal(t, "u1", entries[0].ActorID)
}

func TestAuditEndpointIsTenantScoped(t *testing.T) {
	f := setup(t)
	store := audit.NewStore(f.db)
	ctx := context.Background()
	require.NoError(t, store.Log(ctx, audit.Entry{ID: "a1", TenantID: "acme", ActorType: audit.ActorAssistant, ActorID: "u1", Action: audit.ActionSkillInvoked}))
	require.NoError(t, store.Log(ctx, audit.Entry{ID: "g1", TenantID: "globex", ActorType: audit.ActorAssistant, ActorID: "u2", Action: audit.ActionSkillInvoked}))
	h := f.server(t, nil).Router()

	w := do(t, h, "GET", "/api/audit/", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "globex")

	// the header wins over the query parameter
	w = do(t, h, "GET", "/api/audit/?tenant=globex", nil, map[string]string{TenantHeader: "acme"})
	require.Equal(t, http.StatusOK, w.Code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].ID)

	w = do(t, h, "GET", "/api/audit/g1", nil, map[string]string{TenantHeader: "acme"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "GET", "/api/audit/g1?tenant=globex", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAskEndpointErrors(t *testing.T) {
	f := setup(t)

	h := f.server(t, llmtest.New()).Router()
	w := do(t, h, "POST", "/api/ask?tenant=acme", askRequest{Question: " "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/api/ask?tenant=acme", askRequest{Question: "Hi", SessionID: "missing"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest("POST", "/api/ask?tenant=acme", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w = do(t, f.server(t, nil).Router(), "POST", "/api/ask?tenant=acme", askRequest{Question: "Hi"}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	p := llmtest.New()
	p.Err = context.DeadlineExceeded
	w = do(t, f.server(t, p).Router(), "POST", "/api/ask?tenant=acme", askRequest{Question: "Hi"}, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "deadline", "internal errors are not echoed")
}

func TestAskWebSocket(t *testing.T) {
	f := setup(t)
	p := llmtest.New(
		llmtest.Text("Hello, ask me about your sales."),
		llmtest.Text("You are welcome."),
	)
	ts := httptest.NewServer(f.server(t, p).Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ask/ws?tenant=acme"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteJSON(askRequest{Question: "Hi"}))
	var first wsResponse
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "answer", first.Type)
	require.NotNil(t, first.Answer)
	assert.Equal(t, "Hello, ask me about your sales.", first.Answer.Text)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var bad wsResponse
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, "error", bad.Type)

	require.NoError(t, conn.WriteJSON(askRequest{Question: "Thanks"}))
	var second wsResponse
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "answer", second.Type)
	assert.Equal(t, first.SessionID, second.SessionID, "the connection keeps its session")

	// The second turn replayed the first exchange.
	reqs := p.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 4)
}

func TestAskWebSocketRequiresTenant(t *testing.T) {
	f := setup(t)
	ts := httptest.NewServer(f.server(t, llmtest.New()).Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ask/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
