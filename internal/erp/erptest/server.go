// Package erptest provides an in-memory JSON-RPC server that speaks enough of
// the ERP protocol (authenticate, search_read, read_group, read) to exercise
// the client, the query engine and the skills end to end.
package erptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ziadkadry99/erp-copilot/internal/erp"
)

// Server is a fake ERP. Populate Rows before issuing calls.
type Server struct {
	*httptest.Server

	Database string
	Username string
	Secret   string

	mu       sync.Mutex
	rows     map[string][]erp.Record
	sessions map[int]bool
	nextUID  int
	calls    map[string]int
	failures map[string]*failure
	delay    time.Duration
	lastArgs map[string][]any
}

type failure struct {
	status int
	body   string
}

// NewServer starts a fake ERP accepting the given credentials.
func NewServer(database, username, secret string) *Server {
	s := &Server{
		Database: database,
		Username: username,
		Secret:   secret,
		rows:     make(map[string][]erp.Record),
		sessions: make(map[int]bool),
		nextUID:  2,
		calls:    make(map[string]int),
		failures: make(map[string]*failure),
		lastArgs: make(map[string][]any),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Credentials returns credentials that authenticate against s.
func (s *Server) Credentials() erp.Credentials {
	return erp.Credentials{URL: s.URL, Database: s.Database, Username: s.Username, Secret: s.Secret}
}

// AddRows appends records to model. Records without an "id" get one.
func (s *Server) AddRows(model string, rows ...erp.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if _, ok := r["id"]; !ok {
			r["id"] = float64(len(s.rows[model]) + 1)
		}
		s.rows[model] = append(s.rows[model], r)
	}
}

// Calls returns how many times method ("authenticate", "search_read", ...) was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of requests served.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// LastArgs returns the positional args of the most recent call to method.
func (s *Server) LastArgs(method string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastArgs[method]
}

// ExpireSessions invalidates every uid handed out so far.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[int]bool)
}

// FailNext makes the next call to method answer with the raw body and status.
func (s *Server) FailNext(method string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = &failure{status: status, body: body}
}

// SetDelay delays every response, to exercise timeouts.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

type request struct {
	ID     any `json:"id"`
	Params struct {
		Service string `json:"service"`
		Method  string `json:"method"`
		Args    []any  `json:"args"`
	} `json:"params"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	method := req.Params.Method
	args := req.Params.Args
	if req.Params.Service == "object" && len(args) >= 5 {
		method, _ = args[4].(string)
	}

	s.mu.Lock()
	s.calls[method]++
	s.lastArgs[method] = args
	f := s.failures[method]
	delete(s.failures, method)
	s.mu.Unlock()

	if f != nil {
		w.WriteHeader(f.status)
		w.Write([]byte(f.body))
		return
	}

	result, rerr := s.dispatch(req.Params.Service, req.Params.Method, args)
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rerr != nil {
		resp["error"] = rerr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func remoteError(name, message string) map[string]any {
	return map[string]any{
		"code":    200,
		"message": "Odoo Server Error",
		"data":    map[string]any{"name": name, "message": message},
	}
}

func (s *Server) dispatch(service, method string, args []any) (any, map[string]any) {
	switch {
	case service == "common" && method == "authenticate":
		return s.authenticate(args), nil
	case service == "object" && method == "execute_kw":
		return s.executeKW(args)
	}
	return nil, remoteError("builtins.KeyError", fmt.Sprintf("unknown service method %s.%s", service, method))
}

func (s *Server) authenticate(args []any) any {
	if len(args) < 3 || args[0] != s.Database || args[1] != s.Username || args[2] != s.Secret {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := s.nextUID
	s.nextUID++
	s.sessions[uid] = true
	return uid
}

func (s *Server) executeKW(args []any) (any, map[string]any) {
	if len(args) < 7 {
		return nil, remoteError("builtins.TypeError", "execute_kw expects 7 arguments")
	}
	uid, _ := args[1].(float64)
	s.mu.Lock()
	valid := s.sessions[int(uid)] && args[2] == s.Secret && args[0] == s.Database
	s.mu.Unlock()
	if !valid {
		return nil, remoteError("odoo.exceptions.AccessDenied", "Access Denied")
	}

	model, _ := args[3].(string)
	method, _ := args[4].(string)
	posArgs, _ := args[5].([]any)
	kwargs, _ := args[6].(map[string]any)

	s.mu.Lock()
	rows := append([]erp.Record(nil), s.rows[model]...)
	s.mu.Unlock()

	switch method {
	case "search_read":
		return searchRead(rows, posArgs, kwargs)
	case "read_group":
		return readGroup(rows, posArgs, kwargs)
	case "read":
		return read(rows, posArgs, kwargs)
	}
	return nil, remoteError("builtins.AttributeError", fmt.Sprintf("type object %q has no attribute %q", model, method))
}

func searchRead(rows []erp.Record, args []any, kwargs map[string]any) (any, map[string]any) {
	domain, err := parseDomain(args)
	if err != nil {
		return nil, remoteError("builtins.ValueError", err.Error())
	}
	matched := filter(rows, domain)
	if order, ok := kwargs["order"].(string); ok && order != "" {
		sortRows(matched, order)
	}
	if off, ok := kwargs["offset"].(float64); ok && int(off) < len(matched) {
		matched = matched[int(off):]
	}
	if lim, ok := kwargs["limit"].(float64); ok && lim > 0 && int(lim) < len(matched) {
		matched = matched[:int(lim)]
	}
	fields := stringList(kwargs["fields"])
	out := make([]erp.Record, len(matched))
	for i, r := range matched {
		out[i] = project(r, fields)
	}
	return out, nil
}

func read(rows []erp.Record, args []any, kwargs map[string]any) (any, map[string]any) {
	if len(args) == 0 {
		return nil, remoteError("builtins.TypeError", "read expects ids")
	}
	ids, _ := args[0].([]any)
	fields := stringList(kwargs["fields"])
	var out []erp.Record
	for _, id := range ids {
		for _, r := range rows {
			if rid, _ := r.Float("id"); rid == id {
				out = append(out, project(r, fields))
			}
		}
	}
	if out == nil {
		out = []erp.Record{}
	}
	return out, nil
}

func readGroup(rows []erp.Record, args []any, kwargs map[string]any) (any, map[string]any) {
	if len(args) < 3 {
		return nil, remoteError("builtins.TypeError", "read_group expects domain, fields, groupby")
	}
	domain, err := parseDomain(args)
	if err != nil {
		return nil, remoteError("builtins.ValueError", err.Error())
	}
	fields := stringList(args[1])
	groupBy := stringList(args[2])
	matched := filter(rows, domain)

	type bucket struct {
		keys  map[string]any
		count int
		sums  map[string]float64
	}
	var order []string
	buckets := map[string]*bucket{}
	for _, r := range matched {
		keys := map[string]any{}
		var parts []string
		for _, g := range groupBy {
			v := groupValue(r, g)
			keys[g] = v
			b, _ := json.Marshal(v)
			parts = append(parts, string(b))
		}
		id := strings.Join(parts, "|")
		b, ok := buckets[id]
		if !ok {
			b = &bucket{keys: keys, sums: map[string]float64{}}
			buckets[id] = b
			order = append(order, id)
		}
		b.count++
		for _, f := range fields {
			name, _, _ := strings.Cut(f, ":")
			v, _ := r.Float(name)
			b.sums[name] += v
		}
	}

	out := []erp.Record{}
	if len(groupBy) == 0 {
		row := erp.Record{"__count": float64(len(matched))}
		for _, f := range fields {
			name, _, _ := strings.Cut(f, ":")
			var total float64
			for _, r := range matched {
				v, _ := r.Float(name)
				total += v
			}
			if len(matched) == 0 {
				row[name] = false
			} else {
				row[name] = total
			}
		}
		return []erp.Record{row}, nil
	}
	for _, id := range order {
		b := buckets[id]
		row := erp.Record{"__count": float64(b.count)}
		for k, v := range b.keys {
			row[k] = v
		}
		for k, v := range b.sums {
			row[k] = v
		}
		out = append(out, row)
	}
	if ob, ok := kwargs["orderby"].(string); ok && ob != "" {
		sortRows(out, ob)
	}
	if lim, ok := kwargs["limit"].(float64); ok && lim > 0 && int(lim) < len(out) {
		out = out[:int(lim)]
	}
	return out, nil
}

func groupValue(r erp.Record, g string) any {
	field, gran, ok := strings.Cut(g, ":")
	v := r[field]
	if !ok {
		if v == nil {
			return false
		}
		return v
	}
	s, _ := v.(string)
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return false
	}
	switch gran {
	case "year":
		return t.Format("2006")
	case "day":
		return t.Format("02 Jan 2006")
	case "quarter":
		return fmt.Sprintf("Q%d %d", (int(t.Month())-1)/3+1, t.Year())
	default:
		return t.Format("January 2006")
	}
}

func parseDomain(args []any) (erp.Domain, error) {
	if len(args) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(args[0])
	if err != nil {
		return nil, err
	}
	var d []erp.Condition
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("invalid domain: %v", err)
	}
	return d, nil
}

func filter(rows []erp.Record, domain erp.Domain) []erp.Record {
	var out []erp.Record
	for _, r := range rows {
		if matches(r, domain) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r erp.Record, domain erp.Domain) bool {
	for _, c := range domain {
		if !matchOne(r, c) {
			return false
		}
	}
	return true
}

func matchOne(r erp.Record, c erp.Condition) bool {
	v := r[c.Field]
	id, name, isM2O := r.Many2One(c.Field)
	switch c.Operator {
	case "=", "!=":
		eq := false
		if isM2O {
			switch want := c.Value.(type) {
			case float64:
				eq = float64(id) == want
			case string:
				eq = name == want
			}
		} else {
			eq = fmt.Sprint(v) == fmt.Sprint(c.Value)
		}
		return eq == (c.Operator == "=")
	case "in", "not in":
		list, _ := c.Value.([]any)
		in := false
		for _, item := range list {
			if isM2O {
				if f, ok := item.(float64); ok && float64(id) == f {
					in = true
				}
			} else if fmt.Sprint(v) == fmt.Sprint(item) {
				in = true
			}
		}
		return in == (c.Operator == "in")
	case "ilike", "like", "not ilike":
		text := fmt.Sprint(v)
		if isM2O {
			text = name
		}
		needle := fmt.Sprint(c.Value)
		hit := strings.Contains(strings.ToLower(text), strings.ToLower(needle))
		if c.Operator == "like" {
			hit = strings.Contains(text, needle)
		}
		return hit == (c.Operator != "not ilike")
	case ">", ">=", "<", "<=":
		return compare(v, c.Value, c.Operator)
	}
	return false
}

func compare(a, b any, op string) bool {
	if af, ok := a.(float64); ok {
		bf, ok := b.(float64)
		if !ok {
			return false
		}
		switch op {
		case ">":
			return af > bf
		case ">=":
			return af >= bf
		case "<":
			return af < bf
		default:
			return af <= bf
		}
	}
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	if !ok1 || !ok2 {
		return false
	}
	switch op {
	case ">":
		return as > bs
	case ">=":
		return as >= bs
	case "<":
		return as < bs
	default:
		return as <= bs
	}
}

func sortRows(rows []erp.Record, order string) {
	field, dir, _ := strings.Cut(strings.TrimSpace(order), " ")
	desc := strings.EqualFold(strings.TrimSpace(dir), "desc")
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := rows[i].Float(field)
		b, _ := rows[j].Float(field)
		if desc {
			return a > b
		}
		return a < b
	})
}

func project(r erp.Record, fields []string) erp.Record {
	if len(fields) == 0 {
		return r
	}
	out := erp.Record{"id": r["id"]}
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = v
		} else {
			out[f] = false
		}
	}
	return out
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Partner builds a many2one value the way the ERP serializes it.
func Partner(id int, name string) []any {
	return []any{float64(id), name}
}
