package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 32 << 20

var aggregateFuncs = map[string]bool{"sum": true, "count": true, "avg": true, "min": true, "max": true}

var groupGranularities = map[string]bool{"day": true, "week": true, "month": true, "quarter": true, "year": true}

// Config controls timeouts and pacing of outbound calls.
type Config struct {
	// CallTimeout bounds every remote call (default 30s).
	CallTimeout time.Duration

	// RateLimit is the sustained number of calls per second per client (default 10).
	RateLimit float64

	// RateBurst is the maximum burst size (default 5).
	RateBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{CallTimeout: 30 * time.Second, RateLimit: 10, RateBurst: 5}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.RateLimit <= 0 {
		c.RateLimit = d.RateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	return c
}

// SearchOptions are the optional arguments of SearchRead.
type SearchOptions struct {
	Fields []string
	Limit  int
	Offset int
	Order  string
}

// GroupOptions are the optional arguments of ReadGroup.
type GroupOptions struct {
	Limit   int
	Offset  int
	OrderBy string
}

// Factory builds clients that share one session cache and HTTP client.
type Factory struct {
	cfg      Config
	http     *http.Client
	sessions *SessionCache
}

// NewFactory creates a Factory. A nil httpClient uses a fresh http.Client;
// a nil sessions cache uses one with DefaultSessionTTL.
func NewFactory(cfg Config, sessions *SessionCache, httpClient *http.Client) *Factory {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if sessions == nil {
		sessions = NewSessionCache(DefaultSessionTTL)
	}
	return &Factory{cfg: cfg.withDefaults(), http: httpClient, sessions: sessions}
}

// Client returns a client bound to creds.
func (f *Factory) Client(creds Credentials) *Client {
	return newClient(creds, f.cfg, f.sessions, f.http)
}

// Sessions exposes the shared cache so callers can invalidate it.
func (f *Factory) Sessions() *SessionCache { return f.sessions }

// Client performs authenticated JSON-RPC calls for exactly one credential set.
type Client struct {
	creds    Credentials
	key      string
	cfg      Config
	http     *http.Client
	sessions *SessionCache
	limiter  *rate.Limiter
	tracer   trace.Tracer
	nextID   atomic.Int64
}

// NewClient creates a standalone client with its own session cache.
func NewClient(creds Credentials, cfg Config) *Client {
	return newClient(creds, cfg.withDefaults(), NewSessionCache(DefaultSessionTTL), &http.Client{})
}

func newClient(creds Credentials, cfg Config, sessions *SessionCache, httpClient *http.Client) *Client {
	return &Client{
		creds:    creds,
		key:      creds.Fingerprint(),
		cfg:      cfg,
		http:     httpClient,
		sessions: sessions,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		tracer:   otel.Tracer("github.com/ziadkadry99/erp-copilot/internal/erp"),
	}
}

// InvalidateSession drops the cached session for this client's credentials.
func (c *Client) InvalidateSession() { c.sessions.Invalidate(c.key) }

// Authenticate exchanges the credentials for a uid and caches it.
func (c *Client) Authenticate(ctx context.Context) (int, error) {
	const op = "common.authenticate"
	raw, err := c.call(ctx, "common", "authenticate", []any{
		c.creds.Database, c.creds.Username, c.creds.Secret, map[string]any{},
	})
	if err != nil {
		return 0, err
	}
	uid, err := decodeUID(op, raw)
	if err != nil {
		return 0, err
	}
	c.sessions.Put(c.key, uid)
	log.Debug().Str("db", c.creds.Database).Str("user", c.creds.Username).Int("uid", uid).Msg("erp session established")
	return uid, nil
}

// SearchRead returns every record of model matching domain.
func (c *Client) SearchRead(ctx context.Context, model string, domain Domain, opts SearchOptions) ([]Record, error) {
	op := model + ".search_read"
	if model == "" {
		return nil, invalidErr(op, "model is required")
	}
	kwargs := map[string]any{}
	if len(opts.Fields) > 0 {
		kwargs["fields"] = opts.Fields
	}
	if opts.Limit > 0 {
		kwargs["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		kwargs["offset"] = opts.Offset
	}
	if opts.Order != "" {
		kwargs["order"] = opts.Order
	}
	raw, err := c.execute(ctx, model, "search_read", []any{domainArg(domain)}, kwargs)
	if err != nil {
		return nil, err
	}
	return decodeRecords(op, raw)
}

// ReadGroup aggregates model over domain. aggregates are "field:func"
// pairs; groupBy entries may carry a ":day|:week|:month|:quarter|:year"
// modifier. One row is returned per group, each carrying "__count".
func (c *Client) ReadGroup(ctx context.Context, model string, domain Domain, aggregates, groupBy []string, opts GroupOptions) ([]Record, error) {
	op := model + ".read_group"
	if model == "" {
		return nil, invalidErr(op, "model is required")
	}
	for _, a := range aggregates {
		field, fn, ok := strings.Cut(a, ":")
		if !ok || field == "" || !aggregateFuncs[fn] {
			return nil, invalidErr(op, "invalid aggregate %q: want field:sum|count|avg|min|max", a)
		}
	}
	for _, g := range groupBy {
		field, gran, hasGran := strings.Cut(g, ":")
		if field == "" || (hasGran && !groupGranularities[gran]) {
			return nil, invalidErr(op, "invalid group-by %q", g)
		}
	}

	fields := aggregates
	if fields == nil {
		fields = []string{}
	}
	groups := groupBy
	if groups == nil {
		groups = []string{}
	}
	kwargs := map[string]any{"lazy": false}
	if opts.Limit > 0 {
		kwargs["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		kwargs["offset"] = opts.Offset
	}
	if opts.OrderBy != "" {
		kwargs["orderby"] = opts.OrderBy
	}
	raw, err := c.execute(ctx, model, "read_group", []any{domainArg(domain), fields, groups}, kwargs)
	if err != nil {
		return nil, err
	}
	return decodeRecords(op, raw)
}

// Read fetches records by id.
func (c *Client) Read(ctx context.Context, model string, ids []int, fields []string) ([]Record, error) {
	op := model + ".read"
	if model == "" {
		return nil, invalidErr(op, "model is required")
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}
	kwargs := map[string]any{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	raw, err := c.execute(ctx, model, "read", []any{ids}, kwargs)
	if err != nil {
		return nil, err
	}
	return decodeRecords(op, raw)
}

// execute runs object.execute_kw, authenticating first when no session is
// cached. A cached session rejected by the remote is dropped and the call
// replayed once with a fresh one.
func (c *Client) execute(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	uid, cached, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := c.executeAs(ctx, uid, model, method, args, kwargs)

	var e *Error
	if cached && errors.As(err, &e) && e.Remote != nil && e.Remote.sessionRejected() {
		log.Debug().Str("model", model).Str("method", method).Msg("erp session rejected, re-authenticating")
		c.sessions.Invalidate(c.key)
		if uid, err = c.Authenticate(ctx); err != nil {
			return nil, err
		}
		raw, err = c.executeAs(ctx, uid, model, method, args, kwargs)
	}
	return raw, err
}

func (c *Client) executeAs(ctx context.Context, uid int, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	return c.call(ctx, "object", "execute_kw", []any{
		c.creds.Database, uid, c.creds.Secret, model, method, args, kwargs,
	}, attribute.String("erp.model", model), attribute.String("erp.model_method", method))
}

func (c *Client) session(ctx context.Context) (uid int, cached bool, err error) {
	if uid, ok := c.sessions.Get(c.key); ok {
		return uid, true, nil
	}
	uid, err = c.Authenticate(ctx)
	return uid, false, err
}

// call performs one JSON-RPC round trip bounded by the configured timeout.
func (c *Client) call(ctx context.Context, service, method string, args []any, attrs ...attribute.KeyValue) (json.RawMessage, error) {
	op := service + "." + method
	ctx, span := c.tracer.Start(ctx, "erp."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("erp.database", c.creds.Database))...))
	defer span.End()

	raw, err := c.roundTrip(ctx, op, service, method, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return raw, err
}

func (c *Client) roundTrip(ctx context.Context, op, service, method string, args []any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, upstreamErr(op, "rate limiter: %v", err)
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		ID:      c.nextID.Add(1),
		Params:  rpcParams{Service: service, Method: method, Args: args},
	})
	if err != nil {
		return nil, invalidErr(op, "encoding request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.creds.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, invalidErr(op, "building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, upstreamErr(op, "timeout after %s", c.cfg.CallTimeout)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, upstreamErr(op, "request cancelled")
		}
		return nil, upstreamErr(op, "request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, upstreamErr(op, "reading response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamErr(op, "http status %d", resp.StatusCode)
	}

	log.Debug().Str("op", op).Dur("duration", time.Since(start)).Int("bytes", len(data)).Msg("erp call")
	return decodeEnvelope(op, data)
}

func domainArg(d Domain) any {
	if d == nil {
		return []any{}
	}
	return d
}

// String describes the client without exposing the secret.
func (c *Client) String() string {
	return fmt.Sprintf("erp.Client(%s)", c.creds)
}
