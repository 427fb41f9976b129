package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ziadkadry99/erp-copilot/internal/llm"
	"github.com/ziadkadry99/erp-copilot/internal/tenants"
)

// Loader binds the catalogue to one tenant per request.
type Loader struct {
	registry *Registry
	source   tenants.Source
}

// NewLoader creates a Loader reading tenant configuration from source.
func NewLoader(registry *Registry, source tenants.Source) *Loader {
	return &Loader{registry: registry, source: source}
}

// Registry returns the catalogue the loader filters.
func (l *Loader) Registry() *Registry { return l.registry }

// Load looks up the tenant's active integrations, decrypts the ERP
// credentials if one is configured, and returns the skills whose every
// required integration is available. A tenant with no integrations gets
// an empty toolset, not an error.
func (l *Loader) Load(ctx context.Context, tenantID, callerID string) (*Toolset, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	integrations, err := l.source.Integrations(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading integrations for %s: %w", tenantID, err)
	}

	sc := &Context{TenantID: tenantID, CallerID: callerID}
	for _, in := range integrations {
		if !in.Active {
			continue
		}
		switch in.Kind {
		case tenants.KindERP:
			creds, err := l.source.Credentials(ctx, tenantID)
			if err != nil {
				return nil, fmt.Errorf("loading ERP credentials for %s: %w", tenantID, err)
			}
			sc.ERP = &creds
		case tenants.KindDocuments:
			sc.Documents = &DocumentScope{Scope: tenantID}
		}
	}

	ts := &Toolset{registry: l.registry, ctx: sc}
	for _, s := range l.registry.All() {
		if enabled(s, sc) {
			ts.skills = append(ts.skills, s)
		}
	}
	log.Debug().Str("tenant", tenantID).Int("skills", len(ts.skills)).Msg("toolset loaded")
	return ts, nil
}

func enabled(s Skill, sc *Context) bool {
	for _, in := range s.Requires {
		if !sc.Has(in) {
			return false
		}
	}
	return true
}

// Toolset is the catalogue filtered and bound to one tenant and caller.
// It lives for one request.
type Toolset struct {
	registry *Registry
	ctx      *Context
	skills   []Skill
}

// NewToolset binds skills to sc directly, bypassing tenant lookup.
func NewToolset(registry *Registry, sc *Context) *Toolset {
	ts := &Toolset{registry: registry, ctx: sc}
	for _, s := range registry.All() {
		if enabled(s, sc) {
			ts.skills = append(ts.skills, s)
		}
	}
	return ts
}

// TenantID returns the tenant the toolset is bound to.
func (t *Toolset) TenantID() string { return t.ctx.TenantID }

// Skills returns the enabled skills.
func (t *Toolset) Skills() []Skill { return t.skills }

// Names returns the enabled skill names.
func (t *Toolset) Names() []string {
	out := make([]string, len(t.skills))
	for i, s := range t.skills {
		out[i] = s.Name
	}
	return out
}

// Specs returns the enabled skills as model tools.
func (t *Toolset) Specs() []llm.ToolSpec { return ToLLMTools(t.skills) }

// Execute runs the named skill with raw JSON arguments. A catalogued
// skill the tenant has not enabled fails with an auth error; an unknown
// name fails with a validation error.
func (t *Toolset) Execute(ctx context.Context, name string, raw json.RawMessage) *Result {
	for _, s := range t.skills {
		if s.Name == name {
			return Execute(ctx, s, t.ctx.clone(), raw)
		}
	}
	if _, err := t.registry.Get(name); err != nil {
		return &Result{Skill: name, State: StateRejected, Error: newError(KindValidation, "%v", err)}
	}
	return &Result{Skill: name, State: StateRejected,
		Error: newError(KindAuth, "%s is not enabled for this tenant: a required integration is missing or inactive", name)}
}

// clone gives each call its own Context so a skill body cannot leak state
// into the next call.
func (c *Context) clone() *Context {
	out := &Context{TenantID: c.TenantID, CallerID: c.CallerID}
	if c.ERP != nil {
		creds := *c.ERP
		out.ERP = &creds
	}
	if c.Documents != nil {
		d := *c.Documents
		out.Documents = &d
	}
	return out
}
