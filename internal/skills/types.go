// Package skills exposes a closed catalogue of business questions as typed
// tools. Each skill declares its inputs and the tenant integrations it
// needs; a Loader binds the catalogue to one tenant per request.
package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ziadkadry99/erp-copilot/internal/erp"
)

// Integration names a tenant-level connection a skill depends on.
type Integration string

const (
	IntegrationERP       Integration = "erp"
	IntegrationDocuments Integration = "documents"
)

// Kind classifies a failed skill call.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindUpstream   Kind = "upstream"
	KindExecution  Kind = "execution"
)

// ErrSkillNotFound is returned when a name is not in the catalogue.
var ErrSkillNotFound = errors.New("skill not found")

// RunFunc is a skill body. Args have already been validated against the
// skill's schema.
type RunFunc func(ctx context.Context, sc *Context, args Args) (any, error)

// Skill is one catalogued business question. Skills are stateless and
// shared by every tenant; all per-call state lives in Context.
type Skill struct {
	Name        string
	Description string
	Tags        []string
	Requires    []Integration
	Schema      InputSchema
	Run         RunFunc
}

// DocumentScope selects the slice of the document index a tenant may read.
type DocumentScope struct {
	Scope string
}

// Context binds one call to exactly one tenant and caller. It is built
// fresh by the Loader for every request and must not be cached.
type Context struct {
	TenantID  string
	CallerID  string
	ERP       *erp.Credentials
	Documents *DocumentScope
}

// Has reports whether the context carries credentials for in.
func (c *Context) Has(in Integration) bool {
	if c == nil {
		return false
	}
	switch in {
	case IntegrationERP:
		return c.ERP != nil
	case IntegrationDocuments:
		return c.Documents != nil && c.Documents.Scope != ""
	}
	return false
}

// Error is the typed failure carried by a Result.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Result is the envelope returned to the model for every call.
type Result struct {
	OK    bool   `json:"ok"`
	Skill string `json:"skill"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`

	State State `json:"-"`
}

// JSON renders the envelope as a tool message body.
func (r *Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(&Result{Skill: r.Skill, Error: newError(KindExecution, "result is not serialisable: %v", err)})
	}
	return string(b)
}

// Summary is a skill's catalogue entry as shown to admin screens.
type Summary struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Tags        []string        `json:"tags"`
	Requires    []Integration   `json:"requires"`
	Schema      json.RawMessage `json:"input_schema"`
}

// Summarize returns s's catalogue entry.
func (s Skill) Summarize() Summary {
	return Summary{
		Name:        s.Name,
		Description: s.Description,
		Tags:        s.Tags,
		Requires:    s.Requires,
		Schema:      s.Schema.JSONSchema(),
	}
}
