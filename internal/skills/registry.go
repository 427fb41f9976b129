package skills

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ziadkadry99/erp-copilot/internal/docsearch"
	"github.com/ziadkadry99/erp-copilot/internal/erp"
	"github.com/ziadkadry99/erp-copilot/internal/query"
)

// Registry is the closed catalogue. It is populated once at construction
// and is read-only afterwards.
type Registry struct {
	skills map[string]Skill
	names  []string
}

func newRegistry(list ...Skill) (*Registry, error) {
	r := &Registry{skills: make(map[string]Skill, len(list))}
	for _, s := range list {
		if s.Name == "" {
			return nil, fmt.Errorf("skill without a name")
		}
		if _, dup := r.skills[s.Name]; dup {
			return nil, fmt.Errorf("duplicate skill %q", s.Name)
		}
		r.skills[s.Name] = s
		r.names = append(r.names, s.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the named skill.
func (r *Registry) Get(name string) (Skill, error) {
	s, ok := r.skills[name]
	if !ok {
		return Skill{}, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	return s, nil
}

// Names returns every skill name in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns every skill sorted by name.
func (r *Registry) All() []Skill {
	out := make([]Skill, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.skills[n])
	}
	return out
}

// Summaries returns the catalogue for display.
func (r *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(r.names))
	for _, s := range r.All() {
		out = append(out, s.Summarize())
	}
	return out
}

// Deps are the shared collaborators of the catalogue. None of them holds
// tenant state: ERP clients are built per call from the call's credentials.
type Deps struct {
	ERP          *erp.Factory
	Documents    docsearch.Searcher
	Location     *time.Location
	Now          func() time.Time
	DefaultLimit int
}

// NewCatalog builds the full catalogue.
func NewCatalog(deps Deps) (*Registry, error) {
	if deps.ERP == nil {
		deps.ERP = erp.NewFactory(erp.DefaultConfig(), nil, http.DefaultClient)
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	b := &builder{deps: deps}
	return newRegistry(
		b.salesSummary(),
		b.salesBreakdown(),
		b.purchasesSummary(),
		b.invoicingSummary(),
		b.topProducts(),
		b.receivables(),
		b.partnerLookup(),
		b.searchDocuments(),
	)
}

// builder holds the dependencies the skill bodies close over.
type builder struct {
	deps Deps
}

// engine returns a query engine bound to the call's own credentials.
func (b *builder) engine(sc *Context) (*query.Engine, error) {
	if sc == nil || sc.ERP == nil {
		return nil, newError(KindAuth, "no ERP credentials for this call")
	}
	opts := []query.Option{query.WithLocation(b.deps.Location), query.WithClock(b.deps.Now)}
	if b.deps.DefaultLimit > 0 {
		opts = append(opts, query.WithDefaultLimit(b.deps.DefaultLimit))
	}
	return query.New(b.deps.ERP.Client(*sc.ERP), opts...), nil
}
