package skills

import (
	"context"

	"github.com/ziadkadry99/erp-copilot/internal/docsearch"
)

// DocumentHits is the output of search_documents.
type DocumentHits struct {
	Query    string              `json:"query"`
	Passages []docsearch.Passage `json:"passages"`
}

func (b *builder) searchDocuments() Skill {
	return Skill{
		Name: "search_documents",
		Description: "Search the company's own documents (policies, contracts, manuals) and return the most " +
			"relevant passages with their source. Use it for questions the ERP data cannot answer.",
		Tags:     []string{"documents", "search"},
		Requires: []Integration{IntegrationDocuments},
		Schema: InputSchema{
			Properties: map[string]Property{
				"query": {Type: TypeString, Description: "What to look for, in the user's words."},
				"limit": {Type: TypeInteger, Description: "Maximum number of passages.", Minimum: Bound(1), Maximum: Bound(20), Default: 5},
			},
			Required: []string{"query"},
		},
		Run: func(ctx context.Context, sc *Context, args Args) (any, error) {
			if b.deps.Documents == nil {
				return nil, newError(KindUpstream, "document search is not available")
			}
			if !sc.Has(IntegrationDocuments) {
				return nil, newError(KindAuth, "no document scope for this call")
			}
			q := args.String("query")
			passages, err := b.deps.Documents.Search(ctx, q, sc.Documents.Scope, args.Int("limit", 5))
			if err != nil {
				return nil, err
			}
			if passages == nil {
				passages = []docsearch.Passage{}
			}
			return &DocumentHits{Query: q, Passages: passages}, nil
		},
	}
}
