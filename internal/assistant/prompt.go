package assistant

import (
	"fmt"
	"strings"

	"github.com/ziadkadry99/erp-copilot/internal/skills"
)

const basePrompt = `You are a business assistant for a company that runs its operations on an ERP.
Answer questions about sales, purchases, invoicing, receivables, customers and products.

Rules:
- Get every figure from a tool. Never estimate, extrapolate or invent numbers, names or links.
- Name customers, suppliers and products exactly as the tools return them.
- If a tool returns no data, say there is no data for that request.
- If a tool fails, explain what could not be retrieved instead of guessing.
- Keep answers short: lead with the figure asked for, then the few details that explain it.
- Reply in the language the user writes in.`

func (a *Assistant) systemPrompt(toolset *skills.Toolset) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	fmt.Fprintf(&b, "\n\nToday is %s.", a.now().Format("Monday, 2 January 2006"))

	names := toolset.Names()
	if len(names) == 0 {
		b.WriteString("\nNo data sources are connected for this company. Say so if the user asks for figures.")
		return b.String()
	}
	fmt.Fprintf(&b, "\nAvailable tools: %s.", strings.Join(names, ", "))
	return b.String()
}
