// Package assistant answers business questions for one tenant at a time.
// A turn loads the tenant's toolset, lets the model call skills, checks
// the drafted prose against the tool results and, when the check fails,
// asks the model for one corrected draft before anything reaches the user.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/erp-copilot/internal/audit"
	"github.com/ziadkadry99/erp-copilot/internal/llm"
	"github.com/ziadkadry99/erp-copilot/internal/skills"
	"github.com/ziadkadry99/erp-copilot/internal/validator"
)

// ErrEmptyQuestion is returned when the question is blank.
var ErrEmptyQuestion = errors.New("question is empty")

// fallbackAnswer replaces a draft that failed validation twice.
const fallbackAnswer = "I could not produce an answer I can back with your data. " +
	"Try narrowing the question, for example to a specific period or customer."

// Config tunes a turn.
type Config struct {
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxToolRounds int
	// HistoryLimit is how many earlier messages of a session are replayed.
	HistoryLimit int
	// ToolConcurrency caps parallel skill calls within one round.
	ToolConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = 4
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.ToolConcurrency <= 0 {
		c.ToolConcurrency = 4
	}
	return c
}

// Request is one question from one caller.
type Request struct {
	TenantID  string `json:"tenant_id"`
	CallerID  string `json:"caller_id"`
	SessionID string `json:"session_id,omitempty"`
	Question  string `json:"question"`
}

// SkillCall records one tool invocation made while answering.
type SkillCall struct {
	Skill      string       `json:"skill"`
	OK         bool         `json:"ok"`
	State      skills.State `json:"state"`
	ErrorKind  skills.Kind  `json:"error_kind,omitempty"`
	DurationMS int64        `json:"duration_ms"`
}

// Answer is what the user receives.
type Answer struct {
	SessionID   string                      `json:"session_id,omitempty"`
	Text        string                      `json:"text"`
	Validation  validator.PreSendValidation `json:"validation"`
	Regenerated bool                        `json:"regenerated"`
	Calls       []SkillCall                 `json:"calls"`
	Rounds      int                         `json:"rounds"`
	Usage       llm.Usage                   `json:"usage"`
}

// SkillsUsed returns the distinct skills called, in call order.
func (a *Answer) SkillsUsed() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range a.Calls {
		if !seen[c.Skill] {
			seen[c.Skill] = true
			out = append(out, c.Skill)
		}
	}
	return out
}

// Assistant runs question turns.
type Assistant struct {
	provider llm.Provider
	loader   *skills.Loader
	cfg      Config
	sessions *Store
	audit    *audit.Store
	now      func() time.Time
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithSessions persists conversation history so follow-up questions keep
// their context.
func WithSessions(s *Store) Option { return func(a *Assistant) { a.sessions = s } }

// WithAudit records skill calls and verdicts.
func WithAudit(s *audit.Store) Option { return func(a *Assistant) { a.audit = s } }

// WithClock overrides the clock used for the date in the system prompt.
func WithClock(now func() time.Time) Option { return func(a *Assistant) { a.now = now } }

// New creates an Assistant.
func New(provider llm.Provider, loader *skills.Loader, cfg Config, opts ...Option) *Assistant {
	a := &Assistant{
		provider: provider,
		loader:   loader,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ask answers one question.
func (a *Assistant) Ask(ctx context.Context, req Request) (*Answer, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return nil, ErrEmptyQuestion
	}
	start := time.Now()

	toolset, err := a.loader.Load(ctx, req.TenantID, req.CallerID)
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: a.systemPrompt(toolset)}}

	ans := &Answer{Calls: []SkillCall{}}
	if a.sessions != nil {
		sess, history, err := a.session(ctx, req)
		if err != nil {
			return nil, err
		}
		ans.SessionID = sess.ID
		messages = append(messages, history...)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Question})

	a.record(ctx, audit.Entry{
		TenantID:       toolset.TenantID(),
		ActorType:      audit.ActorUser,
		ActorID:        req.CallerID,
		Action:         audit.ActionQuestionAsked,
		Summary:        truncate(req.Question, 200),
		ConversationID: ans.SessionID,
	})

	draft, toolData, messages, err := a.converse(ctx, req, toolset, messages, ans)
	if err != nil {
		return nil, err
	}

	verdict := validator.Validate(draft, toolData...)
	a.recordVerdict(ctx, req, toolset, ans, audit.ActionAnswerValidated, verdict)

	if verdict.Action == validator.Regenerate {
		ans.Regenerated = true
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: draft},
			llm.Message{Role: llm.RoleUser, Content: validator.CorrectionPrompt(verdict)},
		)
		resp, err := a.complete(ctx, messages, toolset.Specs(), llm.ToolChoiceNone)
		if err != nil {
			return nil, err
		}
		ans.Usage.Add(resp)

		draft = strings.TrimSpace(resp.Content)
		verdict = validator.Validate(draft, toolData...)
		a.recordVerdict(ctx, req, toolset, ans, audit.ActionAnswerRegenerated, verdict)
		if verdict.Action == validator.Regenerate || draft == "" {
			draft = fallbackAnswer
		}
	}
	if draft == "" {
		draft = fallbackAnswer
	}

	ans.Text = draft
	ans.Validation = verdict

	if a.sessions != nil {
		a.persist(ctx, req, ans)
	}

	log.Info().
		Str("tenant", toolset.TenantID()).
		Int("rounds", ans.Rounds).
		Int("calls", len(ans.Calls)).
		Str("verdict", string(verdict.Action)).
		Int("confidence", verdict.Confidence).
		Bool("regenerated", ans.Regenerated).
		Int("input_tokens", ans.Usage.InputTokens).
		Int("output_tokens", ans.Usage.OutputTokens).
		Float64("cost_usd", ans.Usage.CostUSD).
		Dur("duration", time.Since(start)).
		Msg("question answered")

	return ans, nil
}

// converse runs the tool loop until the model answers in prose or the
// round budget is spent. It returns the draft, the raw tool results, and
// the message list as it stands.
func (a *Assistant) converse(ctx context.Context, req Request, toolset *skills.Toolset, messages []llm.Message, ans *Answer) (string, []any, []llm.Message, error) {
	var toolData []any
	specs := toolset.Specs()

	for round := 0; ; round++ {
		choice := llm.ToolChoiceAuto
		final := round >= a.cfg.MaxToolRounds
		if final {
			// Out of budget: force a prose answer from what is already known.
			choice = llm.ToolChoiceNone
		}

		resp, err := a.complete(ctx, messages, specs, choice)
		if err != nil {
			return "", nil, nil, err
		}
		ans.Usage.Add(resp)

		if len(resp.ToolCalls) == 0 || final {
			return strings.TrimSpace(resp.Content), toolData, messages, nil
		}
		ans.Rounds++

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results, calls := a.runTools(ctx, req, toolset, resp.ToolCalls, ans.SessionID)
		ans.Calls = append(ans.Calls, calls...)
		for i, tc := range resp.ToolCalls {
			body := results[i].JSON()
			toolData = append(toolData, body)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    body,
				ToolCallID: tc.ID,
			})
		}
	}
}

// runTools executes one round's tool calls concurrently. Results keep the
// order of calls.
func (a *Assistant) runTools(ctx context.Context, req Request, toolset *skills.Toolset, calls []llm.ToolCall, sessionID string) ([]*skills.Result, []SkillCall) {
	results := make([]*skills.Result, len(calls))
	records := make([]SkillCall, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.ToolConcurrency)
	for i, tc := range calls {
		g.Go(func() error {
			started := time.Now()
			res := toolset.Execute(gctx, tc.Name, tc.Arguments)
			elapsed := time.Since(started)

			rec := SkillCall{Skill: tc.Name, OK: res.OK, State: res.State, DurationMS: elapsed.Milliseconds()}
			outcome := string(res.State)
			summary := tc.Name + " " + outcome
			if res.Error != nil {
				rec.ErrorKind = res.Error.Kind
				summary = fmt.Sprintf("%s %s: %s", tc.Name, res.Error.Kind, res.Error.Message)
			}
			results[i] = res
			records[i] = rec

			a.record(gctx, audit.Entry{
				TenantID:       toolset.TenantID(),
				ActorType:      audit.ActorAssistant,
				ActorID:        req.CallerID,
				Action:         audit.ActionSkillInvoked,
				Target:         tc.Name,
				Outcome:        outcome,
				Summary:        truncate(summary, 300),
				Detail:         string(tc.Arguments),
				DurationMS:     elapsed.Milliseconds(),
				ConversationID: sessionID,
			})
			return nil
		})
	}
	g.Wait()
	return results, records
}

func (a *Assistant) complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec, choice llm.ToolChoice) (*llm.CompletionResponse, error) {
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		Tools:       tools,
		ToolChoice:  choice,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM completion: %w", err)
	}
	return resp, nil
}

// session resolves or creates the request's session and returns its
// recent history as model messages.
func (a *Assistant) session(ctx context.Context, req Request) (*Session, []llm.Message, error) {
	if req.SessionID == "" {
		sess, err := a.sessions.CreateSession(ctx, req.TenantID, req.CallerID)
		return sess, nil, err
	}
	sess, err := a.sessions.GetSession(ctx, req.TenantID, req.SessionID)
	if err != nil {
		return nil, nil, err
	}
	stored, err := a.sessions.Messages(ctx, sess.ID, a.cfg.HistoryLimit)
	if err != nil {
		return nil, nil, err
	}
	history := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		role := llm.Role(m.Role)
		if role != llm.RoleUser && role != llm.RoleAssistant {
			continue
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}
	return sess, history, nil
}

type answerMetadata struct {
	Action      validator.Action `json:"action"`
	Confidence  int              `json:"confidence"`
	Regenerated bool             `json:"regenerated"`
	Skills      []string         `json:"skills"`
}

func (a *Assistant) persist(ctx context.Context, req Request, ans *Answer) {
	if _, err := a.sessions.AddMessage(ctx, Message{SessionID: ans.SessionID, Role: string(llm.RoleUser), Content: req.Question}); err != nil {
		log.Warn().Err(err).Str("session", ans.SessionID).Msg("storing question")
		return
	}
	meta, _ := json.Marshal(answerMetadata{
		Action:      ans.Validation.Action,
		Confidence:  ans.Validation.Confidence,
		Regenerated: ans.Regenerated,
		Skills:      ans.SkillsUsed(),
	})
	if _, err := a.sessions.AddMessage(ctx, Message{SessionID: ans.SessionID, Role: string(llm.RoleAssistant), Content: ans.Text, Metadata: string(meta)}); err != nil {
		log.Warn().Err(err).Str("session", ans.SessionID).Msg("storing answer")
	}
}

func (a *Assistant) recordVerdict(ctx context.Context, req Request, toolset *skills.Toolset, ans *Answer, action audit.Action, v validator.PreSendValidation) {
	detail, _ := json.Marshal(v.Issues)
	a.record(ctx, audit.Entry{
		TenantID:       toolset.TenantID(),
		ActorType:      audit.ActorAssistant,
		ActorID:        req.CallerID,
		Action:         action,
		Target:         string(v.Action),
		Outcome:        fmt.Sprintf("confidence %d", v.Confidence),
		Summary:        fmt.Sprintf("%d issue(s)", len(v.Issues)),
		Detail:         string(detail),
		ConversationID: ans.SessionID,
	})
}

// record writes an audit entry. Audit failures never fail a turn.
func (a *Assistant) record(ctx context.Context, e audit.Entry) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, e); err != nil {
		log.Warn().Err(err).Str("action", string(e.Action)).Msg("writing audit entry")
	}
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
