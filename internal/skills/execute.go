package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ziadkadry99/erp-copilot/internal/docsearch"
	"github.com/ziadkadry99/erp-copilot/internal/erp"
	"github.com/ziadkadry99/erp-copilot/internal/query"
)

// State is a step of one skill call.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateRejected   State = "rejected"
	StateExecuting  State = "executing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

var tracer = otel.Tracer("github.com/ziadkadry99/erp-copilot/internal/skills")

// call tracks one execution through its states.
type call struct {
	skill  string
	tenant string
	state  State
	start  time.Time
}

func (c *call) to(s State) {
	log.Debug().Str("skill", c.skill).Str("tenant", c.tenant).
		Str("from", string(c.state)).Str("to", string(s)).Msg("skill state")
	c.state = s
}

// Execute runs s for sc with raw JSON arguments. It never returns an error
// and never panics: every failure is converted into a typed Result.
//
// Credentials for every integration s requires are checked before the
// body runs, so a call without them never reaches the ERP.
func Execute(ctx context.Context, s Skill, sc *Context, raw json.RawMessage) (res *Result) {
	c := &call{skill: s.Name, state: StatePending, start: time.Now()}
	if sc != nil {
		c.tenant = sc.TenantID
	}

	ctx, span := tracer.Start(ctx, "skill."+s.Name)
	span.SetAttributes(attribute.String("skill", s.Name), attribute.String("tenant", c.tenant))
	defer func() {
		if res.Error != nil {
			span.SetStatus(codes.Error, string(res.Error.Kind))
			span.SetAttributes(attribute.String("error.kind", string(res.Error.Kind)))
		}
		span.End()
		log.Debug().Str("skill", s.Name).Str("tenant", c.tenant).Str("state", string(res.State)).
			Dur("duration", time.Since(c.start)).Msg("skill finished")
	}()

	fail := func(state State, e *Error) *Result {
		c.to(state)
		return &Result{Skill: s.Name, Error: e, State: state}
	}

	c.to(StateValidating)
	for _, in := range s.Requires {
		if !sc.Has(in) {
			return fail(StateRejected, newError(KindAuth, "the %s integration is not configured for this tenant", in))
		}
	}
	args, err := s.Schema.Decode(raw)
	if err != nil {
		return fail(StateRejected, classify(err))
	}

	c.to(StateExecuting)
	data, err := run(ctx, s, sc, args)
	if err != nil {
		e := classify(err)
		if e.Kind == KindValidation {
			return fail(StateRejected, e)
		}
		return fail(StateFailed, e)
	}
	c.to(StateSucceeded)
	return &Result{OK: true, Skill: s.Name, Data: data, State: StateSucceeded}
}

func run(ctx context.Context, s Skill, sc *Context, args Args) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("skill", s.Name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("skill panicked")
			err = newError(KindExecution, "internal error in %s", s.Name)
		}
	}()
	if s.Run == nil {
		return nil, newError(KindExecution, "%s has no implementation", s.Name)
	}
	return s.Run(ctx, sc, args)
}

// classify maps an error from any layer below to a typed skill error.
func classify(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, erp.ErrAuth):
		return &Error{Kind: KindAuth, Message: err.Error()}
	case errors.Is(err, query.ErrValidation), errors.Is(err, erp.ErrInvalidRequest),
		errors.Is(err, docsearch.ErrEmptyQuery):
		return &Error{Kind: KindValidation, Message: err.Error()}
	case errors.Is(err, erp.ErrUpstream), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindUpstream, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindUpstream, Message: "request cancelled"}
	}
	return &Error{Kind: KindExecution, Message: fmt.Sprint(err)}
}
