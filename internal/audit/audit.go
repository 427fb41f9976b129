// Package audit records what the assistant did on behalf of each tenant:
// which skills ran, with what outcome, and how each drafted answer was
// judged before it was sent.
package audit

import "time"

// ActorType identifies who performed an action.
type ActorType string

const (
	ActorUser      ActorType = "user"
	ActorSystem    ActorType = "system"
	ActorAssistant ActorType = "assistant"
)

// Action describes what was done.
type Action string

const (
	ActionQuestionAsked      Action = "question_asked"
	ActionSkillInvoked       Action = "skill_invoked"
	ActionAnswerValidated    Action = "answer_validated"
	ActionAnswerRegenerated  Action = "answer_regenerated"
	ActionIntegrationChanged Action = "integration_changed"
)

// Entry is a single audit trail record. Detail never holds credentials.
type Entry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	TenantID       string    `json:"tenant_id"`
	ActorType      ActorType `json:"actor_type"`
	ActorID        string    `json:"actor_id"`
	Action         Action    `json:"action"`
	Target         string    `json:"target,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	ConversationID string    `json:"conversation_id,omitempty"`
}
