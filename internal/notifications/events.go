package notifications

import (
	"time"

	"github.com/biodoia/operatoros/pkg/models"
	"github.com/google/uuid"
)

// EventType rappresenta il tipo di evento
type EventType string

const (
	EventConversationStarted   EventType = "conversation.started"
	EventConversationCompleted EventType = "conversation.completed"
	EventConversationFailed    EventType = "conversation.failed"
	EventBackendExcluded       EventType = "backend.excluded"
	EventBackendRestored       EventType = "backend.restored"
)

// Severity rappresenta la severità dell'evento
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

var severityRank = map[Severity]int{
	SeverityInfo:    0,
	SeverityWarning: 1,
	SeverityError:   2,
}

// AtLeast indica se s è almeno grave quanto min
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Event rappresenta un evento del sistema
type Event interface {
	Type() EventType
	Severity() Severity
	Message() string
	Metadata() map[string]interface{}
	Timestamp() time.Time
}

// BaseEvent implementazione base di Event
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
	Sev       Severity
	Msg       string
	Meta      map[string]interface{}
}

func (e *BaseEvent) Type() EventType {
	return e.EventType
}

func (e *BaseEvent) Severity() Severity {
	return e.Sev
}

func (e *BaseEvent) Message() string {
	return e.Msg
}

func (e *BaseEvent) Metadata() map[string]interface{} {
	return e.Meta
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// ConversationEvent evento di ciclo di vita di una conversazione
type ConversationEvent struct {
	BaseEvent
	ConversationID uuid.UUID
	SessionRef     string
	Status         models.ConversationStatus
	Steps          int
	TotalSteps     int
	ErrorCount     int
	TotalTokens    int
	Cost           float64
	Duration       time.Duration
	Reason         string
}

var conversationMessages = map[EventType]struct {
	sev Severity
	msg string
}{
	EventConversationStarted:   {SeverityInfo, "Conversation started"},
	EventConversationCompleted: {SeverityInfo, "Conversation completed"},
	EventConversationFailed:    {SeverityError, "Conversation failed"},
}

// NewConversationEvent crea un evento dallo stato corrente della conversazione
func NewConversationEvent(t EventType, conv *models.Conversation) *ConversationEvent {
	now := time.Now()
	end := now
	if conv.CompletedAt != nil {
		end = *conv.CompletedAt
	}
	var duration time.Duration
	if !conv.CreatedAt.IsZero() {
		duration = max(end.Sub(conv.CreatedAt), 0)
	}

	desc, ok := conversationMessages[t]
	if !ok {
		desc.sev, desc.msg = SeverityInfo, string(t)
	}

	return &ConversationEvent{
		BaseEvent: BaseEvent{
			EventType: t,
			EventTime: now,
			Sev:       desc.sev,
			Msg:       desc.msg,
			Meta: map[string]interface{}{
				"conversation_id": conv.ID.String(),
				"session_ref":     conv.SessionRef,
				"status":          string(conv.Status),
				"steps":           conv.CurrentStep,
				"total_steps":     conv.StepsTotal(),
				"error_count":     conv.ErrorCount,
				"total_tokens":    conv.TotalTokens,
				"estimated_cost":  conv.EstimatedCost,
				"duration_ms":     duration.Milliseconds(),
				"failure_reason":  conv.FailureReason,
			},
		},
		ConversationID: conv.ID,
		SessionRef:     conv.SessionRef,
		Status:         conv.Status,
		Steps:          conv.CurrentStep,
		TotalSteps:     conv.StepsTotal(),
		ErrorCount:     conv.ErrorCount,
		TotalTokens:    conv.TotalTokens,
		Cost:           conv.EstimatedCost,
		Duration:       duration,
		Reason:         conv.FailureReason,
	}
}

// BackendEvent variazione del live set
type BackendEvent struct {
	BaseEvent
	Backend string
	Live    bool
}

// NewBackendEvent crea l'evento di esclusione o ripristino di un backend
func NewBackendEvent(backend string, live bool) *BackendEvent {
	t, sev, msg := EventBackendExcluded, SeverityWarning, "Backend excluded from live set"
	if live {
		t, sev, msg = EventBackendRestored, SeverityInfo, "Backend restored to live set"
	}
	return &BackendEvent{
		BaseEvent: BaseEvent{
			EventType: t,
			EventTime: time.Now(),
			Sev:       sev,
			Msg:       msg,
			Meta: map[string]interface{}{
				"backend": backend,
				"live":    live,
			},
		},
		Backend: backend,
		Live:    live,
	}
}
