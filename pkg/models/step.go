package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StepRecord è la voce immutabile del log di una conversazione
type StepRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_step_sequence,priority:1" json:"conversation_id"`
	Sequence       int       `gorm:"not null;uniqueIndex:idx_step_sequence,priority:2" json:"sequence"`
	StepIndex      int       `gorm:"not null" json:"step_index"`
	AgentRole      string    `gorm:"not null" json:"agent_role"`

	InputText   string  `gorm:"type:text" json:"input_text"`
	OutputText  string  `gorm:"type:text" json:"output_text"`
	HandoffText *string `gorm:"type:text" json:"handoff_text,omitempty"`

	Backend    string `json:"backend,omitempty"`
	Model      string `json:"model,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"duration_ms"`

	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCost    float64 `json:"estimated_cost"`

	IsError     bool    `gorm:"not null;default:false;index" json:"is_error"`
	ErrorDetail *string `gorm:"type:text" json:"error_detail,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName specifica il nome della tabella
func (StepRecord) TableName() string {
	return "step_records"
}

// BeforeCreate hook GORM per generare UUID
func (s *StepRecord) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Duration durata dello step
func (s *StepRecord) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// Clone restituisce una copia indipendente
func (s *StepRecord) Clone() StepRecord {
	cp := *s
	if s.HandoffText != nil {
		h := *s.HandoffText
		cp.HandoffText = &h
	}
	if s.ErrorDetail != nil {
		d := *s.ErrorDetail
		cp.ErrorDetail = &d
	}
	return cp
}

// SuccessfulSteps filtra i record senza errore mantenendo l'ordine
func SuccessfulSteps(steps []StepRecord) []StepRecord {
	out := make([]StepRecord, 0, len(steps))
	for _, s := range steps {
		if !s.IsError {
			out = append(out, s)
		}
	}
	return out
}
