package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversationStatus rappresenta lo stato della macchina a stati
type ConversationStatus string

const (
	StatusNotStarted ConversationStatus = "not_started"
	StatusRunning    ConversationStatus = "running"
	StatusCompleted  ConversationStatus = "completed"
	StatusFailed     ConversationStatus = "failed"
)

// IsTerminal indica se lo stato non ammette ulteriori avanzamenti
func (s ConversationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Conversation rappresenta una conversazione multi-agente
type Conversation struct {
	ID           uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	SessionRef   string             `gorm:"index" json:"session_ref,omitempty"`
	InitialInput string             `gorm:"type:text;not null" json:"initial_input"`
	Agents       datatypes.JSON     `json:"agents"`
	CurrentStep  int                `gorm:"not null;default:0" json:"current_step"`
	Status       ConversationStatus `gorm:"index;not null" json:"status"`
	IsComplete   bool               `gorm:"not null;default:false" json:"is_complete"`

	// Contatori cumulativi
	TotalTokens   int     `json:"total_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
	ErrorCount    int     `json:"error_count"`

	FailureReason string `gorm:"type:text" json:"failure_reason,omitempty"`

	// Version è il contatore di concorrenza ottimistica
	Version int `gorm:"not null;default:0" json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName specifica il nome della tabella
func (Conversation) TableName() string {
	return "conversations"
}

// BeforeCreate hook GORM per generare UUID
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// AgentList decodifica la lista ordinata di ruoli
func (c *Conversation) AgentList() []string {
	if len(c.Agents) == 0 {
		return nil
	}
	var agents []string
	if err := json.Unmarshal(c.Agents, &agents); err != nil {
		return nil
	}
	return agents
}

// SetAgents codifica la lista di ruoli
func (c *Conversation) SetAgents(agents []string) error {
	data, err := json.Marshal(agents)
	if err != nil {
		return err
	}
	c.Agents = datatypes.JSON(data)
	return nil
}

// StepsTotal numero di agenti della pipeline
func (c *Conversation) StepsTotal() int {
	return len(c.AgentList())
}

// Clone restituisce una copia indipendente
func (c *Conversation) Clone() *Conversation {
	cp := *c
	if c.Agents != nil {
		cp.Agents = append(datatypes.JSON(nil), c.Agents...)
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
