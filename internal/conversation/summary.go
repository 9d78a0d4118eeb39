package conversation

import (
	"time"

	"github.com/biodoia/operatoros/pkg/models"
	"github.com/google/uuid"
)

// AgentOutput output di un agente nel riepilogo
type AgentOutput struct {
	Role    string `json:"role" yaml:"role"`
	Backend string `json:"backend" yaml:"backend"`
	Output  string `json:"output" yaml:"output"`
}

// Summary riepilogo di una conversazione
type Summary struct {
	ID            uuid.UUID                 `json:"id" yaml:"id"`
	Status        models.ConversationStatus `json:"status" yaml:"status"`
	Outputs       []AgentOutput             `json:"outputs" yaml:"outputs"`
	FinalOutput   string                    `json:"final_output" yaml:"final_output"`
	Steps         int                       `json:"steps" yaml:"steps"`
	TotalSteps    int                       `json:"total_steps" yaml:"total_steps"`
	ErrorCount    int                       `json:"error_count" yaml:"error_count"`
	TotalTokens   int                       `json:"total_tokens" yaml:"total_tokens"`
	EstimatedCost float64                   `json:"estimated_cost" yaml:"estimated_cost"`
	Duration      time.Duration             `json:"duration" yaml:"duration"`
	FailureReason string                    `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
}

// Summarize costruisce il riepilogo da conversazione e storico
func Summarize(conv *models.Conversation, steps []models.StepRecord) *Summary {
	s := &Summary{
		ID:            conv.ID,
		Status:        conv.Status,
		TotalSteps:    conv.StepsTotal(),
		ErrorCount:    conv.ErrorCount,
		TotalTokens:   conv.TotalTokens,
		EstimatedCost: conv.EstimatedCost,
		FailureReason: conv.FailureReason,
	}

	for _, step := range models.SuccessfulSteps(steps) {
		s.Outputs = append(s.Outputs, AgentOutput{
			Role:    step.AgentRole,
			Backend: step.Backend,
			Output:  step.OutputText,
		})
	}
	s.Steps = len(s.Outputs)
	if s.Steps > 0 {
		s.FinalOutput = s.Outputs[s.Steps-1].Output
	}

	end := conv.UpdatedAt
	if conv.CompletedAt != nil {
		end = *conv.CompletedAt
	}
	if !conv.CreatedAt.IsZero() && end.After(conv.CreatedAt) {
		s.Duration = end.Sub(conv.CreatedAt)
	}
	return s
}
