package agents

import (
	"fmt"

	"github.com/biodoia/operatoros/internal/providers"
)

// DefaultContextWindow numero di turni precedenti inclusi nel prompt
const DefaultContextWindow = 3

// Turn output di un agente precedente da riportare come contesto
type Turn struct {
	Role   Role
	Output string
}

// PromptInput dati necessari a comporre i messaggi di un turno
type PromptInput struct {
	Role    Role
	Input   string
	History []Turn
	Final   bool
	Marker  string
	Window  int
}

// HandoffInstruction istruzione aggiunta al prompt degli agenti non finali
func HandoffInstruction(marker string) string {
	return fmt.Sprintf("**IMPORTANT: You must end your response with exactly this format:**\n%s [question/task for the next agent]", marker)
}

// BuildMessages compone il prompt di sistema, il contesto recente e l'input
func BuildMessages(in PromptInput) []providers.Message {
	marker := in.Marker
	if marker == "" {
		marker = DefaultHandoffMarker
	}
	window := in.Window
	if window < 0 {
		window = 0
	}

	system := ProfileFor(in.Role).SystemPrompt()
	if !in.Final {
		system += "\n\n" + HandoffInstruction(marker)
	}

	history := in.History
	if len(history) > window {
		history = history[len(history)-window:]
	}

	messages := make([]providers.Message, 0, len(history)+2)
	messages = append(messages, providers.Message{Role: providers.RoleSystem, Content: system})
	for _, t := range history {
		messages = append(messages, providers.Message{
			Role:    providers.RoleUser,
			Content: fmt.Sprintf("Previous context from %s: %s", t.Role, t.Output),
		})
	}
	messages = append(messages, providers.Message{Role: providers.RoleUser, Content: in.Input})

	return messages
}
