package conversation

import (
	"errors"

	"github.com/biodoia/operatoros/pkg/database"
)

var (
	// ErrValidation input o lista di agenti non validi, mai ritentato
	ErrValidation = errors.New("validation failed")

	// ErrNotFound coincide con l'errore dello store così che errors.Is funzioni su entrambi
	ErrNotFound = database.ErrNotFound

	ErrAlreadyComplete  = errors.New("conversation already complete")
	ErrAlreadyFailed    = errors.New("conversation already failed")
	ErrConversationBusy = errors.New("conversation is being advanced by another caller")
)
