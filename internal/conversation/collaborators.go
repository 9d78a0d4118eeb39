package conversation

import (
	"context"

	"github.com/biodoia/operatoros/internal/executor"
	"github.com/biodoia/operatoros/internal/notifications"
	"github.com/biodoia/operatoros/pkg/database"
	"github.com/biodoia/operatoros/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store è il persistence gateway usato dal manager.
// AppendStep deve inserire il record e aggiornare la conversazione atomicamente;
// gli update falliscono con database.ErrVersionConflict se la versione è cambiata.
type Store interface {
	InsertConversation(ctx context.Context, conv *models.Conversation) error
	UpdateConversation(ctx context.Context, conv *models.Conversation) error
	AppendStep(ctx context.Context, conv *models.Conversation, step *models.StepRecord) error
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListSteps(ctx context.Context, id uuid.UUID) ([]models.StepRecord, error)
	ListConversations(ctx context.Context, filter database.ListFilter) ([]models.Conversation, error)
}

// StepRunner esegue un singolo turno di agente
type StepRunner interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Outcome, error)
}

// Notifier riceve gli eventi di ciclo di vita. Gli errori vengono solo loggati.
type Notifier interface {
	Notify(ctx context.Context, event notifications.Event) error
}

// Packager riceve le conversazioni completate per riferimento
type Packager interface {
	Package(ctx context.Context, id uuid.UUID) error
}

// Locker garantisce un solo writer per conversazione.
// TryLock non blocca: ok=false se il lock è già preso.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// LogPackager packager di default: registra la conversazione pronta
type LogPackager struct{}

// Package implementa Packager
func (LogPackager) Package(ctx context.Context, id uuid.UUID) error {
	log.Info().
		Str("conversation_id", id.String()).
		Msg("Conversation ready for packaging")
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notifications.Event) error { return nil }
