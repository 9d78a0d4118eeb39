package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/biodoia/operatoros/pkg/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListFilter filtri per l'elenco delle conversazioni
type ListFilter struct {
	Status     models.ConversationStatus
	SessionRef string
	Limit      int
}

// InsertConversation persiste una nuova conversazione
func (db *DB) InsertConversation(ctx context.Context, conv *models.Conversation) error {
	if err := db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// UpdateConversation salva lo stato della conversazione se la versione coincide
func (db *DB) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now().UTC()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return saveConversation(tx, conv, now)
	})
	if err != nil {
		return err
	}
	conv.Version++
	conv.UpdatedAt = now
	return nil
}

// AppendStep inserisce il record e aggiorna la conversazione nella stessa transazione
func (db *DB) AppendStep(ctx context.Context, conv *models.Conversation, step *models.StepRecord) error {
	now := time.Now().UTC()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.StepRecord{}).
			Where("conversation_id = ?", conv.ID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("count steps: %w", err)
		}

		step.ConversationID = conv.ID
		step.Sequence = int(count) + 1
		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}

		if err := tx.Create(step).Error; err != nil {
			return fmt.Errorf("insert step: %w", err)
		}

		return saveConversation(tx, conv, now)
	})
	if err != nil {
		return err
	}
	conv.Version++
	conv.UpdatedAt = now
	return nil
}

// GetConversation restituisce una conversazione per ID
func (db *DB) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListSteps restituisce i record di una conversazione in ordine di append
func (db *DB) ListSteps(ctx context.Context, id uuid.UUID) ([]models.StepRecord, error) {
	var steps []models.StepRecord
	err := db.WithContext(ctx).
		Where("conversation_id = ?", id).
		Order("sequence ASC").
		Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	return steps, nil
}

// ListConversations elenca le conversazioni più recenti
func (db *DB) ListConversations(ctx context.Context, filter ListFilter) ([]models.Conversation, error) {
	q := db.WithContext(ctx).Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.SessionRef != "" {
		q = q.Where("session_ref = ?", filter.SessionRef)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var convs []models.Conversation
	if err := q.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// saveConversation aggiornamento condizionato alla versione corrente
func saveConversation(tx *gorm.DB, conv *models.Conversation, now time.Time) error {
	res := tx.Model(&models.Conversation{}).
		Where("id = ? AND version = ?", conv.ID, conv.Version).
		Updates(map[string]interface{}{
			"current_step":   conv.CurrentStep,
			"status":         conv.Status,
			"is_complete":    conv.IsComplete,
			"total_tokens":   conv.TotalTokens,
			"estimated_cost": conv.EstimatedCost,
			"error_count":    conv.ErrorCount,
			"failure_reason": conv.FailureReason,
			"completed_at":   conv.CompletedAt,
			"updated_at":     now,
			"version":        conv.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("update conversation: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var exists int64
	if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).Count(&exists).Error; err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, conv.ID)
	}
	return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, conv.ID, conv.Version)
}
