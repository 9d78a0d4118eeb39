package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/biodoia/operatoros/pkg/models"
	"github.com/google/uuid"
)

// MemoryStore implementazione in memoria del persistence gateway.
// Usata con database.type=memory e nei test.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[uuid.UUID]*models.Conversation
	steps         map[uuid.UUID][]models.StepRecord
}

// NewMemoryStore crea uno store vuoto
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[uuid.UUID]*models.Conversation),
		steps:         make(map[uuid.UUID][]models.StepRecord),
	}
}

// InsertConversation persiste una nuova conversazione
func (m *MemoryStore) InsertConversation(ctx context.Context, conv *models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := conv.BeforeCreate(nil); err != nil {
		return err
	}

	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return fmt.Errorf("insert conversation: duplicate id %s", conv.ID)
	}
	m.conversations[conv.ID] = conv.Clone()
	return nil
}

// UpdateConversation salva lo stato se la versione coincide
func (m *MemoryStore) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if err := m.save(conv, now); err != nil {
		return err
	}
	return nil
}

// AppendStep inserisce il record e aggiorna la conversazione atomicamente
func (m *MemoryStore) AppendStep(ctx context.Context, conv *models.Conversation, step *models.StepRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(conv); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := step.BeforeCreate(nil); err != nil {
		return err
	}
	step.ConversationID = conv.ID
	step.Sequence = len(m.steps[conv.ID]) + 1
	if step.CreatedAt.IsZero() {
		step.CreatedAt = now
	}

	if err := m.save(conv, now); err != nil {
		return err
	}
	m.steps[conv.ID] = append(m.steps[conv.ID], step.Clone())
	return nil
}

// GetConversation restituisce una copia della conversazione
func (m *MemoryStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return conv.Clone(), nil
}

// ListSteps restituisce copie dei record in ordine di append
func (m *MemoryStore) ListSteps(ctx context.Context, id uuid.UUID) ([]models.StepRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.steps[id]
	out := make([]models.StepRecord, len(src))
	for i := range src {
		out[i] = src[i].Clone()
	}
	return out, nil
}

// ListConversations elenca le conversazioni più recenti
func (m *MemoryStore) ListConversations(ctx context.Context, filter ListFilter) ([]models.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]models.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.SessionRef != "" && c.SessionRef != filter.SessionRef {
			continue
		}
		out = append(out, *c.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// check verifica esistenza e versione; richiede m.mu
func (m *MemoryStore) check(conv *models.Conversation) error {
	stored, ok := m.conversations[conv.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, conv.ID)
	}
	if stored.Version != conv.Version {
		return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, conv.ID, conv.Version)
	}
	return nil
}

// save scrive la conversazione incrementando la versione; richiede m.mu
func (m *MemoryStore) save(conv *models.Conversation, now time.Time) error {
	if err := m.check(conv); err != nil {
		return err
	}
	conv.Version++
	conv.UpdatedAt = now
	m.conversations[conv.ID] = conv.Clone()
	return nil
}
