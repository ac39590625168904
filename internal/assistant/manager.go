package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/basketly/engage/internal/profile"
)

// ErrBindingFailed means a conversation could not be bound to an assistant.
// The reply pipeline short-circuits on it: without a binding there is nothing
// to invoke.
var ErrBindingFailed = errors.New("assistant binding failed")

// BindingStore persists the conversation to assistant association.
type BindingStore interface {
	// AssistantID returns the bound assistant id, or empty when unbound.
	AssistantID(ctx context.Context, conversationID uuid.UUID) (string, error)
	// Bind associates the assistant with the conversation unless another
	// binding won first, and returns the canonical binding either way.
	Bind(ctx context.Context, conversationID uuid.UUID, assistantID string) (string, error)
}

// Manager makes EnsureBinding idempotent: any number of concurrent calls for
// the same conversation converge on one assistant.
type Manager struct {
	runtime Provisioner
	store   BindingStore
	logger  *slog.Logger
}

// NewManager creates a binding manager.
func NewManager(log *slog.Logger, runtime Provisioner, store BindingStore) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		runtime: runtime,
		store:   store,
		logger:  log.With(slog.String("component", "assistant_binding")),
	}
}

// EnsureBinding returns the assistant id bound to the conversation,
// provisioning one on the runtime first when none exists. A provisioning
// conflict means another caller got there first and is treated as success.
func (m *Manager) EnsureBinding(ctx context.Context, conversationID uuid.UUID, p profile.Profile) (string, error) {
	bound, err := m.store.AssistantID(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("%w: read binding: %v", ErrBindingFailed, err)
	}
	if bound != "" {
		return bound, nil
	}

	assistantID, err := m.provision(ctx, p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBindingFailed, err)
	}

	canonical, err := m.store.Bind(ctx, conversationID, assistantID)
	if err != nil {
		return "", fmt.Errorf("%w: persist binding: %v", ErrBindingFailed, err)
	}
	if canonical != assistantID {
		m.logger.Info("lost binding race, adopting existing assistant",
			slog.String("conversation_id", conversationID.String()),
			slog.String("assistant_id", canonical))
	}
	return canonical, nil
}

func (m *Manager) provision(ctx context.Context, p profile.Profile) (string, error) {
	// Reuse first: a shopper keeps one assistant across conversations.
	existing, ok, err := m.runtime.FindByPhone(ctx, p.Phone)
	if err != nil {
		return "", err
	}
	if ok {
		return existing.ID, nil
	}

	created, err := m.runtime.Create(ctx, p)
	if err == nil {
		m.logger.Info("provisioned assistant",
			slog.String("assistant_id", created.ID),
			slog.String("phone", p.Phone))
		return created.ID, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return "", err
	}

	// Conflict means a concurrent caller created it between our search and
	// our create. Fetch what they made.
	existing, ok, err = m.runtime.FindByPhone(ctx, p.Phone)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("conflict reported but assistant not found for %s", p.Phone)
	}
	return existing.ID, nil
}
