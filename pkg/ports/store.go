package ports

import (
	"context"

	"github.com/avencia/graphrun/pkg/domain"
)

// SessionStore is the durable Session repository.
type SessionStore interface {
	Create(ctx context.Context, sess *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)

	// UpdateStatus transitions the session and refreshes status_updated_at.
	// A transition to "expired" is rejected (silently dropped) when the
	// session is already in a terminal end/error state. finished_at is set
	// once, on the first terminal transition.
	UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, data map[string]any) error

	// SaveVariables persists the durable copy of the variable store.
	SaveVariables(ctx context.Context, id string, variables map[string]any) error

	// ListActive returns sessions in an active status with a non-zero TTL,
	// used by the timeout monitor's startup reconciliation.
	ListActive(ctx context.Context) ([]*domain.Session, error)
}

// MessageStore is the append-only GraphSessionMessage repository.
type MessageStore interface {
	Append(ctx context.Context, env *domain.Envelope) error
	List(ctx context.Context, sessionID string) ([]*domain.Envelope, error)
}
