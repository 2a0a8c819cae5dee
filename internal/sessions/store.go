// Package sessions provides pluggable persistence for conversation handles
// and their message history, kept external to the agent loop per the
// collaborator boundary the core assumes (see pkg/models.Session).
package sessions

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Store is the interface for session persistence. The core never depends on
// a concrete implementation, only on this narrow surface.
type Store interface {
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*models.Session, error)

	// AppendMessage persists one entry of conversation history for session
	// id. Callers are responsible for upholding Message's tool-call/result
	// pairing invariant before appending.
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error

	// GetHistory returns up to limit of the most recent messages for
	// sessionID, oldest first. limit <= 0 means no limit.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	Limit  int
	Offset int
}

// ErrNotFound is returned by Get/Update/Delete when the session does not exist.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "session not found" }
