package interfaces

import (
	"context"

	"github.com/covehq/cove/internal/domain/entities"
)

// QueueRepository persists the offline message queue across restarts.
type QueueRepository interface {
	LoadQueue(ctx context.Context) ([]*entities.QueuedMessage, error)
	SaveQueue(ctx context.Context, queue []*entities.QueuedMessage) error
}
