package repositories_json

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/covehq/cove/internal/domain/entities"
	errors "github.com/covehq/cove/internal/domain/errs"
	"github.com/covehq/cove/internal/domain/interfaces"
)

// JsonQueueRepository keeps the offline message queue on disk so messages
// composed without connectivity survive a restart.
type JsonQueueRepository struct {
	filePath string
}

func NewJSONQueueRepository(dataDir string) (interfaces.QueueRepository, error) {
	filePath := filepath.Join(dataDir, ".cove", "queue.json")
	return &JsonQueueRepository{filePath: filePath}, nil
}

func (r *JsonQueueRepository) LoadQueue(ctx context.Context) ([]*entities.QueuedMessage, error) {
	data, err := os.ReadFile(r.filePath)
	if os.IsNotExist(err) {
		return nil, nil // No queue persisted yet
	}
	if err != nil {
		return nil, errors.InternalErrorf("failed to read queue.json: %v", err)
	}

	var queue []*entities.QueuedMessage
	if err := json.Unmarshal(data, &queue); err != nil {
		return nil, errors.InternalErrorf("failed to unmarshal queue.json: %v", err)
	}

	for _, qm := range queue {
		if qm.ID == "" {
			return nil, errors.InternalErrorf("queued message is missing an ID")
		}
	}

	return queue, nil
}

func (r *JsonQueueRepository) SaveQueue(ctx context.Context, queue []*entities.QueuedMessage) error {
	if queue == nil {
		queue = []*entities.QueuedMessage{}
	}

	data, err := json.MarshalIndent(queue, "", "  ")
	if err != nil {
		return errors.InternalErrorf("failed to marshal queue: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.filePath), 0755); err != nil {
		return errors.InternalErrorf("failed to create directory: %v", err)
	}

	if err := os.WriteFile(r.filePath, data, 0644); err != nil {
		return errors.InternalErrorf("failed to write queue.json: %v", err)
	}

	return nil
}

var _ interfaces.QueueRepository = (*JsonQueueRepository)(nil)
