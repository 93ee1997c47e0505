package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task types shared by the API (producer) and the worker (consumer).
const (
	TypeTemplateThumbnail = "template:thumbnail"
)

// TemplateThumbnailPayload identifies the catalog template to snapshot and who to notify.
type TemplateThumbnailPayload struct {
	TemplateID    uint   `json:"template_id"`
	RequesterID   uint   `json:"requester_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewTemplateThumbnailTask builds a thumbnail generation task.
func NewTemplateThumbnailTask(templateID, requesterID uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(TemplateThumbnailPayload{
		TemplateID:    templateID,
		RequesterID:   requesterID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeTemplateThumbnail, payload, asynq.MaxRetry(3)), nil
}
