package events

import (
	"context"
	"encoding/json"
	"time"

	"squarecrop/internal/cropdb"
	"squarecrop/internal/imageproc"

	"cloud.google.com/go/pubsub"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	TypeCropCompleted = "crop.completed"
	TypeCropFailed    = "crop.failed"
)

// CropEvent announces a settled crop. It carries metadata only.
type CropEvent struct {
	Type         string            `json:"type"`
	CropID       string            `json:"cropId"`
	SessionID    string            `json:"sessionId,omitempty"`
	SourceWidth  int               `json:"sourceWidth,omitempty"`
	SourceHeight int               `json:"sourceHeight,omitempty"`
	Region       *imageproc.Region `json:"region,omitempty"`
	Format       string            `json:"format,omitempty"`
	OutputBytes  int               `json:"outputBytes,omitempty"`
	Error        string            `json:"error,omitempty"`
	OccurredAt   string            `json:"occurredAt"`
}

func FromCrop(crop cropdb.Crop) CropEvent {
	event := CropEvent{
		Type:         TypeCropCompleted,
		CropID:       crop.ID,
		SessionID:    crop.SessionID.String,
		SourceWidth:  crop.SourceWidth,
		SourceHeight: crop.SourceHeight,
		OccurredAt:   crop.CreatedAt,
	}
	if crop.Status != cropdb.StatusDone {
		event.Type = TypeCropFailed
		event.Error = crop.Error.String
		return event
	}
	event.Region = &imageproc.Region{X: crop.RegionX, Y: crop.RegionY, Width: crop.Side, Height: crop.Side}
	event.Format = crop.Format
	event.OutputBytes = crop.OutputBytes
	return event
}

func (e CropEvent) Marshal() (json.RawMessage, error) {
	return json.Marshal(e)
}

// Publisher sends outbox payloads to a Pub/Sub topic.
type Publisher struct {
	Topic *pubsub.Topic
}

func (p *Publisher) Publish(ctx context.Context, outboxID string, payload json.RawMessage) error {
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result := p.Topic.Publish(publishCtx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"outbox_id": outboxID},
	})
	_, err := result.Get(publishCtx)
	return err
}

func (p *Publisher) Ready(ctx context.Context) error {
	_, err := p.Topic.Exists(ctx)
	return err
}

func EnsureTopic(ctx context.Context, client *pubsub.Client, topicName string) error {
	topic := client.Topic(topicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = client.CreateTopic(ctx, topicName)
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// EnsureTopicWithRetry waits for the emulator to accept topic creation.
func EnsureTopicWithRetry(ctx context.Context, client *pubsub.Client, topicName string, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := EnsureTopic(ctx, client, topicName); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
