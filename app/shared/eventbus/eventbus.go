// Package eventbus provides the in-process event stream the services
// publish structured decision events to. Resolution runs entirely inside
// one process, so the bus is a watermill gochannel pubsub; consumers that
// need durability can swap the implementation behind the same interface.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// CorrelationIDMetadataKey is the message metadata key carrying the
// correlation id.
const CorrelationIDMetadataKey = "correlation_id"

// EventBus is the publish/subscribe surface the services see.
type EventBus interface {
	Publish(topic string, messages ...*message.Message) error
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
	Close() error
}

type inProcessBus struct {
	pubsub *gochannel.GoChannel
}

// NewInProcessBus creates a gochannel-backed bus logging through logger.
func NewInProcessBus(logger *slog.Logger) EventBus {
	return &inProcessBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NewSlogLogger(logger)),
	}
}

func (b *inProcessBus) Publish(topic string, messages ...*message.Message) error {
	return b.pubsub.Publish(topic, messages...)
}

func (b *inProcessBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

func (b *inProcessBus) Close() error {
	return b.pubsub.Close()
}

// NewEventMessage marshals payload into a watermill message tagged with the
// correlation id.
func NewEventMessage(correlationID string, payload any) (*message.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if correlationID == "" {
		correlationID = watermill.NewUUID()
	}
	msg.Metadata.Set(CorrelationIDMetadataKey, correlationID)
	return msg, nil
}
