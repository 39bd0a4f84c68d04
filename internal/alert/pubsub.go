package alert

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// PubSub publishes the alert to a topic. The message data is the JSON
// payload when there is one, otherwise the text.
type PubSub struct {
	publisher *pubsub.Publisher
}

// NewPubSub wraps a topic publisher.
func NewPubSub(publisher *pubsub.Publisher) (*PubSub, error) {
	if publisher == nil {
		return nil, fmt.Errorf("pubsub publisher is required")
	}
	return &PubSub{publisher: publisher}, nil
}

// Send implements Dispatcher.
func (p *PubSub) Send(ctx context.Context, msg Message) error {
	data := []byte(msg.Text)
	if msg.Payload != nil {
		var err error
		if data, err = json.Marshal(msg.Payload); err != nil {
			return fmt.Errorf("marshal alert payload: %w", err)
		}
	}
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": "carwatch.alert"},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
