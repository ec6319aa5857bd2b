package service

import (
	"context"
	"encoding/json"

	"wordware-roast-be/internal/pkg/logger"
	"wordware-roast-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// EventForwarder is satisfied by the NATS publisher.
type EventForwarder interface {
	Publish(ctx context.Context, event events.Event) error
}

type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	forwarder  EventForwarder
	logger     logger.ILogger
}

// NewConsumerService drains run events from the in-process bus, logs them and
// forwards them to forwarder when one is configured (nil disables forwarding).
func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	forwarder EventForwarder,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		forwarder:  forwarder,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var event events.BaseEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		cs.logger.Error("ConsumerService", "Failed to unmarshal run event", map[string]interface{}{"error": err.Error()})
		msg.Ack() // Ack invalid messages to prevent infinite redelivery
		return
	}

	cs.logger.Info("ConsumerService", "Run event", map[string]interface{}{
		"type": event.Type,
		"data": event.Data,
	})

	if cs.forwarder != nil {
		if err := cs.forwarder.Publish(ctx, event); err != nil {
			cs.logger.Warn("ConsumerService", "Failed to forward run event", map[string]interface{}{
				"type":  event.Type,
				"error": err.Error(),
			})
		}
	}
	msg.Ack()
}
