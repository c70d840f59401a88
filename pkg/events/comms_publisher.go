package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/coordinator/pkg/commsutil"
	"github.com/morezero/coordinator/pkg/dispatch"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisher publishes coordinator output to COMMS subjects.
type CommsPublisher struct {
	nc *comms.Conn
}

// NewCommsPublisher creates a new CommsPublisher.
func NewCommsPublisher(nc *comms.Conn) *CommsPublisher {
	return &CommsPublisher{nc: nc}
}

// PublishRequest publishes an outstanding request to its capability action.
func (p *CommsPublisher) PublishRequest(_ context.Context, event *RequestEvent) error {
	return p.publish(commsutil.RequestSubject(event.Capability, event.Action), event)
}

// PublishTimeout publishes a timeout notification to the timeout subject of
// the capability qualifying the request name.
func (p *CommsPublisher) PublishTimeout(_ context.Context, event *RequestEvent) error {
	return p.publish(commsutil.TimeoutSubject(dispatch.TimeoutCapability(event.Name)), event)
}

// PublishTurn publishes a next-turn submission.
func (p *CommsPublisher) PublishTurn(_ context.Context, event *TurnEvent) error {
	return p.publish(commsutil.TurnSubject(event.Originator), event)
}

// PublishCompletion publishes a completion signal.
func (p *CommsPublisher) PublishCompletion(_ context.Context, event *CompletionEvent) error {
	return p.publish(commsutil.CompleteSubject(event.Originator), event)
}

// PublishStream publishes an incremental stream event.
func (p *CommsPublisher) PublishStream(_ context.Context, event *StreamEvent) error {
	return p.publish(commsutil.StreamSubject(event.Originator), event)
}

func (p *CommsPublisher) publish(subject string, event interface{}) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return fmt.Errorf("%s - failed to publish to %s: %w", commsPublisherLogPrefix, subject, err)
	}
	slog.Debug(fmt.Sprintf("%s - Published %T to %s", commsPublisherLogPrefix, event, subject))
	return nil
}
