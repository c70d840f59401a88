package events

import "context"

// Publisher sends coordinator output to workers and downstream consumers.
type Publisher interface {
	PublishRequest(ctx context.Context, event *RequestEvent) error
	PublishTimeout(ctx context.Context, event *RequestEvent) error
	PublishTurn(ctx context.Context, event *TurnEvent) error
	PublishCompletion(ctx context.Context, event *CompletionEvent) error
	PublishStream(ctx context.Context, event *StreamEvent) error
}

// NoOpPublisher is a Publisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishRequest is a no-op.
func (p *NoOpPublisher) PublishRequest(_ context.Context, _ *RequestEvent) error { return nil }

// PublishTimeout is a no-op.
func (p *NoOpPublisher) PublishTimeout(_ context.Context, _ *RequestEvent) error { return nil }

// PublishTurn is a no-op.
func (p *NoOpPublisher) PublishTurn(_ context.Context, _ *TurnEvent) error { return nil }

// PublishCompletion is a no-op.
func (p *NoOpPublisher) PublishCompletion(_ context.Context, _ *CompletionEvent) error { return nil }

// PublishStream is a no-op.
func (p *NoOpPublisher) PublishStream(_ context.Context, _ *StreamEvent) error { return nil }

// CallbackPublisher is a Publisher that calls callback functions (for testing).
// Nil callbacks are skipped.
type CallbackPublisher struct {
	OnRequest    func(ctx context.Context, event *RequestEvent) error
	OnTimeout    func(ctx context.Context, event *RequestEvent) error
	OnTurn       func(ctx context.Context, event *TurnEvent) error
	OnCompletion func(ctx context.Context, event *CompletionEvent) error
	OnStream     func(ctx context.Context, event *StreamEvent) error
}

// PublishRequest calls OnRequest.
func (p *CallbackPublisher) PublishRequest(ctx context.Context, event *RequestEvent) error {
	if p.OnRequest == nil {
		return nil
	}
	return p.OnRequest(ctx, event)
}

// PublishTimeout calls OnTimeout.
func (p *CallbackPublisher) PublishTimeout(ctx context.Context, event *RequestEvent) error {
	if p.OnTimeout == nil {
		return nil
	}
	return p.OnTimeout(ctx, event)
}

// PublishTurn calls OnTurn.
func (p *CallbackPublisher) PublishTurn(ctx context.Context, event *TurnEvent) error {
	if p.OnTurn == nil {
		return nil
	}
	return p.OnTurn(ctx, event)
}

// PublishCompletion calls OnCompletion.
func (p *CallbackPublisher) PublishCompletion(ctx context.Context, event *CompletionEvent) error {
	if p.OnCompletion == nil {
		return nil
	}
	return p.OnCompletion(ctx, event)
}

// PublishStream calls OnStream.
func (p *CallbackPublisher) PublishStream(ctx context.Context, event *StreamEvent) error {
	if p.OnStream == nil {
		return nil
	}
	return p.OnStream(ctx, event)
}
