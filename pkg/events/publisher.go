package events

import "context"

// Publisher is the interface for publishing operation events.
type Publisher interface {
	PublishOperation(ctx context.Context, event *OperationEvent) error
}

// NoOpPublisher is a Publisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishOperation is a no-op.
func (p *NoOpPublisher) PublishOperation(_ context.Context, _ *OperationEvent) error {
	return nil
}

// CallbackPublisher is a Publisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *OperationEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *OperationEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishOperation calls the callback.
func (p *CallbackPublisher) PublishOperation(ctx context.Context, event *OperationEvent) error {
	return p.callback(ctx, event)
}
