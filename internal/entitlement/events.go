package entitlement

import (
	evbus "github.com/asaskevich/EventBus"
)

// TopicChanged carries a Snapshot after every state change
const TopicChanged = "entitlement:changed"

// Subscribe calls fn with a Snapshot after every state change. Handlers run
// asynchronously and in order. The returned func removes the subscription.
func (e *Engine) Subscribe(fn func(Snapshot)) (func(), error) {
	if err := e.bus.SubscribeAsync(TopicChanged, fn, true); err != nil {
		return nil, err
	}
	return func() {
		e.bus.Unsubscribe(TopicChanged, fn)
	}, nil
}

func newBus() evbus.Bus {
	return evbus.New()
}

// publish must be called without e.mu held
func (e *Engine) publish() {
	if !e.bus.HasCallback(TopicChanged) {
		return
	}
	e.bus.Publish(TopicChanged, e.snapshot())
}
