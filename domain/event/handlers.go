package event

// Handler consumes normalized inbound events.
// The connection manager owns one handler table per connection and
// forwards every non-lifecycle event to a single Handler.
type Handler interface {
	Handle(event Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(event Event)

func (f HandlerFunc) Handle(event Event) {
	f(event)
}
