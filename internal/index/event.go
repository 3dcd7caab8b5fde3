package index

import "log/slog"

// EventKind discriminates the event union carried by the Bus.
type EventKind int

// Event kinds, in the order the daemon documents them.
const (
	EventCreated EventKind = iota
	EventUpdated
	EventRemoved
	EventConfigReloaded
	EventQuery
	EventTerminate
)

// String returns the kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	case EventConfigReloaded:
		return "config_reloaded"
	case EventQuery:
		return "query"
	case EventTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Event is the tagged union flowing from the watcher, the HTTP layer, and
// the shutdown path into the daemon. Paths are slash-separated and
// relative to the working directory. Reply is set only for EventQuery.
type Event struct {
	Kind       EventKind
	Paths      []string
	ConfigPath string
	Reply      chan<- []QueryResult
}

// busCapacity bounds the event channel. Producers block when full; the
// daemon drains fast enough that this is backpressure, not deadlock.
const busCapacity = 2048

// Bus is the multi-producer, single-consumer channel feeding the daemon,
// wrapped with typed send operations. Sends block when the buffer is
// full — no event is ever dropped on the way in.
type Bus struct {
	ch     chan Event
	logger *slog.Logger
}

// NewBus creates a Bus with the standard bounded capacity.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		ch:     make(chan Event, busCapacity),
		logger: logger,
	}
}

// Events exposes the consumer side. Only the daemon receives from it.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// send is the single enqueue point for every typed send below.
func (b *Bus) send(ev Event) {
	b.logger.Debug("enqueueing event",
		"kind", ev.Kind.String(), "paths", len(ev.Paths))

	b.ch <- ev
}

// SendCreated announces newly created paths.
func (b *Bus) SendCreated(paths []string) {
	b.send(Event{Kind: EventCreated, Paths: paths})
}

// SendUpdated announces content changes on existing paths.
func (b *Bus) SendUpdated(paths []string) {
	b.send(Event{Kind: EventUpdated, Paths: paths})
}

// SendRemoved announces deleted paths.
func (b *Bus) SendRemoved(paths []string) {
	b.send(Event{Kind: EventRemoved, Paths: paths})
}

// SendConfigReloaded asks the daemon to re-parse the configuration file
// and hot-swap the access pool.
func (b *Bus) SendConfigReloaded(configPath string) {
	b.send(Event{Kind: EventConfigReloaded, ConfigPath: configPath})
}

// SendTerminate asks the daemon to finish the current event and stop.
func (b *Bus) SendTerminate() {
	b.send(Event{Kind: EventTerminate})
}

// SendQuery submits a metadata query for the given paths and returns the
// oneshot reply channel. The daemon sends exactly one result slice and
// closes the channel; a caller that stops listening loses nothing but
// the answer.
func (b *Bus) SendQuery(paths []string) <-chan []QueryResult {
	reply := make(chan []QueryResult, 1)
	b.send(Event{Kind: EventQuery, Paths: paths, Reply: reply})

	return reply
}
