package shard

import (
	"github.com/goccy/go-json"
)

// EventKind discriminates an Event. Gateway meta events use the reserved
// constants below; Dispatch events use the Discord event name verbatim
// ("READY", "MESSAGE_CREATE", …) as their Kind.
type EventKind string

// Gateway meta event kinds, delivered alongside Discord dispatch names.
const (
	KindShardConnected    EventKind = "SHARD_CONNECTED"
	KindShardDisconnected EventKind = "SHARD_DISCONNECTED"

	// KindShardPayload carries every raw inbound payload, regardless of
	// opcode. Excluded by the DefaultFilter since most subscribers only
	// want decoded dispatch events.
	KindShardPayload EventKind = "SHARD_PAYLOAD"
)

// Event is one unit of gateway traffic delivered to a subscriber.
type Event struct {
	Kind       EventKind
	Payload    json.RawMessage
	Sequence   *int64
	ShardIndex uint32

	// Reason is populated for KindShardDisconnected, carrying the close
	// code/error that ended the connection, if any.
	Reason error
}

// Filter reports whether an Event of the given Kind should be delivered to
// a subscriber.
type Filter func(EventKind) bool

// AllEvents delivers every event, including raw payloads.
func AllEvents(EventKind) bool { return true }

// DefaultFilter delivers every event except raw payloads.
func DefaultFilter(k EventKind) bool { return k != KindShardPayload }

// Only builds a Filter that matches exactly the given kinds.
func Only(kinds ...EventKind) Filter {
	set := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}

	return func(k EventKind) bool { return set[k] }
}

// subscriber is one registered sink, owned exclusively by the shard's
// processor goroutine: only the processor iterates or mutates the
// subscriber list, so no synchronization is needed around delivery itself.
type subscriber struct {
	filter  Filter
	sink    chan Event
	removed bool
}

const subscriberBuffer = 64

// deliver attempts a non-blocking send to sub's sink. A full or closed sink
// marks the subscriber for removal rather than blocking the processor; a
// slow subscriber only delays itself.
func (sub *subscriber) deliver(ev Event) {
	if sub.removed || !sub.filter(ev.Kind) {
		return
	}

	select {
	case sub.sink <- ev:
	default:
		sub.removed = true
		close(sub.sink)
	}
}
