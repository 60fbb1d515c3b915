package priority

// OutboundItem is an opaque handle to a pending DATA frame. The core reads
// and writes only the queued bit; everything else about the item (payload,
// stream, framing) belongs to the caller. The core never clears Queued —
// that is the consumer's job after popping the item off the Queue.
type OutboundItem interface {
	Queued() bool
	SetQueued(bool)
}

// Queue is the external min-heap of outbound items the scheduler pushes
// into. The core uses only Push; it never pops, peeks, or iterates. A
// concrete implementation (ordering, pop, drain) lives entirely outside this
// package — see pkg/http2's txQueue for the one this module drives.
type Queue interface {
	Push(item OutboundItem) error
}
