package priority

// StreamGroup is a weighted bucket referenced by zero or more streams. Weight
// is stored for the session to interpret; the core never reads it. Group
// lifetime is independent of any stream's lifetime — the core never deletes
// a group, even when NumStreams reaches zero; that is the caller's call.
type StreamGroup struct {
	ID         int32
	Weight     int32
	numStreams int
}

// NewStreamGroup creates a group with zero member streams.
func NewStreamGroup(id, weight int32) *StreamGroup {
	return &StreamGroup{ID: id, Weight: weight}
}

// NumStreams returns the number of streams whose StreamGroup is g.
func (g *StreamGroup) NumStreams() int {
	return g.numStreams
}

// AddStream assigns s to g, incrementing g's member count. It does not
// remove s from any group it previously belonged to — callers that move a
// stream between groups call RemoveStream first (the dpri propagation
// passes do this for whole subtrees via setRestStreamGroup).
func (g *StreamGroup) AddStream(s *Stream) {
	s.group = g
	g.numStreams++
}

// RemoveStream clears s's group reference and decrements g's member count.
func (g *StreamGroup) RemoveStream(s *Stream) {
	s.group = nil
	g.numStreams--
}

// Free releases any core-held resources for g. The core holds none; this
// exists only to mirror the exposed operation table — deletion timing is
// the caller's responsibility once NumStreams reaches zero.
func (g *StreamGroup) Free() {}
