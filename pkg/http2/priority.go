package http2

import (
	"github.com/pkg/errors"

	"github.com/perbu/h2prio/pkg/priority"
)

// DefaultWeight is the weight RFC 7540 §5.3.5 assigns a stream whose HEADERS
// carried no PRIORITY_FLAG, and what a bare PRIORITY frame defaults to when
// the caller doesn't care: "16, non-exclusive, depends on stream 0".
const DefaultWeight uint8 = 16

// initPriorityForest sets up the connection-wide dependency tree: a single
// root node standing in for stream 0 (which RFC 7540 forbids ever assigning
// to a real stream) and the one StreamGroup every stream in this connection
// shares. Bandwidth-proportional weighted scheduling across sibling groups
// is out of scope; only tree-correct TOP/REST/NO_DATA eligibility is, so a
// single shared group (rather than one pri_group per distinct weight bucket,
// as upstream's session layer does) is sufficient here.
func (c *Conn) initPriorityForest() {
	c.prioRoot = priority.NewStream(0, 0, priority.StreamStateOpened, 0, 0, nil)
	c.group = priority.NewStreamGroup(0, int32(DefaultWeight))
	c.group.AddStream(c.prioRoot)
	c.txQueue = newTxQueue()
}

// getOrCreateStream fetches or creates the Stream for id and, the first
// time, grafts it into the dependency forest at the default position (depends
// on stream 0, weight 16, non-exclusive). A HEADERS priority block or a
// later PRIORITY frame moves it with reparentStream.
func (c *Conn) getOrCreateStream(id uint32, name string) *Stream {
	s := c.streams.GetOrCreate(id, name)

	c.prioMu.Lock()
	needsAttach := s.Prio == nil
	c.prioMu.Unlock()

	if needsAttach {
		if err := c.reparentStream(s, 0, DefaultWeight, false); err != nil {
			c.logger.Log(2, "stream %d: default priority attach failed: %v", id, err)
		}
	}

	return s
}

// prioNode resolves a PRIORITY stream dependency id to its forest node,
// falling back to the root for an unknown or zero id.
func (c *Conn) prioNode(id uint32) *priority.Stream {
	if id == 0 {
		return c.prioRoot
	}
	if st, ok := c.streams.Get(id); ok && st.Prio != nil {
		return st.Prio
	}
	return c.prioRoot
}

// reparentStream moves s (creating its forest node on first use) to depend
// on dependsOn with the given weight and exclusivity, per RFC 7540 §5.3.1-3.
// A dependency on self or on one of s's own descendants is redirected to the
// connection root rather than rejected outright, matching the forgiving
// posture the rest of this connection layer takes toward malformed peers.
func (c *Conn) reparentStream(s *Stream, dependsOn uint32, weight uint8, exclusive bool) error {
	c.prioMu.Lock()
	defer c.prioMu.Unlock()

	s.Weight = weight
	s.DependsOn = dependsOn
	s.Exclusive = exclusive

	if s.Prio == nil {
		s.Prio = priority.NewStream(s.ID, 0, priority.StreamStateIdle, int32(DefaultWindowSize), int32(DefaultWindowSize), s)
		c.group.AddStream(s.Prio)

		parent := c.prioNode(dependsOn)
		if exclusive {
			return priority.DepInsertSubtree(parent, s.Prio, c.txQueue)
		}
		return priority.DepAddSubtree(parent, s.Prio, c.txQueue)
	}

	parent := c.prioNode(dependsOn)
	if parent == s.Prio || priority.SubtreeFind(s.Prio.DepNext(), parent) {
		parent = c.prioRoot
	}

	priority.DepRemoveSubtree(s.Prio)

	if exclusive {
		return priority.DepInsertSubtree(parent, s.Prio, c.txQueue)
	}
	return priority.DepAddSubtree(parent, s.Prio, c.txQueue)
}

// enqueueData attaches data as streamID's pending outbound DATA frame,
// letting the dependency forest decide whether it is immediately eligible
// for transmission (DataPriorityTop, pushed into the transmit queue) or
// must wait behind a higher-priority ancestor (DataPriorityRest).
func (c *Conn) enqueueData(streamID uint32, data []byte, endStream bool) error {
	stream := c.getOrCreateStream(streamID, "")

	item := &outboundItem{
		streamID:  streamID,
		data:      data,
		endStream: endStream,
	}

	c.prioMu.Lock()
	defer c.prioMu.Unlock()

	if err := stream.Prio.AttachData(item, c.txQueue); err != nil {
		return errors.Wrapf(err, "attach data for stream %d", streamID)
	}
	return nil
}

// detachStream removes streamID's node from the dependency forest entirely,
// e.g. on stream close; any still-attached data is simply dropped, matching
// RFC 7540 §5.3.4's "priority information... is not retained" once a stream
// leaves the tree for good (callers needing the DATA delivered must flush
// first). A queue-push failure from the trailing DetachData is fatal per
// spec.md §7 ("partial progress has already mutated dpri fields") and is
// returned rather than discarded; callers tear the connection down on it the
// same way they do for any other frame-processing error.
func (c *Conn) detachStream(streamID uint32) error {
	stream, ok := c.streams.Get(streamID)
	if !ok || stream.Prio == nil {
		return nil
	}

	c.prioMu.Lock()
	defer c.prioMu.Unlock()

	var err error
	if stream.Prio.Data() != nil {
		err = stream.Prio.DetachData(c.txQueue)
	}
	priority.DepRemoveSubtree(stream.Prio)
	c.group.RemoveStream(stream.Prio)
	if err != nil {
		return errors.Wrapf(err, "detach data for stream %d", streamID)
	}
	return nil
}

// drainTxLoop is the sole consumer of c.txQueue: it blocks on the queue's
// notify channel, then pops and writes every item currently eligible,
// detaching each from its stream's forest node so a later AttachData (the
// next write on that stream) is accepted again. Writing to the wire happens
// outside prioMu, matching the rest of this connection's rule that wire I/O
// and forest bookkeeping never share a lock.
func (c *Conn) drainTxLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.txQueue.notify:
		}

		for {
			item, ok := c.txQueue.Pop()
			if !ok {
				break
			}
			item.SetQueued(false)

			c.writeMu.Lock()
			err := WriteDataFrame(c.conn, item.streamID, item.data, item.endStream)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Log(1, "drainTxLoop: write DATA failed for stream %d: %v", item.streamID, err)
				continue
			}

			c.prioMu.Lock()
			var detachErr error
			if stream, ok := c.streams.Get(item.streamID); ok && stream.Prio != nil && stream.Prio.Data() == priority.OutboundItem(item) {
				detachErr = stream.Prio.DetachData(c.txQueue)
			}
			c.prioMu.Unlock()
			if detachErr != nil {
				c.logger.Log(1, "drainTxLoop: detach data failed for stream %d: %v, closing connection", item.streamID, detachErr)
				c.cancel()
				return
			}

			if item.endStream {
				stream, ok := c.streams.Get(item.streamID)
				if ok {
					stream.UpdateState(true, true)
				}
				if err := c.detachStream(item.streamID); err != nil {
					c.logger.Log(1, "drainTxLoop: %v, closing connection", err)
					c.cancel()
					return
				}
			}
		}
	}
}
