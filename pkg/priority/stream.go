package priority

// StreamState is the coarse HTTP/2 stream lifecycle tag. The core only ever
// writes StreamStateOpened (from PromiseFulfilled); every other transition
// belongs to the session's state machine and is simply stored here.
type StreamState int

const (
	StreamStateIdle StreamState = iota
	StreamStateReservedLocal
	StreamStateReservedRemote
	StreamStateOpened
	StreamStateHalfClosedLocal
	StreamStateHalfClosedRemote
	StreamStateClosed
)

// ShutFlag is a bitmask of half-shutdown directions, monotonic under union.
type ShutFlag uint8

const (
	ShutNone ShutFlag = 0
	ShutRD   ShutFlag = 1 << 0
	ShutWR   ShutFlag = 1 << 1
	ShutRDWR          = ShutRD | ShutWR
)

// DataPriority is the three-valued dpri scheduling tag described in spec
// §4.5: whether a stream has no attached DATA frame, has one but is
// shadowed by a TOP ancestor, or is itself eligible for transmission.
type DataPriority int

const (
	// DataPriorityNoData holds iff Data == nil.
	DataPriorityNoData DataPriority = iota
	// DataPriorityRest holds iff Data != nil and some ancestor is TOP, or
	// the stream has been demoted pending a top-search pass.
	DataPriorityRest
	// DataPriorityTop holds iff Data != nil and every ancestor is NO_DATA;
	// the stream's item is (or is about to be) in the transmit Queue.
	DataPriorityTop
)

func (p DataPriority) String() string {
	switch p {
	case DataPriorityNoData:
		return "no-data"
	case DataPriorityRest:
		return "rest"
	case DataPriorityTop:
		return "top"
	default:
		return "invalid"
	}
}

// Stream is a node in the dependency forest: a stream's parent/child/sibling
// links, its substream count, its dpri tag, its flow-control windows, and
// whatever the attached/deferred outbound item happens to be. Multiple
// disjoint trees may coexist, each rooted at a stream with no parent.
type Stream struct {
	StreamID  uint32
	Flags     uint8
	State     StreamState
	ShutFlags ShutFlag
	UserData  interface{}

	RemoteWindowSize int32
	LocalWindowSize  int32
	RecvWindowSize   int32
	RecvReduction    int32

	data          OutboundItem
	deferredData  OutboundItem
	deferredFlags uint8

	depPrev *Stream
	depNext *Stream
	sibPrev *Stream
	sibNext *Stream

	group *StreamGroup
	dpri  DataPriority

	numSubstreams int
}

// NewStream creates a stream in isolation: no parent, no sibling, no group.
// The caller assigns it into the forest via DepInsert/DepAdd/DepMakeRoot
// (and, for dep_insert/dep_add specifically, an explicit StreamGroup.AddStream
// call — see the DependencyForest doc comments for why those two don't
// touch group membership themselves).
func NewStream(streamID uint32, flags uint8, initialState StreamState, remoteInitialWindowSize, localInitialWindowSize int32, userData interface{}) *Stream {
	return &Stream{
		StreamID:         streamID,
		Flags:            flags,
		State:            initialState,
		RemoteWindowSize: remoteInitialWindowSize,
		LocalWindowSize:  localInitialWindowSize,
		UserData:         userData,
		dpri:             DataPriorityNoData,
		numSubstreams:    1,
	}
}

// Free releases the deferred outbound item, if any. UserData and any
// currently attached Data are owned by the caller and are left untouched.
func (s *Stream) Free() {
	s.deferredData = nil
}

// Shutdown ORs flag into ShutFlags.
func (s *Stream) Shutdown(flag ShutFlag) {
	s.ShutFlags |= flag
}

// PromiseFulfilled transitions State to StreamStateOpened. No other effect.
func (s *Stream) PromiseFulfilled() {
	s.State = StreamStateOpened
}

// UpdateRemoteInitialWindowSize adjusts RemoteWindowSize for a SETTINGS
// change to the remote peer's advertised INITIAL_WINDOW_SIZE.
func (s *Stream) UpdateRemoteInitialWindowSize(newInitialWindowSize, oldInitialWindowSize int32) error {
	return AdjustWindow(&s.RemoteWindowSize, newInitialWindowSize, oldInitialWindowSize)
}

// UpdateLocalInitialWindowSize adjusts LocalWindowSize for a SETTINGS change
// to the locally advertised INITIAL_WINDOW_SIZE.
func (s *Stream) UpdateLocalInitialWindowSize(newInitialWindowSize, oldInitialWindowSize int32) error {
	return AdjustWindow(&s.LocalWindowSize, newInitialWindowSize, oldInitialWindowSize)
}

// AttachData attaches item as the stream's pending outbound DATA frame and
// runs the on-attach dpri propagation, pushing into pq whatever streams
// newly become TOP. Precondition: no Data and no DeferredData already
// attached; violating it is a programming error and panics, mirroring the
// reference implementation's assert.
func (s *Stream) AttachData(item OutboundItem, pq Queue) error {
	if s.data != nil || s.deferredData != nil {
		panic("priority: AttachData called with data already attached")
	}
	s.data = item
	return onAttachData(s, pq)
}

// DetachData clears the stream's pending outbound DATA frame and runs the
// on-detach dpri propagation, which may promote a descendant to TOP.
func (s *Stream) DetachData(pq Queue) error {
	s.data = nil
	return onDetachData(s, pq)
}

// DeferData moves item from Data to DeferredData, storing flags alongside
// it. Precondition: Data == item and no DeferredData already attached.
//
// DeferData deliberately does not run the on-detach propagation: dpri and
// the transmit Queue are left exactly as they were, which means a stream can
// briefly be DataPriorityTop with Data == nil. Invariant 4 ("TOP only if
// Data != nil") is not literally true during that window. Callers that defer
// must pair it with a timely DetachDeferredData (or an explicit DetachData)
// to close the window; this mirrors nghttp2_stream_defer_data exactly, not a
// bug introduced here.
func (s *Stream) DeferData(item OutboundItem, flags uint8) {
	if s.data != item || s.deferredData != nil {
		panic("priority: DeferData precondition violated")
	}
	s.deferredData = item
	s.deferredFlags = flags
	s.data = nil
}

// DetachDeferredData moves the deferred item back via AttachData.
// Precondition: no Data attached and a DeferredData present.
func (s *Stream) DetachDeferredData(pq Queue) error {
	if s.data != nil || s.deferredData == nil {
		panic("priority: DetachDeferredData precondition violated")
	}
	item := s.deferredData
	s.deferredData = nil
	s.deferredFlags = 0
	return s.AttachData(item, pq)
}

// Data returns the stream's currently attached outbound item, or nil.
func (s *Stream) Data() OutboundItem { return s.data }

// DeferredData returns the stream's deferred outbound item, or nil.
func (s *Stream) DeferredData() OutboundItem { return s.deferredData }

// DeferredFlags returns the flags stored alongside DeferredData.
func (s *Stream) DeferredFlags() uint8 { return s.deferredFlags }

// DepPrev returns the non-owning parent reference, set only on a node's
// first sibling (invariant 2).
func (s *Stream) DepPrev() *Stream { return s.depPrev }

// DepNext returns the first child, if any.
func (s *Stream) DepNext() *Stream { return s.depNext }

// SibPrev returns the previous sibling, if any.
func (s *Stream) SibPrev() *Stream { return s.sibPrev }

// SibNext returns the next sibling, if any.
func (s *Stream) SibNext() *Stream { return s.sibNext }

// Group returns the stream's current StreamGroup, nil only during the brief
// transition window before initial assignment.
func (s *Stream) Group() *StreamGroup { return s.group }

// DPri returns the stream's current scheduling tag.
func (s *Stream) DPri() DataPriority { return s.dpri }

// NumSubstreams returns 1 + the number of descendants of s.
func (s *Stream) NumSubstreams() int { return s.numSubstreams }
