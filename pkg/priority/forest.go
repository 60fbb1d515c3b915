package priority

// This file implements the structural operations over the dependency
// forest: insert, add, remove, and their subtree variants, re-parenting,
// root lookup and subtree membership. All preserve invariants 1–3 (the
// doubly-linked sibling list, the single dep_prev-bearing first sibling,
// and the substream-count accounting) and are transliterated directly from
// nghttp2_stream.c.

func streamFirstSib(s *Stream) *Stream {
	for s.sibPrev != nil {
		s = s.sibPrev
	}
	return s
}

func streamLastSib(s *Stream) *Stream {
	for s.sibNext != nil {
		s = s.sibNext
	}
	return s
}

// updateDepLength walks to s's first sibling, then up through depPrev,
// adding delta to num_substreams at every ancestor, and returns the tree
// root so callers can launch a top-search from it.
func updateDepLength(s *Stream, delta int) *Stream {
	s.numSubstreams += delta
	s = streamFirstSib(s)
	if s.depPrev != nil {
		return updateDepLength(s.depPrev, delta)
	}
	return s
}

// GetDepRoot walks sibPrev then depPrev repeatedly until both are nil,
// returning the unique root of the tree containing s.
func GetDepRoot(s *Stream) *Stream {
	for {
		if s.sibPrev != nil {
			s = s.sibPrev
			continue
		}
		if s.depPrev != nil {
			s = s.depPrev
			continue
		}
		return s
	}
}

// SubtreeFind reports whether target is reachable from root via sibNext and
// depNext. Callers use it to reject re-parenting operations that would
// introduce a cycle.
func SubtreeFind(root, target *Stream) bool {
	if root == nil {
		return false
	}
	if root == target {
		return true
	}
	if SubtreeFind(root.sibNext, target) {
		return true
	}
	return SubtreeFind(root.depNext, target)
}

// DepInsert inserts s as parent's exclusive new child: s becomes parent's
// single child, and parent's previous children become s's children. It does
// not touch group membership — callers assign s to parent's StreamGroup
// (or any group) themselves before or after calling this, exactly as the
// reference implementation leaves stream_group assignment to its caller for
// the single-node case.
func DepInsert(parent, s *Stream) {
	if parent.depNext != nil {
		for si := parent.depNext; si != nil; si = si.sibNext {
			s.numSubstreams += si.numSubstreams
		}
		s.depNext = parent.depNext
		s.depNext.depPrev = s
	}

	parent.depNext = s
	s.depPrev = parent

	updateDepLength(parent, 1)
}

// DepAdd appends s as a new last sibling of parent's existing children (or,
// if parent has none, as its first child). Like DepInsert, group membership
// is the caller's responsibility.
func DepAdd(parent, s *Stream) {
	updateDepLength(parent, 1)

	if parent.depNext == nil {
		parent.depNext = s
		s.depPrev = parent
		return
	}

	lastSib := streamLastSib(parent.depNext)
	lastSib.sibNext = s
	s.sibPrev = lastSib
}

// DepRemove removes the single node s — not its subtree — promoting its
// children to take its place. After removal s is isolated (all four links
// nil, NumSubstreams == 1); the ancestor chain is decremented by 1 since
// children are promoted, not destroyed.
//
// The branch where s is a first-child with neither a child nor a right
// sibling only needs to clear the parent's depNext; the reference source's
// `dep_next = NULL` immediately after is dead (dep_next is never read again
// on that path), so it's dropped here.
func DepRemove(s *Stream) {
	var prev, next, depNext *Stream

	prev = streamFirstSib(s)
	if prev.depPrev != nil {
		updateDepLength(prev.depPrev, -1)
	}

	switch {
	case s.sibPrev != nil:
		prev = s.sibPrev
		depNext = s.depNext

		if depNext != nil {
			depNext.depPrev = nil
			prev.sibNext = depNext
			depNext.sibPrev = prev
		} else {
			next = s.sibNext
			prev.sibNext = next
			if next != nil {
				next.sibPrev = prev
			}
		}

	case s.depPrev != nil:
		prev = s.depPrev
		depNext = s.depNext

		if depNext != nil {
			prev.depNext = depNext
			depNext.depPrev = prev
		} else if s.sibNext != nil {
			next = s.sibNext
			prev.depNext = next
			next.depPrev = prev
			next.sibPrev = nil
		} else {
			prev.depNext = nil
		}

	default:
		// s is a root of a tree; each child becomes the root of its own.
		for si := s.depNext; si != nil; {
			n := si.sibNext
			si.depPrev = nil
			si.sibPrev = nil
			si.sibNext = nil
			si = n
		}
	}

	if depNext != nil && s.sibNext != nil {
		last := streamLastSib(depNext)
		n := s.sibNext
		last.sibNext = n
		n.sibPrev = last
	}

	s.numSubstreams = 1
	s.depPrev = nil
	s.depNext = nil
	s.sibPrev = nil
	s.sibNext = nil
}

// DepInsertSubtree re-parents s (and its whole subtree) as parent's
// exclusive new child, the subtree analogue of DepInsert: parent's previous
// children become grandchildren under s. Before linking, every stream in
// s's subtree is reassigned to parent's StreamGroup (demoting any TOP node
// along the way, via setRestStreamGroup); after linking, a fresh top-search
// runs from the enclosing root so anything newly eligible gets pushed.
func DepInsertSubtree(parent, s *Stream, pq Queue) error {
	deltaSubstreams := s.numSubstreams

	setRestStreamGroup(s, parent.group)

	var depNext *Stream
	if parent.depNext != nil {
		depNext = parent.depNext

		for si := parent.depNext; si != nil; si = si.sibNext {
			s.numSubstreams += si.numSubstreams
		}

		setRest(depNext)

		parent.depNext = s
		s.depPrev = parent

		if s.depNext != nil {
			lastSib := streamLastSib(s.depNext)
			lastSib.sibNext = depNext
			depNext.sibPrev = lastSib
			depNext.depPrev = nil
		} else {
			s.depNext = depNext
			depNext.depPrev = s
		}
	} else {
		parent.depNext = s
		s.depPrev = parent
	}

	root := updateDepLength(parent, deltaSubstreams)
	return setTop(root, pq)
}

// DepAddSubtree appends s (and its whole subtree) as a new last sibling of
// parent's existing children, the subtree analogue of DepAdd. Group
// reassignment and the post-link top-search mirror DepInsertSubtree.
func DepAddSubtree(parent, s *Stream, pq Queue) error {
	setRestStreamGroup(s, parent.group)

	if parent.depNext != nil {
		lastSib := streamLastSib(parent.depNext)
		lastSib.sibNext = s
		s.sibPrev = lastSib
	} else {
		parent.depNext = s
		s.depPrev = parent
	}

	root := updateDepLength(parent, s.numSubstreams)
	return setTop(root, pq)
}

// DepRemoveSubtree detaches s together with its descendants, leaving s the
// root of an independent tree. Substream counts within the detached subtree
// are unchanged; the ancestor chain it left behind is decremented by
// s.NumSubstreams.
func DepRemoveSubtree(s *Stream) {
	if s.sibPrev != nil {
		prev := s.sibPrev
		prev.sibNext = s.sibNext
		if prev.sibNext != nil {
			prev.sibNext.sibPrev = prev
		}

		first := streamFirstSib(prev)
		if first.depPrev != nil {
			updateDepLength(first.depPrev, -s.numSubstreams)
		}
	} else if s.depPrev != nil {
		prev := s.depPrev
		next := s.sibNext

		prev.depNext = next
		if next != nil {
			next.depPrev = prev
			next.sibPrev = nil
		}

		updateDepLength(prev, -s.numSubstreams)
	}

	s.sibPrev = nil
	s.sibNext = nil
	s.depPrev = nil
}

// DepMakeRoot treats s (and its descendants) as a new standalone tree,
// reassigns the subtree into group, and runs a top-search starting at s.
func DepMakeRoot(group *StreamGroup, s *Stream, pq Queue) error {
	setRestStreamGroup(s, group)
	return setTop(s, pq)
}
