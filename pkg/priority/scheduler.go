package priority

// This file implements the three internal DFS passes that keep dpri
// consistent across the forest, plus the on-attach/on-detach entry points
// that drive them. All three are a direct transliteration of
// nghttp2_stream.c's stream_update_dep_set_rest,
// stream_update_dep_set_rest_stream_group and stream_update_dep_set_top:
// siblings are visited left to right before descendants, and a TOP node
// always shadows (never descends into) its own children.

// setRest demotes s and its eligible descendants from TOP to REST. A node
// already REST stops the descent (its subtree is already REST); a TOP node
// demotes and continues only along sibNext (its descendants are, by
// invariant 4/5, already NO_DATA or REST); a NO_DATA node continues along
// both sibNext and depNext.
func setRest(s *Stream) {
	if s == nil {
		return
	}
	if s.dpri == DataPriorityRest {
		return
	}
	if s.dpri == DataPriorityTop {
		s.dpri = DataPriorityRest
		setRest(s.sibNext)
		return
	}
	setRest(s.sibNext)
	setRest(s.depNext)
}

// setRestStreamGroup reassigns every node in s's subtree (siblings and
// descendants alike — unlike setRest, it always visits both) to group,
// demoting any TOP node to REST along the way: moving a subtree to a new
// group invalidates whatever top-search already ran over it, so the
// enclosing setTop pass that follows must redo that work.
func setRestStreamGroup(s *Stream, group *StreamGroup) {
	if s == nil {
		return
	}
	if s.group != nil {
		s.group.RemoveStream(s)
	}
	group.AddStream(s)
	if s.dpri == DataPriorityTop {
		s.dpri = DataPriorityRest
	}
	setRestStreamGroup(s.sibNext, group)
	setRestStreamGroup(s.depNext, group)
}

// setTop searches the frontier of REST nodes that may promote to TOP,
// pushing each promoted node's Data into pq exactly once. A TOP node
// shadows its descendants and is skipped over (sibNext only); a REST node
// promotes and enqueues if not already queued; a NO_DATA node is
// transparent and the search continues into both siblings and children.
func setTop(s *Stream, pq Queue) error {
	if s == nil {
		return nil
	}
	if s.dpri == DataPriorityTop {
		return setTop(s.sibNext, pq)
	}
	if s.dpri == DataPriorityRest {
		if !s.data.Queued() {
			if err := pq.Push(s.data); err != nil {
				return err
			}
			s.data.SetQueued(true)
		}
		s.dpri = DataPriorityTop
		return setTop(s.sibNext, pq)
	}
	if err := setTop(s.sibNext, pq); err != nil {
		return err
	}
	return setTop(s.depNext, pq)
}

// onAttachData runs when a DATA frame is newly attached to s: s itself
// becomes REST (it may or may not end up TOP depending on its ancestors),
// its descendants yield to it via setRest, and then a fresh top-search runs
// from the root of s's tree.
func onAttachData(s *Stream, pq Queue) error {
	s.dpri = DataPriorityRest
	setRest(s.depNext)
	root := GetDepRoot(s)
	return setTop(root, pq)
}

// onDetachData runs when a DATA frame is removed from s. If s wasn't TOP,
// nothing else in the tree changes. If it was, its descendants may now
// promote, so the search resumes from s.depNext.
func onDetachData(s *Stream, pq Queue) error {
	if s.dpri != DataPriorityTop {
		s.dpri = DataPriorityNoData
		return nil
	}
	s.dpri = DataPriorityNoData
	return setTop(s.depNext, pq)
}
