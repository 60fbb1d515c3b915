package priority

import "testing"

// Scenario 3: detach of TOP promotes a descendant.
// Tree s1 -> s2 -> s3 with data attached to s1 and s3; s1 is TOP, s3 is REST.
func TestDetachDataPromotesDescendant(t *testing.T) {
	s1, s2, s3 := newStream(1), newStream(3), newStream(5)
	DepAdd(s1, s2)
	DepAdd(s2, s3)

	pq := newTestQueue()
	item1 := newTestItem("s1")
	if err := s1.AttachData(item1, pq); err != nil {
		t.Fatalf("attach s1: %v", err)
	}
	if s1.DPri() != DataPriorityTop {
		t.Fatalf("s1.dpri = %v, want top", s1.DPri())
	}

	item3 := newTestItem("s3")
	if err := s3.AttachData(item3, pq); err != nil {
		t.Fatalf("attach s3: %v", err)
	}
	if s3.DPri() != DataPriorityRest {
		t.Fatalf("s3.dpri = %v, want rest", s3.DPri())
	}
	if item3.Queued() {
		t.Fatalf("s3.data should not be queued yet")
	}

	if err := s1.DetachData(pq); err != nil {
		t.Fatalf("detach s1: %v", err)
	}

	if s1.DPri() != DataPriorityNoData {
		t.Fatalf("s1.dpri = %v, want no-data", s1.DPri())
	}
	if s3.DPri() != DataPriorityTop {
		t.Fatalf("s3.dpri = %v, want top after s1 detaches", s3.DPri())
	}
	if !item3.Queued() {
		t.Fatalf("s3.data should now be queued")
	}
}

// Scenario 2: subtree re-parent demotes then re-promotes, with no duplicate
// enqueue. s9 carries a subtree containing s3; s3 is TOP before the
// reparent, demoted mid-reassignment, and must re-promote to TOP afterward
// without a second push.
func TestDepInsertSubtreeDemotesThenRepromotes(t *testing.T) {
	s1, s9, s3 := newStream(1), newStream(9), newStream(3)
	NewStreamGroup(1, 16).AddStream(s1)
	DepAdd(s9, s3)

	pq := newTestQueue()
	item3 := newTestItem("s3")
	if err := s3.AttachData(item3, pq); err != nil {
		t.Fatalf("attach s3: %v", err)
	}
	if s3.DPri() != DataPriorityTop {
		t.Fatalf("s3.dpri = %v, want top", s3.DPri())
	}
	if len(pq.pushed) != 1 {
		t.Fatalf("pushed %d items, want 1", len(pq.pushed))
	}

	if err := DepInsertSubtree(s1, s9, pq); err != nil {
		t.Fatalf("DepInsertSubtree: %v", err)
	}

	if s3.DPri() != DataPriorityTop {
		t.Fatalf("s3.dpri = %v, want top after reparent (unique data-bearing node on its root path)", s3.DPri())
	}
	if len(pq.pushed) != 1 {
		t.Fatalf("queue grew to %d pushes, want exactly 1 (no duplicate push)", len(pq.pushed))
	}
	if !item3.Queued() {
		t.Fatalf("item3 should remain queued")
	}
	if s9.depNext != s3 {
		t.Fatalf("s9 should still carry s3 as a child after the reparent")
	}
	if s1.depNext != s9 {
		t.Fatalf("s1.depNext = %v, want s9", s1.depNext)
	}
}

// P5: stream_group.num_streams equals the count of streams whose group
// reference points at it, maintained across setRestStreamGroup's subtree
// walk.
func TestDepInsertSubtreeReassignsWholeSubtreeToNewGroup(t *testing.T) {
	g1 := NewStreamGroup(1, 16)
	g2 := NewStreamGroup(2, 16)

	s1, s3, s5 := newStream(1), newStream(3), newStream(5)
	g1.AddStream(s1)
	DepAdd(s1, s3)
	g1.AddStream(s3)
	DepAdd(s3, s5)
	g1.AddStream(s5)

	if g1.NumStreams() != 3 {
		t.Fatalf("g1.NumStreams() = %d, want 3", g1.NumStreams())
	}

	parent := newStream(7)
	g2.AddStream(parent)

	pq := newTestQueue()
	if err := DepInsertSubtree(parent, s3, pq); err != nil {
		t.Fatalf("DepInsertSubtree: %v", err)
	}

	if g1.NumStreams() != 1 {
		t.Fatalf("g1.NumStreams() = %d, want 1 (only s1 remains)", g1.NumStreams())
	}
	if g2.NumStreams() != 3 {
		t.Fatalf("g2.NumStreams() = %d, want 3 (parent, s3, s5)", g2.NumStreams())
	}
	if s3.Group() != g2 || s5.Group() != g2 {
		t.Fatalf("s3/s5 not reassigned to g2")
	}
	if s1.Group() != g1 {
		t.Fatalf("s1 should be untouched in g1")
	}
}

// P7: attach_data(s); detach_data(s) leaves dpri = NO_DATA and the queue
// unchanged modulo the item still being referenced.
func TestAttachThenDetachRoundTrips(t *testing.T) {
	s1 := newStream(1)
	pq := newTestQueue()
	item := newTestItem("s1")

	if err := s1.AttachData(item, pq); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := s1.DetachData(pq); err != nil {
		t.Fatalf("detach: %v", err)
	}

	if s1.DPri() != DataPriorityNoData {
		t.Fatalf("s1.dpri = %v, want no-data", s1.DPri())
	}
	if len(pq.pushed) != 1 {
		t.Fatalf("pushed %d items, want exactly 1 from the attach", len(pq.pushed))
	}
}

// Scenario 6: defer + resume preserves queue idempotence.
func TestDeferThenResumePreservesIdempotence(t *testing.T) {
	s1 := newStream(1)
	pq := newTestQueue()
	item := newTestItem("s1")

	if err := s1.AttachData(item, pq); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !item.Queued() {
		t.Fatalf("item should be queued after attach")
	}

	s1.DeferData(item, 0)
	if s1.Data() != nil {
		t.Fatalf("Data() should be nil while deferred")
	}
	if !item.Queued() {
		t.Fatalf("queued bit must survive defer untouched")
	}

	if err := s1.DetachDeferredData(pq); err != nil {
		t.Fatalf("detach deferred: %v", err)
	}

	if s1.Data() != item {
		t.Fatalf("item should be reattached as Data")
	}
	if s1.DPri() != DataPriorityTop {
		t.Fatalf("s1.dpri = %v, want top", s1.DPri())
	}
	if len(pq.pushed) != 1 {
		t.Fatalf("pushed %d items, want exactly 1 (no duplicate push on resume)", len(pq.pushed))
	}
}

// P3: along any root-to-leaf path there is at most one TOP node, and it
// precedes any REST node with data attached.
func TestAtMostOneTopPerRootPath(t *testing.T) {
	root, mid, leaf := newStream(1), newStream(3), newStream(5)
	DepAdd(root, mid)
	DepAdd(mid, leaf)

	pq := newTestQueue()
	rootItem := newTestItem("root")
	leafItem := newTestItem("leaf")

	if err := root.AttachData(rootItem, pq); err != nil {
		t.Fatalf("attach root: %v", err)
	}
	if err := leaf.AttachData(leafItem, pq); err != nil {
		t.Fatalf("attach leaf: %v", err)
	}

	tops := 0
	for _, s := range []*Stream{root, mid, leaf} {
		if s.DPri() == DataPriorityTop {
			tops++
		}
	}
	if tops != 1 {
		t.Fatalf("found %d TOP nodes along the path, want exactly 1", tops)
	}
	if root.DPri() != DataPriorityTop {
		t.Fatalf("root should be the TOP node (closest to the tree root with data)")
	}
	if leaf.DPri() != DataPriorityRest {
		t.Fatalf("leaf should be REST, shadowed by root")
	}
}

func TestDepMakeRootPromotesImmediately(t *testing.T) {
	g := NewStreamGroup(1, 16)
	s1 := newStream(1)

	pq := newTestQueue()
	item := newTestItem("s1")
	s1.data = item // simulate data already attached before the stream had a group
	s1.dpri = DataPriorityRest

	if err := DepMakeRoot(g, s1, pq); err != nil {
		t.Fatalf("DepMakeRoot: %v", err)
	}

	if s1.Group() != g {
		t.Fatalf("s1 not assigned to g")
	}
	if s1.DPri() != DataPriorityTop {
		t.Fatalf("s1.dpri = %v, want top after DepMakeRoot", s1.DPri())
	}
	if !item.Queued() || len(pq.pushed) != 1 {
		t.Fatalf("item should be pushed exactly once by DepMakeRoot, pushed %d", len(pq.pushed))
	}
}

func TestSetTopPropagatesQueueFailure(t *testing.T) {
	s1, s2 := newStream(1), newStream(3)
	DepAdd(s1, s2)

	pq := newTestQueue()
	item1 := newTestItem("s1")
	if err := s1.AttachData(item1, pq); err != nil {
		t.Fatalf("attach s1: %v", err)
	}

	pq.failAfter = 0
	item2 := newTestItem("s2")
	// s2 becomes REST on attach and is not itself on the search frontier
	// (s1 shadows it), so attaching does not touch the queue here; force a
	// failure via detach of s1 instead, which resumes the top-search into s2.
	if err := s2.AttachData(item2, pq); err != nil {
		t.Fatalf("attach s2 (shadowed, no push expected): %v", err)
	}

	if err := s1.DetachData(pq); err == nil {
		t.Fatalf("expected queue push failure propagated from DetachData")
	}
}
