// Package priority implements the HTTP/2 stream prioritization core: a
// forest of streams organized into a parent/child dependency tree grouped
// into weighted priority groups, and the dpri scheduler that decides which
// stream's DATA frame is next eligible for transmission.
//
// The package owns none of the surrounding connection: no socket I/O, no
// HPACK, no frame codec, no stream-ID allocation. It mutates a Stream forest
// in place and pushes OutboundItems into a caller-supplied Queue; everything
// else is the session's job. Every operation runs to completion synchronously
// on the caller's goroutine — there is no internal locking.
//
// The algorithms here are a direct transliteration of nghttp2's
// nghttp2_stream.c: the dependency-tree surgery (dep_insert, dep_add,
// dep_remove and their subtree variants) and the dpri propagation passes
// (set_rest, set_top, set_rest_stream_group) preserve that source's exact
// traversal order and edge-case behavior.
package priority
