package channelset

import (
	"fmt"
	"os"
)

// endpoint is one side (parent or child) of one channel's pipe.
type endpoint struct {
	file   *os.File
	closed bool
}

func (e *endpoint) close() error {
	if e == nil || e.file == nil || e.closed {
		return nil
	}
	e.closed = true
	return e.file.Close()
}

// Set owns the twelve endpoints (six channels x {parent-side, child-side})
// for one child. It is created before spawn; CloseChildSideOnParent is called by
// the parent right after spawn returns; Close tears everything down.
type Set struct {
	parent [Count]endpoint
	child  [Count]endpoint
}

// New creates pipes for all six logical channels. On any failure, all
// pipes created so far are closed and the error is returned — a spawn
// that fails bootstrap must not leak endpoints (spec.md §7: "endpoint
// creation failure ... propagate; no job created").
func New() (*Set, error) {
	s := &Set{}
	for i := Index(0); i < Count; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("channelset: create pipe for %s: %w", i, err)
		}
		if i.ChildReads() {
			// parent writes, child reads
			s.parent[i] = endpoint{file: w}
			s.child[i] = endpoint{file: r}
		} else {
			// child writes, parent reads
			s.parent[i] = endpoint{file: r}
			s.child[i] = endpoint{file: w}
		}
	}
	return s, nil
}

// ParentFile returns the parent-side endpoint for a channel.
func (s *Set) ParentFile(i Index) *os.File { return s.parent[i].file }

// ChildFile returns the child-side endpoint for a channel.
func (s *Set) ChildFile(i Index) *os.File { return s.child[i].file }

// CloseChildSideOnParent closes the parent's copy of every child-side
// endpoint. Must be called as soon as spawn returns, whether or not it
// succeeded: otherwise the parent holds a spare write end open on every
// output channel and its own drainers never observe EOF once the child
// exits. This corresponds to spec.md §4.B's
// invariant that no unrelated descriptors leak across exec.
func (s *Set) CloseChildSideOnParent() error {
	var firstErr error
	for i := Index(0); i < Count; i++ {
		if err := s.child[i].close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every endpoint, parent and child side. Safe to call more
// than once; each endpoint is closed exactly once.
func (s *Set) Close() error {
	var firstErr error
	for i := Index(0); i < Count; i++ {
		if err := s.parent[i].close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.child[i].close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
