package node

import "errors"

var (
	// ErrNotFound is returned by Get when a block is neither stored locally
	// nor retrievable from any connected peer within the retry budget.
	ErrNotFound = errors.New("block not found")

	// ErrCancelled is returned by Get when the request is cancelled before
	// the block arrives.
	ErrCancelled = errors.New("request cancelled")

	// ErrSuspended is returned by Get while the node is suspended. A
	// suspended node serves remote wants but initiates no exchanges of its
	// own.
	ErrSuspended = errors.New("node suspended")

	// ErrShutdown is returned by operations invoked after the node has shut
	// down.
	ErrShutdown = errors.New("node shutdown")
)
