package engine

import "errors"

var (
	errCycle = errors.New("graph contains a cycle")

	// ErrTruncated is returned when a subgraph snapshot ends early.
	ErrTruncated = errors.New("truncated subgraph snapshot")
	// ErrUnknownField is returned when a subgraph snapshot contains an unexpected field.
	ErrUnknownField = errors.New("unknown field in subgraph snapshot")
)
