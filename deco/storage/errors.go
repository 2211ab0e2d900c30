package storage

import "fmt"

type Kind string

const (
	KindCorrupt Kind = "corrupt"
	KindIO      Kind = "io"
)

// Error is a registry storage failure. Load errors leave the caller with an empty registry;
// save errors leave the previously stored registry in place.
type Error struct {
	Op   string // load or save
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("registry %s %s (%s): %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
