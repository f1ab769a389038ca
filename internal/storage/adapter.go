// Package storage defines the host storage adapter the engine writes through,
// plus the default OS filesystem implementation.
//
// The engine never touches the filesystem directly; everything goes through
// an Adapter so a host (editor plugin, test harness) can substitute its own
// storage API.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by ReadFile when no file exists at the path.
var ErrNotFound = errors.New("file not found")

// EventOp is the type of change observed by a watch.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a single file change observed under a watched directory.
type Event struct {
	// Name is the file name relative to the watched directory.
	Name string
	// Op is the operation that occurred.
	Op EventOp
	// At is when the event was observed.
	At time.Time
}

// Adapter is the minimal storage surface the engine requires.
//
// ReadFile returns ErrNotFound (possibly wrapped) when the path does not
// exist. Watch delivers events until Close is called; implementations may
// drop events under sustained bursts, callers must tolerate coalescing.
type Adapter interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	DeleteFile(path string) error
	ListDir(path string) ([]string, error)
	Watch(path string) (<-chan Event, error)
	Close() error
}
