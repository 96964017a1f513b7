package cursor

import (
	"errors"
	"strings"
)

var (
	// ErrUnavailable means the output is unknown or administratively blocked.
	ErrUnavailable = errors.New("output not available")
	// ErrOutputFailed means the output hit an unrecoverable error earlier.
	ErrOutputFailed = errors.New("output failed")
	// ErrNoPlane means no plane could be bound to the output.
	ErrNoPlane = errors.New("no usable plane")
	// ErrNoResolution means the output has no active mode yet.
	ErrNoResolution = errors.New("output has no resolution")
	// ErrClosed is returned after Manager.Close.
	ErrClosed = errors.New("cursor manager closed")
)

// Request is a set of pending cursor operations. Requests arriving before
// the worker drains them are OR-ed together.
type Request uint8

const (
	RequestSet Request = 1 << iota
	RequestMove
)

func (r Request) String() string {
	var parts []string
	if r&RequestSet != 0 {
		parts = append(parts, "set")
	}
	if r&RequestMove != 0 {
		parts = append(parts, "move")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// State is a cursor configuration. Handle is the client buffer, FB the
// framebuffer derived from it.
type State struct {
	Handle  uint32
	FB      uint32
	Width   int
	Height  int
	X       int
	Y       int
	OffX    int
	OffY    int
	Pending Request
}

// clip computes the offsets that keep a width×height cursor at (X, Y)
// inside a crtcW×crtcH screen.
func (s *State) clip(crtcW, crtcH int) {
	maxX := crtcW - s.Width
	maxY := crtcH - s.Height

	s.OffX, s.OffY = 0, 0
	if s.X < 0 {
		s.OffX = s.X
	}
	if s.Y < 0 {
		s.OffY = s.Y
	}
	if s.X > maxX {
		s.OffX = s.X - maxX
	}
	if s.Y > maxY {
		s.OffY = s.Y - maxY
	}
}

// planePos is where the plane goes once the image has been shifted.
func (s *State) planePos() (int, int) {
	return s.X - s.OffX, s.Y - s.OffY
}

func (s *State) sameDisplay(o *State) bool {
	return s.FB == o.FB && s.X == o.X && s.Y == o.Y && s.OffX == o.OffX && s.OffY == o.OffY
}

// WorkerState is the lifecycle of an output worker.
type WorkerState int

const (
	StateIdle WorkerState = iota
	StatePending
	StateError
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
