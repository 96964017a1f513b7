// Package cursor drives hardware cursor planes. Every CRTC gets its own
// worker that owns the plane, the GPU backend and the framebuffers; callers
// only post requests and return without waiting for the display, except for
// the first visible image of an output.
package cursor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/drmcursor/internal/commit"
	"github.com/bnema/drmcursor/internal/config"
	"github.com/bnema/drmcursor/internal/display"
	"github.com/bnema/drmcursor/internal/gpu"
	"github.com/bnema/drmcursor/internal/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sourcegraph/conc"
)

// BackendFactory creates the converter of an output on first use.
type BackendFactory func(opts gpu.Options) (gpu.Converter, error)

// Option configures a Manager.
type Option func(*Manager)

// WithBackend replaces the configured GPU backend.
func WithBackend(f BackendFactory) Option {
	return func(m *Manager) {
		m.newConverter = f
	}
}

// Manager routes cursor requests to the output workers.
type Manager struct {
	ctx    *display.Context
	dev    display.Device
	cfg    *config.Config
	commit *commit.Committer

	// plane id -> CRTC id holding it
	claims  *xsync.MapOf[uint32, uint32]
	outputs []*Output

	newConverter BackendFactory

	workers conc.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc

	life   sync.RWMutex
	closed bool
}

// NewManager creates one output per discovered CRTC. Workers start on the
// first request for their output.
func NewManager(dc *display.Context, opts ...Option) *Manager {
	m := &Manager{
		ctx:    dc,
		dev:    dc.Device,
		cfg:    dc.Config,
		commit: commit.New(dc.Device, dc.Config.Atomic),
		claims: xsync.NewMapOf[uint32, uint32](),
	}
	m.newConverter = func(o gpu.Options) (gpu.Converter, error) {
		return gpu.New(m.cfg.Backend, m.dev, o)
	}
	m.runCtx, m.cancel = context.WithCancel(context.Background())

	interval := m.cfg.MinInterval()
	for _, c := range dc.CRTCs {
		m.outputs = append(m.outputs, newOutput(c, interval))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lookup resolves crtcID to an output. 0 picks the first connected output
// that is not blocked.
func (m *Manager) lookup(crtcID uint32) (*Output, error) {
	for _, o := range m.outputs {
		if crtcID == 0 {
			if _, _, ok := m.refresh(o); !ok {
				continue
			}
		} else if o.ID != crtcID {
			continue
		}
		if o.Blocked {
			continue
		}
		return o, nil
	}
	return nil, fmt.Errorf("crtc %d: %w", crtcID, ErrUnavailable)
}

// ready makes sure o has a plane and a running worker.
func (m *Manager) ready(o *Output) error {
	o.mu.Lock()
	state, width, height := o.state, o.width, o.height
	o.mu.Unlock()
	if state == StateError {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.failure()
	}

	if width <= 0 || height <= 0 {
		m.refresh(o)
	}
	return m.prepare(o)
}

// SetCursor shows the width×height ARGB8888 buffer handle on crtcID. A zero
// handle hides the cursor. The first visible image of an output is waited
// for; later ones are not.
func (m *Manager) SetCursor(crtcID, handle uint32, width, height int) error {
	if m.cfg.Hide {
		return nil
	}

	o, err := m.lookup(crtcID)
	if err != nil {
		return err
	}
	if err := m.ready(o); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateError {
		return o.failure()
	}

	o.next.Pending |= RequestSet
	o.next.FB = 0
	o.next.Handle = handle
	o.next.Width = width
	o.next.Height = height
	o.state = StatePending
	o.posted++
	o.cond.Broadcast()

	for handle != 0 && !o.verified && o.state != StateError {
		o.cond.Wait()
	}
	if o.state == StateError {
		return o.failure()
	}
	return nil
}

// MoveCursor moves the cursor of crtcID so its top-left corner is at
// (x, y). Coordinates may lie outside the screen.
func (m *Manager) MoveCursor(crtcID uint32, x, y int) error {
	if m.cfg.Hide {
		return nil
	}

	o, err := m.lookup(crtcID)
	if err != nil {
		return err
	}
	if err := m.ready(o); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateError {
		return o.failure()
	}
	if o.width <= 0 || o.height <= 0 {
		return fmt.Errorf("crtc %d: %w", o.ID, ErrNoResolution)
	}

	o.next.Pending |= RequestMove
	o.next.FB = 0
	o.next.X = x
	o.next.Y = y
	o.state = StatePending
	o.posted++
	o.cond.Broadcast()
	return nil
}

// Close stops every worker. The planes are disabled and released.
func (m *Manager) Close() error {
	m.life.Lock()
	if m.closed {
		m.life.Unlock()
		return nil
	}
	m.closed = true
	m.life.Unlock()

	m.cancel()
	for _, o := range m.outputs {
		o.mu.Lock()
		o.closing = true
		o.cond.Broadcast()
		o.mu.Unlock()
	}
	m.workers.Wait()

	atomicCommits, legacyCommits := m.commit.Counts()
	logger.Info("cursor manager closed", "atomic_commits", atomicCommits, "legacy_commits", legacyCommits)
	return nil
}

// OutputStatus is a snapshot of one output.
type OutputStatus struct {
	CrtcID       uint32
	Pipe         int
	Blocked      bool
	Plane        uint32
	NativeCursor bool
	AFBC         bool
	Async        bool
	State        WorkerState
	Verified     bool
	ScreenWidth  int
	ScreenHeight int
	Cursor       State
	Commits      uint64
	Converts     uint64
	LastCommit   time.Time
	Err          error
}

// Status is a snapshot of the manager.
type Status struct {
	Outputs        []OutputStatus
	AtomicDisabled bool
	AtomicCommits  uint64
	LegacyCommits  uint64
}

// Status returns the state of every output.
func (m *Manager) Status() Status {
	st := Status{AtomicDisabled: m.commit.AtomicDisabled()}
	st.AtomicCommits, st.LegacyCommits = m.commit.Counts()

	for _, o := range m.outputs {
		o.mu.Lock()
		out := OutputStatus{
			CrtcID:       o.ID,
			Pipe:         o.Pipe,
			Blocked:      o.Blocked,
			Plane:        o.info.id,
			NativeCursor: o.info.nativeCursor,
			AFBC:         o.info.afbc,
			Async:        o.info.async,
			State:        o.state,
			Verified:     o.verified,
			ScreenWidth:  o.width,
			ScreenHeight: o.height,
			Cursor:       o.shown,
			Err:          o.err,
		}
		o.mu.Unlock()

		out.Commits = o.commits.Load()
		out.Converts = o.converts.Load()
		if ns := o.lastCommit.Load(); ns != 0 {
			out.LastCommit = time.Unix(0, ns)
		}
		st.Outputs = append(st.Outputs, out)
	}
	return st
}
