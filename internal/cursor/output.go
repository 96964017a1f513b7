package cursor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/drmcursor/internal/commit"
	"github.com/bnema/drmcursor/internal/display"
	"github.com/bnema/drmcursor/internal/drm"
	"github.com/bnema/drmcursor/internal/gpu"
	"github.com/bnema/drmcursor/internal/logger"
	"github.com/bnema/drmcursor/internal/plane"
	"golang.org/x/time/rate"
)

// Output is the cursor of one CRTC. Callers hand requests to its worker
// through next; everything the worker owns is only touched on its
// goroutine.
type Output struct {
	ID          uint32
	Pipe        int
	PreferPlane uint32
	Blocked     bool

	bindMu     sync.Mutex
	prepared   bool
	prepareErr error

	// set before the worker starts
	plane        *plane.Plane
	nativeCursor bool
	afbc         bool

	mu       sync.Mutex
	cond     *sync.Cond
	state    WorkerState
	next     State
	verified bool
	// requests posted and requests the worker has finished
	posted   uint64
	drained  uint64
	width    int
	height   int
	closing  bool
	err      error
	info     planeInfo
	shown    State

	// worker owned
	curr    State
	async   bool
	conv    gpu.Converter
	limiter *rate.Limiter

	commits    atomic.Uint64
	converts   atomic.Uint64
	lastCommit atomic.Int64
}

type planeInfo struct {
	id           uint32
	nativeCursor bool
	afbc         bool
	async        bool
}

func newOutput(c display.CRTC, interval time.Duration) *Output {
	o := &Output{
		ID:          c.ID,
		Pipe:        c.Pipe,
		PreferPlane: c.PreferPlane,
		Blocked:     c.Blocked,
		width:       c.Width,
		height:      c.Height,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// failure returns the error that put o in the error state.
func (o *Output) failure() error {
	if o.err != nil {
		return o.err
	}
	return fmt.Errorf("crtc %d: %w", o.ID, ErrOutputFailed)
}

func (o *Output) target() commit.Target {
	return commit.Target{CrtcID: o.ID, Plane: o.plane, Legacy: o.nativeCursor || o.async}
}

// refresh re-reads the live resolution. It reports false when the CRTC is
// gone or has no mode.
func (m *Manager) refresh(o *Output) (int, int, bool) {
	var w, h int
	c, err := m.dev.Crtc(o.ID)
	if err == nil && c.ModeValid {
		w, h = c.Width, c.Height
	}

	o.mu.Lock()
	o.width, o.height = w, h
	o.mu.Unlock()
	return w, h, w > 0 && h > 0
}

// run is the worker loop of one output.
func (m *Manager) run(o *Output) {
	// the EGL context is bound to the thread that created it
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := m.setupPlane(o); err != nil {
		m.fail(o, err)
		return
	}

	for {
		o.mu.Lock()
		for o.state != StatePending && !o.closing {
			o.cond.Wait()
		}
		closing := o.closing
		o.mu.Unlock()

		// requests arriving during the wait are coalesced
		if closing || o.limiter.Wait(m.runCtx) != nil {
			m.shutdown(o)
			return
		}

		o.mu.Lock()
		s, seq := o.next, o.posted
		o.next.Pending = 0
		o.state = StateIdle
		o.mu.Unlock()

		if err := m.apply(o, s); err != nil {
			m.fail(o, err)
			return
		}

		o.mu.Lock()
		o.shown = o.curr
		o.drained = seq
		if !o.verified && o.curr.FB != 0 {
			o.verified = true
			logger.Debug("cursor verified", "crtc", o.ID, "fb", o.curr.FB)
		}
		o.cond.Broadcast()
		o.mu.Unlock()
	}
}

// setupPlane raises an overlay above everything else and negotiates async
// commits where the driver offers them.
func (m *Manager) setupPlane(o *Output) error {
	if !o.nativeCursor {
		if err := m.dev.SetClientCap(drm.ClientCapAtomic, 1); err != nil {
			logger.Warn("atomic capability unavailable", "crtc", o.ID, "error", err)
		}
		if err := o.plane.Refresh(); err != nil {
			return err
		}
		if err := o.plane.SetMax(plane.PropZpos); err != nil {
			logger.Debug("zpos not set", "plane", o.plane.ID, "error", err)
		}
		if err := o.plane.SetMax(plane.PropZposUpper); err != nil {
			logger.Debug("ZPOS not set", "plane", o.plane.ID, "error", err)
		}
		o.async = o.plane.SetMax(plane.PropAsyncCommit) == nil
		if o.async {
			logger.Info("using async commit", "crtc", o.ID)
		}
	}

	o.mu.Lock()
	o.info.async = o.async
	o.mu.Unlock()
	return nil
}

// apply carries out one drained request.
func (m *Manager) apply(o *Output, s State) error {
	w, h, ok := m.refresh(o)
	if !ok {
		logger.Debug("CRTC disconnected", "crtc", o.ID)
		if err := m.disable(o); err != nil {
			logger.Debug("disable on disconnected CRTC", "crtc", o.ID, "error", err)
		}
		o.curr = s
		o.curr.FB = 0
		return nil
	}
	s.clip(w, h)

	if s.Pending&RequestSet != 0 {
		s.Pending &^= RequestSet

		if s.Handle == 0 {
			if err := m.disable(o); err != nil {
				logger.Warn("disable cursor", "crtc", o.ID, "error", err)
			}
			// a coalesced move only records the position
			o.curr = s
			return nil
		}

		fb, err := m.convert(o, s)
		if err != nil {
			return err
		}
		s.FB = fb
		// the new image is placed at the latest position, which covers a
		// coalesced move
		s.Pending &^= RequestMove
		return m.update(o, s)
	}

	if s.Pending&RequestMove != 0 {
		s.Pending &^= RequestMove

		if o.curr.Handle == 0 {
			o.curr = s
			return nil
		}

		if s.OffX != o.curr.OffX || s.OffY != o.curr.OffY {
			fb, err := m.convert(o, s)
			if err != nil {
				return err
			}
			s.FB = fb
		} else {
			s.FB = o.curr.FB
		}
		return m.update(o, s)
	}
	return nil
}

func (m *Manager) convert(o *Output, s State) (uint32, error) {
	if o.conv == nil {
		format, modifier := gpu.Layout(o.afbc)
		conv, err := m.newConverter(gpu.Options{
			NumSurfaces: m.cfg.NumSurfaces,
			Width:       s.Width,
			Height:      s.Height,
			Format:      format,
			Modifier:    modifier,
		})
		if err != nil {
			return 0, fmt.Errorf("crtc %d backend: %w", o.ID, err)
		}
		o.conv = conv
	}

	fb, err := o.conv.Convert(s.Handle, s.Width, s.Height, s.OffX, s.OffY)
	if err != nil {
		return 0, fmt.Errorf("crtc %d convert handle %d: %w", o.ID, s.Handle, err)
	}
	o.converts.Add(1)
	return fb, nil
}

// update shows s and releases the framebuffer it replaces.
func (m *Manager) update(o *Output, s State) error {
	if s.sameDisplay(&o.curr) {
		o.curr = s
		return nil
	}

	old := o.curr.FB
	x, y := s.planePos()
	err := m.commit.Commit(o.target(), s.FB, x, y, s.Width, s.Height)
	if old != 0 && old != s.FB {
		m.removeFB(old)
	}
	o.curr = s
	if err != nil {
		return fmt.Errorf("crtc %d commit: %w", o.ID, err)
	}
	o.commits.Add(1)
	o.lastCommit.Store(time.Now().UnixNano())
	return nil
}

// disable hides the plane and forgets the current cursor.
func (m *Manager) disable(o *Output) error {
	old := o.curr.FB
	o.curr = State{}
	if o.plane == nil {
		return nil
	}

	err := m.commit.Commit(o.target(), 0, 0, 0, 0, 0)
	if old != 0 {
		m.removeFB(old)
	}
	if err == nil {
		o.commits.Add(1)
	}
	return err
}

func (m *Manager) removeFB(fb uint32) {
	if err := m.dev.RmFB(fb); err != nil {
		logger.Debug("remove framebuffer", "fb", fb, "error", err)
	}
}

// teardown releases everything the worker holds.
func (m *Manager) teardown(o *Output) {
	if o.conv != nil {
		if err := o.conv.Close(); err != nil {
			logger.Debug("close backend", "crtc", o.ID, "error", err)
		}
		o.conv = nil
	}
	if err := m.disable(o); err != nil {
		logger.Debug("disable cursor", "crtc", o.ID, "error", err)
	}
	if o.plane != nil {
		m.claims.Delete(o.plane.ID)
	}
}

// fail moves o to the error state for good.
func (m *Manager) fail(o *Output, cause error) {
	logger.Error("cursor output failed", "crtc", o.ID, "error", cause)
	m.teardown(o)

	o.mu.Lock()
	o.state = StateError
	o.err = fmt.Errorf("crtc %d: %w: %w", o.ID, ErrOutputFailed, cause)
	o.shown = State{}
	o.cond.Broadcast()
	o.mu.Unlock()
}

func (m *Manager) shutdown(o *Output) {
	m.teardown(o)

	o.mu.Lock()
	o.state = StateError
	o.err = ErrClosed
	o.shown = State{}
	o.cond.Broadcast()
	o.mu.Unlock()
	logger.Debug("cursor worker stopped", "crtc", o.ID)
}
