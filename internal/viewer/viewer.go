// Package viewer implements the status viewer: a cursor over grouped estados
// with a progress timer that auto-advances while playing.
//
// States are Closed, Playing and Paused. Advancing past the last estado of the
// last group closes the viewer; going back from the very first estado does nothing.
package viewer

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"estados/internal/domain/status"
)

var (
	ErrClosed     = errors.New("viewer is closed")
	ErrOutOfRange = errors.New("index out of range")
)

type Config struct {
	// Tick is the progress timer interval.
	Tick time.Duration
	// AutoPlay is how long one estado plays before advancing.
	AutoPlay time.Duration
}

func DefaultConfig() Config {
	return Config{Tick: 50 * time.Millisecond, AutoPlay: 5 * time.Second}
}

type Key string

const (
	KeyLeft   Key = "ArrowLeft"
	KeyRight  Key = "ArrowRight"
	KeySpace  Key = "Space"
	KeyEscape Key = "Escape"
)

// ParseKey accepts DOM key names and short aliases.
func ParseKey(s string) (Key, bool) {
	if s == " " {
		return KeySpace, true
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arrowleft", "left":
		return KeyLeft, true
	case "arrowright", "right":
		return KeyRight, true
	case "space", "spacebar":
		return KeySpace, true
	case "escape", "esc":
		return KeyEscape, true
	}
	return "", false
}

// State is a point-in-time copy of the viewer.
type State struct {
	Open          bool                    `json:"open"`
	Paused        bool                    `json:"paused"`
	UserIndex     int                     `json:"user_index"`
	StatusIndex   int                     `json:"status_index"`
	Progress      float64                 `json:"progress"`
	CurrentGroup  *status.UserStatusGroup `json:"current_group,omitempty"`
	CurrentStatus *status.Status          `json:"current_status,omitempty"`
}

type Viewer struct {
	mu     sync.Mutex
	groups []status.UserStatusGroup

	open      bool
	paused    bool
	userIdx   int
	statusIdx int
	progress  float64
	lastTick  time.Time

	gen    uint64
	ticker *clock.Ticker
	stop   chan struct{}

	cfg      Config
	clock    clock.Clock
	onView   func(status.Status)
	onChange func(State)
	observer uint64

	// notify serializes callbacks so observers see changes in order.
	notify sync.Mutex
}

// New creates a closed viewer. onView is called for every estado the viewer
// lands on and may be nil.
func New(cfg Config, clk clock.Clock, onView func(status.Status)) *Viewer {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	if cfg.AutoPlay <= 0 {
		cfg.AutoPlay = DefaultConfig().AutoPlay
	}
	return &Viewer{cfg: cfg, clock: clk, onView: onView}
}

// OnChange replaces the observer called after every state change. Callbacks
// run outside the viewer lock but must not call back into the viewer.
//
// The returned release func removes fn only while it is still the current
// observer and reports whether it was.
func (v *Viewer) OnChange(fn func(State)) (release func() bool) {
	v.mu.Lock()
	v.observer++
	id := v.observer
	v.onChange = fn
	v.mu.Unlock()

	return func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.observer != id {
			return false
		}
		v.observer++
		v.onChange = nil
		return true
	}
}

// SetGroups replaces the group list. An open viewer follows its author and
// estado to their new position. When the estado is gone the cursor stays at
// the same index within the author's group, clamped to its last estado, and
// lands there. The viewer closes when the author's group is gone.
func (v *Viewer) SetGroups(groups []status.UserStatusGroup) {
	kept := make([]status.UserStatusGroup, 0, len(groups))
	for _, g := range groups {
		if len(g.Statuses) > 0 {
			kept = append(kept, g)
		}
	}

	v.mu.Lock()
	if !v.open {
		v.groups = kept
		v.mu.Unlock()
		return
	}
	current := v.groups[v.userIdx].Statuses[v.statusIdx]
	v.groups = kept

	userIdx := -1
	for i, g := range kept {
		if g.AuthorID == current.AuthorID {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		v.closeLocked()
		v.commit(nil)
		return
	}
	v.userIdx = userIdx

	statuses := kept[userIdx].Statuses
	for i, s := range statuses {
		if s.ID == current.ID {
			v.statusIdx = i
			v.commit(nil)
			return
		}
	}
	if v.statusIdx >= len(statuses) {
		v.statusIdx = len(statuses) - 1
	}
	v.resetProgressLocked()
	v.commit(v.currentLocked())
}

// Open starts playing group userIdx at statusIdx.
func (v *Viewer) Open(userIdx, statusIdx int) error {
	v.mu.Lock()
	if userIdx < 0 || userIdx >= len(v.groups) {
		v.mu.Unlock()
		return ErrOutOfRange
	}
	if statusIdx < 0 || statusIdx >= len(v.groups[userIdx].Statuses) {
		v.mu.Unlock()
		return ErrOutOfRange
	}
	v.open = true
	v.paused = false
	v.userIdx, v.statusIdx = userIdx, statusIdx
	v.resetProgressLocked()
	v.startLocked()
	v.commit(v.currentLocked())
	return nil
}

// Close stops the timer and resets the cursor.
func (v *Viewer) Close() {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return
	}
	v.closeLocked()
	v.commit(nil)
}

// TogglePause pauses or resumes, keeping progress.
func (v *Viewer) TogglePause() error {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.paused {
		v.paused = false
		v.lastTick = v.clock.Now()
		v.startLocked()
	} else {
		v.paused = true
		v.stopLocked()
	}
	v.commit(nil)
	return nil
}

// Next moves to the next estado, the next group, or closes at the end.
func (v *Viewer) Next() error {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return ErrClosed
	}
	v.commit(v.advanceLocked())
	return nil
}

// Prev moves back one estado, into the previous group's last estado, or
// stays put at the very beginning.
func (v *Viewer) Prev() error {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return ErrClosed
	}
	switch {
	case v.statusIdx > 0:
		v.statusIdx--
	case v.userIdx > 0:
		v.userIdx--
		v.statusIdx = len(v.groups[v.userIdx].Statuses) - 1
	default:
		v.mu.Unlock()
		return nil
	}
	v.resetProgressLocked()
	v.commit(v.currentLocked())
	return nil
}

// GoTo jumps to index within the current group.
func (v *Viewer) GoTo(index int) error {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return ErrClosed
	}
	if index < 0 || index >= len(v.groups[v.userIdx].Statuses) {
		v.mu.Unlock()
		return ErrOutOfRange
	}
	v.statusIdx = index
	v.resetProgressLocked()
	v.commit(v.currentLocked())
	return nil
}

// HandleKey maps keyboard input to transitions. Keys are ignored while closed.
func (v *Viewer) HandleKey(k Key) error {
	if !v.Snapshot().Open {
		return nil
	}
	switch k {
	case KeyLeft:
		return v.Prev()
	case KeyRight:
		return v.Next()
	case KeySpace:
		return v.TogglePause()
	case KeyEscape:
		v.Close()
	}
	return nil
}

func (v *Viewer) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *Viewer) stateLocked() State {
	st := State{
		Open:        v.open,
		Paused:      v.paused,
		UserIndex:   v.userIdx,
		StatusIndex: v.statusIdx,
		Progress:    v.progress,
	}
	if v.open {
		g := v.groups[v.userIdx]
		s := g.Statuses[v.statusIdx]
		st.CurrentGroup = &g
		st.CurrentStatus = &s
	}
	return st
}

func (v *Viewer) currentLocked() *status.Status {
	s := v.groups[v.userIdx].Statuses[v.statusIdx]
	return &s
}

// advanceLocked returns the estado landed on, or nil when the viewer closed.
func (v *Viewer) advanceLocked() *status.Status {
	switch {
	case v.statusIdx+1 < len(v.groups[v.userIdx].Statuses):
		v.statusIdx++
	case v.userIdx+1 < len(v.groups):
		v.userIdx++
		v.statusIdx = 0
	default:
		v.closeLocked()
		return nil
	}
	v.resetProgressLocked()
	return v.currentLocked()
}

func (v *Viewer) resetProgressLocked() {
	v.progress = 0
	v.lastTick = v.clock.Now()
}

func (v *Viewer) closeLocked() {
	v.stopLocked()
	v.open = false
	v.paused = false
	v.userIdx, v.statusIdx = 0, 0
	v.progress = 0
}

// startLocked replaces any running timer with a new one.
func (v *Viewer) startLocked() {
	v.stopLocked()
	v.gen++
	gen := v.gen
	ticker := v.clock.Ticker(v.cfg.Tick)
	stop := make(chan struct{})
	v.ticker, v.stop = ticker, stop
	go v.run(gen, ticker, stop)
}

func (v *Viewer) stopLocked() {
	if v.ticker == nil {
		return
	}
	v.ticker.Stop()
	close(v.stop)
	v.ticker, v.stop = nil, nil
}

func (v *Viewer) run(gen uint64, ticker *clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			v.tick(gen)
		}
	}
}

func (v *Viewer) tick(gen uint64) {
	v.mu.Lock()
	if gen != v.gen || !v.open || v.paused {
		v.mu.Unlock()
		return
	}
	now := v.clock.Now()
	elapsed := now.Sub(v.lastTick)
	v.lastTick = now
	v.progress += 100 * float64(elapsed) / float64(v.cfg.AutoPlay)
	if v.progress < 100 {
		v.commit(nil)
		return
	}
	v.commit(v.advanceLocked())
}

// commit releases v.mu and then runs callbacks for the change.
func (v *Viewer) commit(landed *status.Status) {
	st := v.stateLocked()
	onChange, onView := v.onChange, v.onView

	v.notify.Lock()
	v.mu.Unlock()
	defer v.notify.Unlock()

	if landed != nil && onView != nil {
		onView(*landed)
	}
	if onChange != nil {
		onChange(st)
	}
}
