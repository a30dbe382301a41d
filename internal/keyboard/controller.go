package keyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vkbd/internal/anim"
	"vkbd/internal/keys"
)

// Default timings.
const (
	DefaultTransition       = 200 * time.Millisecond
	DefaultCallTimeout      = 5 * time.Second
	DefaultDictationTimeout = 60 * time.Second
	DefaultDictationGrace   = time.Second
	DefaultRetryDelay       = time.Second
)

// Stats counts controller activity since construction.
type Stats struct {
	SessionsShown      uint64
	Submissions        uint64
	Keystrokes         uint64
	DroppedEvents      uint64
	DictationsStarted  uint64
	TranscriptsApplied uint64
	Stalls             uint64
}

// sessionCounters track the session currently on screen.
type sessionCounters struct {
	shownAt    time.Time
	keystrokes int
	backspaces int
	dictations int
}

// Controller owns the keyboard session state and mediates with the host.
//
// All state changes go through applyTransition, which notifies observers
// with a snapshot once the lock is released. Input arriving while no
// session is shown is dropped and reported as ErrNotShown.
type Controller struct {
	host     Host
	logger   *slog.Logger
	now      func() time.Time
	recorder Recorder

	transition       time.Duration
	callTimeout      time.Duration
	showTimeout      time.Duration
	dictationTimeout time.Duration
	dictationGrace   time.Duration
	retryDelay       time.Duration

	mu        sync.Mutex
	state     State
	defaults  Settings
	vis       *anim.Tween
	session   sessionCounters
	dictGen   uint64
	dict      *dictation
	stats     Stats
	observers map[int]func(State)
	nextObs   int
	seq       uint64
	closed    bool

	// notifyMu orders observer calls; notified is the seq last delivered.
	notifyMu sync.Mutex
	notified uint64

	awaiting  atomic.Bool
	submitted chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithClock replaces time.Now, for driving the visibility animation in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithDefaults sets the settings used for fields a session leaves out.
func WithDefaults(s Settings) Option {
	return func(c *Controller) { c.defaults = s }
}

// WithTransition sets the show/hide animation duration.
func WithTransition(d time.Duration) Option {
	return func(c *Controller) { c.transition = d }
}

// WithCallTimeout bounds EndInput.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Controller) { c.callTimeout = d }
}

// WithShowTimeout bounds WaitForShow. Zero waits forever.
func WithShowTimeout(d time.Duration) Option {
	return func(c *Controller) { c.showTimeout = d }
}

// WithDictationTimeout bounds a dictation request.
func WithDictationTimeout(d time.Duration) Option {
	return func(c *Controller) { c.dictationTimeout = d }
}

// WithDictationGrace sets how long a released dictation may still deliver
// its transcript before the request is abandoned. Zero abandons it at once.
func WithDictationGrace(d time.Duration) Option {
	return func(c *Controller) { c.dictationGrace = d }
}

// WithRetryDelay sets how long Run backs off after a failed wait.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Controller) { c.retryDelay = d }
}

// WithRecorder receives a record of every submitted session.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// New creates a controller bound to host. Nothing is shown until the host
// announces a session through Run or AwaitSession.
func New(host Host, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		host:             host,
		logger:           slog.Default().With("component", "keyboard"),
		now:              time.Now,
		transition:       DefaultTransition,
		callTimeout:      DefaultCallTimeout,
		dictationTimeout: DefaultDictationTimeout,
		dictationGrace:   DefaultDictationGrace,
		retryDelay:       DefaultRetryDelay,
		defaults:         DefaultSettings(),
		vis:              anim.NewTween(0),
		observers:        make(map[int]func(State)),
		submitted:        make(chan struct{}, 1),
		ctx:              ctx,
		cancel:           cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = initialState(c.defaults)
	return c
}

// Close cancels outstanding dictation requests and waits for them.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Stats returns activity counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SetDefaults replaces the defaults. The session on screen keeps its
// settings; the next session uses the new ones.
func (c *Controller) SetDefaults(s Settings) {
	c.mu.Lock()
	c.defaults = s
	c.mu.Unlock()
}

// OnChange registers fn to be called with a snapshot after every state
// change. Calls are serialized and never go back in time: when changes
// race, a snapshot older than one already delivered is skipped. fn must
// not change the controller state itself. The returned function removes
// the observer.
func (c *Controller) OnChange(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	now := c.now()
	s.Visibility = c.vis.Value(now)
	s.Animating = !c.vis.Done(now)
	return s
}

// applyTransition runs patch under the state lock. When patch reports a
// change, observers are notified with the resulting snapshot.
func (c *Controller) applyTransition(patch func(s *State) bool) bool {
	c.mu.Lock()
	if !patch(&c.state) {
		c.mu.Unlock()
		return false
	}
	c.seq++
	seq := c.seq
	snap := c.snapshotLocked()
	observers := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		observers = append(observers, fn)
	}
	c.mu.Unlock()

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq < c.notified {
		return true
	}
	c.notified = seq
	for _, fn := range observers {
		fn(snap)
	}
	return true
}

// input applies patch when the phase accepts input and drops it otherwise.
func (c *Controller) input(op string, patch func(s *State)) error {
	var phase Phase
	applied := c.applyTransition(func(s *State) bool {
		phase = s.Phase
		if !phase.AcceptsInput() {
			c.stats.DroppedEvents++
			return false
		}
		patch(s)
		return true
	})
	if !applied {
		c.logger.Debug("input dropped", "op", op, "phase", phase.String())
		return ErrNotShown
	}
	return nil
}

// change is the single path through which the value is replaced.
func (c *Controller) change(s *State, value string) {
	withValue(s, value)
}

// HandleKeyInput applies one typed key. BackspaceKey deletes the last
// character; every other key is appended.
func (c *Controller) HandleKeyInput(key string) error {
	return c.input("key", func(s *State) {
		if key == BackspaceKey {
			c.session.backspaces++
		} else {
			c.session.keystrokes++
		}
		c.stats.Keystrokes++
		c.change(s, typeKey(s.Value, key))
	})
}

// HandleChange replaces the value. It is used for dictation transcripts
// and direct edits of the text line.
func (c *Controller) HandleChange(value string) error {
	return c.input("change", func(s *State) {
		c.change(s, value)
	})
}

// ToggleShift flips shift.
func (c *Controller) ToggleShift() error {
	return c.input("toggle_shift", func(s *State) {
		s.ShiftActive = !s.ShiftActive
	})
}

// ToggleNumeric flips the numeric layout.
func (c *Controller) ToggleNumeric() error {
	return c.input("toggle_numeric", func(s *State) {
		s.NumericMode = !s.NumericMode
	})
}

// ToggleEmoji flips the emoji picker.
func (c *Controller) ToggleEmoji() error {
	return c.input("toggle_emoji", func(s *State) {
		s.EmojiMode = !s.EmojiMode
	})
}

// Dispatch routes a logical event to the matching operation.
func (c *Controller) Dispatch(ctx context.Context, ev keys.Event) error {
	switch ev.Kind {
	case keys.Char:
		return c.HandleKeyInput(ev.Text)
	case keys.Backspace:
		return c.HandleKeyInput(BackspaceKey)
	case keys.Change:
		return c.HandleChange(ev.Text)
	case keys.ToggleShift:
		return c.ToggleShift()
	case keys.ToggleNumeric:
		return c.ToggleNumeric()
	case keys.ToggleEmoji:
		return c.ToggleEmoji()
	case keys.DictationStart:
		return c.StartDictation()
	case keys.DictationEnd:
		c.EndDictation()
		return nil
	case keys.Submit:
		return c.Submit(ctx)
	default:
		return fmt.Errorf("keyboard: unknown event %v", ev.Kind)
	}
}

// AwaitSession waits for the host to announce a session and shows it:
// the configuration is merged with the defaults, the value is set to the
// initial value, shift is on when that is empty, display modes are reset
// and the keyboard fades in. Only one AwaitSession may wait at a time.
func (c *Controller) AwaitSession(ctx context.Context) (Settings, error) {
	if !c.awaiting.CompareAndSwap(false, true) {
		return Settings{}, ErrAwaitInFlight
	}
	defer c.awaiting.Store(false)

	var cfg SessionConfig
	err := c.bounded(ctx, c.showTimeout, "wait for show", func(ctx context.Context) error {
		var err error
		cfg, err = c.host.WaitForShow(ctx)
		return err
	})
	if err != nil {
		return Settings{}, err
	}

	available := c.host.DictationAvailable()
	id := uuid.NewString()

	var settings Settings
	c.applyTransition(func(s *State) bool {
		settings = Merge(c.defaults, cfg)
		*s = State{
			SessionID:          id,
			Phase:              PhaseShown,
			Settings:           settings,
			DictationAvailable: available,
		}
		c.change(s, settings.InitialValue)
		now := c.now()
		c.vis.Start(1, c.transition, now)
		c.session = sessionCounters{shownAt: now}
		// Transcripts still in flight belong to the previous session.
		c.dictGen++
		c.stats.SessionsShown++
		return true
	})

	c.logger.Info("session shown",
		"session", id,
		"prefilled", settings.InitialValue != "",
		"dictation_available", available,
	)
	return settings, nil
}

// Submit hands the current value to the host. Once the host accepts it
// the keyboard fades out and Run goes back to waiting for the next
// session. The value and modes are left as they are until that session
// replaces them. On failure the session stays on screen.
func (c *Controller) Submit(ctx context.Context) error {
	var (
		value   string
		session string
		err     error
	)
	c.applyTransition(func(s *State) bool {
		switch s.Phase {
		case PhaseShown:
		case PhaseSubmitting:
			err = ErrSubmitInFlight
			return false
		default:
			c.stats.DroppedEvents++
			err = ErrNotShown
			return false
		}
		s.Phase = PhaseSubmitting
		value = s.Value
		session = s.SessionID
		return true
	})
	if err != nil {
		c.logger.Debug("submit rejected", "error", err)
		return err
	}

	var arg *string
	if value != "" {
		arg = &value
	}
	err = c.bounded(ctx, c.callTimeout, "end input", func(ctx context.Context) error {
		return c.host.EndInput(ctx, arg)
	})
	if err != nil {
		c.applyTransition(func(s *State) bool {
			if s.Phase != PhaseSubmitting || s.SessionID != session {
				return false
			}
			s.Phase = PhaseShown
			return true
		})
		c.logger.Warn("submit failed", "session", session, "error", err)
		return err
	}

	var rec SessionRecord
	c.applyTransition(func(s *State) bool {
		s.Phase = PhaseHidden
		now := c.now()
		c.vis.Start(0, c.transition, now)
		c.stats.Submissions++
		rec = SessionRecord{
			ID:          session,
			ShownAt:     c.session.shownAt,
			SubmittedAt: now,
			Settings:    s.Settings,
			Value:       value,
			Keystrokes:  c.session.keystrokes,
			Backspaces:  c.session.backspaces,
			Dictations:  c.session.dictations,
		}
		return true
	})

	select {
	case c.submitted <- struct{}{}:
	default:
	}

	c.logger.Info("session submitted", "session", session, "length", len(value))
	if c.recorder != nil {
		if err := c.recorder.RecordSession(ctx, rec); err != nil {
			c.logger.Warn("record session failed", "session", session, "error", err)
		}
	}
	return nil
}

// Run drives the show/submit cycle until ctx is done or the host closes:
// wait for a session, wait for it to be submitted, repeat. Stalls and
// transient host errors are logged and retried.
func (c *Controller) Run(ctx context.Context) error {
	for {
		// A submit can only complete while a session is shown, so anything
		// left here is stale.
		select {
		case <-c.submitted:
		default:
		}

		if _, err := c.AwaitSession(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrHostClosed) || errors.Is(err, ErrAwaitInFlight) {
				return err
			}
			c.logger.Warn("waiting for session failed", "error", err)
			if !sleepCtx(ctx, c.retryDelay) {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.submitted:
		}
	}
}

// bounded runs fn with timeout applied on top of parent. A call that runs
// out of time while parent is still live is reported as ErrSessionStalled.
func (c *Controller) bounded(parent context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.mu.Lock()
		c.stats.Stalls++
		c.mu.Unlock()
		return fmt.Errorf("%s after %s: %w", op, timeout, ErrSessionStalled)
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
