package keyboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"vkbd/internal/keys"
	"vkbd/internal/layout"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type dictCall struct {
	reply chan dictReply
}

type dictReply struct {
	text string
	err  error
}

// fakeHost is a scriptable Host.
type fakeHost struct {
	shows     chan SessionConfig
	dictCalls chan dictCall
	available bool

	mu       sync.Mutex
	ended    []*string
	endErr   error
	endBlock  chan struct{}
	stops     int
	abandoned int
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		shows:     make(chan SessionConfig, 4),
		dictCalls: make(chan dictCall, 4),
		available: true,
	}
}

func (h *fakeHost) WaitForShow(ctx context.Context) (SessionConfig, error) {
	select {
	case <-ctx.Done():
		return SessionConfig{}, ctx.Err()
	case cfg, ok := <-h.shows:
		if !ok {
			return SessionConfig{}, ErrHostClosed
		}
		return cfg, nil
	}
}

func (h *fakeHost) EndInput(ctx context.Context, value *string) error {
	h.mu.Lock()
	block := h.endBlock
	h.mu.Unlock()
	if block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-block:
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.endErr != nil {
		return h.endErr
	}
	if value != nil {
		v := *value
		value = &v
	}
	h.ended = append(h.ended, value)
	return nil
}

func (h *fakeHost) StartDictation(ctx context.Context) (string, error) {
	call := dictCall{reply: make(chan dictReply)}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case h.dictCalls <- call:
	}
	select {
	case <-ctx.Done():
		h.mu.Lock()
		h.abandoned++
		h.mu.Unlock()
		return "", ctx.Err()
	case r := <-call.reply:
		return r.text, r.err
	}
}

func (h *fakeHost) StopDictation() {
	h.mu.Lock()
	h.stops++
	h.mu.Unlock()
}

func (h *fakeHost) DictationAvailable() bool { return h.available }

func (h *fakeHost) endedValues() []*string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*string(nil), h.ended...)
}

func (h *fakeHost) stopCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stops
}

func (h *fakeHost) abandonedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abandoned
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestController(t *testing.T, h Host, opts ...Option) *Controller {
	t.Helper()
	c := New(h, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func show(t *testing.T, c *Controller, h *fakeHost, cfg SessionConfig) Settings {
	t.Helper()
	h.shows <- cfg
	settings, err := c.AwaitSession(context.Background())
	require.NoError(t, err)
	return settings
}

func nextDictCall(t *testing.T, h *fakeHost) dictCall {
	t.Helper()
	select {
	case call := <-h.dictCalls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("dictation was not requested")
		return dictCall{}
	}
}

func TestNewControllerStartsIdle(t *testing.T) {
	c := newTestController(t, newFakeHost())
	s := c.Snapshot()
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.True(t, s.ShiftActive)
	assert.Equal(t, "", s.Value)
	assert.Equal(t, 0.0, s.Visibility)
	assert.Equal(t, DefaultReturnKeyLabel, s.Settings.ReturnKeyLabel)
}

func TestShiftFollowsValue(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})

	for _, key := range []string{"h", "i", BackspaceKey, BackspaceKey, BackspaceKey, "a", " ", BackspaceKey} {
		require.NoError(t, c.HandleKeyInput(key))
		s := c.Snapshot()
		assert.Equal(t, s.Value == "", s.ShiftActive, "after %q value=%q", key, s.Value)
	}
	assert.Equal(t, "a", c.Snapshot().Value)
}

func TestHandleKeyInput(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		keys    []string
		want    string
	}{
		{"append", "", []string{"a", "b"}, "ab"},
		{"backspace on empty", "", []string{BackspaceKey}, ""},
		{"backspace after typing", "", []string{"a", "b", BackspaceKey}, "a"},
		{"backspace into initial value", "hey", []string{BackspaceKey}, "he"},
		{"backspace removes whole emoji", "ok👍🏽", []string{BackspaceKey}, "ok"},
		{"space", "a", []string{" ", "b"}, "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHost()
			c := newTestController(t, h)
			show(t, c, h, SessionConfig{InitialValue: String(tt.initial)})
			for _, k := range tt.keys {
				require.NoError(t, c.HandleKeyInput(k))
			}
			assert.Equal(t, tt.want, c.Snapshot().Value)
		})
	}
}

func TestShowWithInitialValue(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)

	settings := show(t, c, h, SessionConfig{InitialValue: String("hello")})
	assert.Equal(t, "hello", settings.InitialValue)

	s := c.Snapshot()
	assert.Equal(t, PhaseShown, s.Phase)
	assert.Equal(t, "hello", s.Value)
	assert.False(t, s.ShiftActive)
	assert.NotEmpty(t, s.SessionID)
}

func TestShowWithoutInitialValueTurnsShiftOn(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{InitialValue: nil, Placeholder: String("Search")})

	s := c.Snapshot()
	assert.True(t, s.ShiftActive)
	assert.Equal(t, "", s.Value)
	assert.Equal(t, "Search", s.Placeholder())
}

func TestShowMergesDefaults(t *testing.T) {
	h := newFakeHost()
	defaults := DefaultSettings()
	defaults.ReturnKeyLabel = "Go"
	c := newTestController(t, h, WithDefaults(defaults))

	settings := show(t, c, h, SessionConfig{AccentColor: String("#FF0000")})
	assert.Equal(t, "Go", settings.ReturnKeyLabel)
	assert.Equal(t, "#FF0000", settings.AccentColor)
	assert.True(t, settings.SoundEnabled)

	defaults.ReturnKeyLabel = "Send"
	c.SetDefaults(defaults)
	assert.Equal(t, "Go", c.Snapshot().Settings.ReturnKeyLabel)
}

func TestToggles(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})

	before := c.Snapshot()
	require.NoError(t, c.ToggleNumeric())
	assert.True(t, c.Snapshot().NumericMode)
	assert.Equal(t, layout.Numeric, c.Snapshot().DisplayMode())
	require.NoError(t, c.ToggleNumeric())
	after := c.Snapshot()
	assert.Equal(t, before.NumericMode, after.NumericMode)
	assert.Equal(t, before.ShiftActive, after.ShiftActive)
	assert.Equal(t, before.Value, after.Value)

	require.NoError(t, c.ToggleShift())
	assert.False(t, c.Snapshot().ShiftActive)
	require.NoError(t, c.ToggleShift())
	assert.True(t, c.Snapshot().ShiftActive)
}

func TestEmojiWinsDisplay(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})

	require.NoError(t, c.ToggleNumeric())
	require.NoError(t, c.ToggleEmoji())
	s := c.Snapshot()
	assert.True(t, s.NumericMode)
	assert.True(t, s.EmojiMode)
	assert.Equal(t, layout.Emoji, s.DisplayMode())

	require.NoError(t, c.ToggleEmoji())
	assert.Equal(t, layout.Numeric, c.Snapshot().DisplayMode())
}

func TestShowResetsModes(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})
	require.NoError(t, c.ToggleNumeric())
	require.NoError(t, c.ToggleEmoji())
	require.NoError(t, c.HandleKeyInput("x"))
	require.NoError(t, c.Submit(context.Background()))

	show(t, c, h, SessionConfig{})
	s := c.Snapshot()
	assert.False(t, s.NumericMode)
	assert.False(t, s.EmojiMode)
	assert.Equal(t, "", s.Value)
	assert.Equal(t, layout.Letters, s.DisplayMode())
}

func TestInputBeforeShowIsDropped(t *testing.T) {
	c := newTestController(t, newFakeHost())

	assert.ErrorIs(t, c.HandleKeyInput("a"), ErrNotShown)
	assert.ErrorIs(t, c.HandleChange("abc"), ErrNotShown)
	assert.ErrorIs(t, c.ToggleShift(), ErrNotShown)
	assert.ErrorIs(t, c.ToggleNumeric(), ErrNotShown)
	assert.ErrorIs(t, c.ToggleEmoji(), ErrNotShown)
	assert.ErrorIs(t, c.StartDictation(), ErrNotShown)
	assert.ErrorIs(t, c.Submit(context.Background()), ErrNotShown)

	s := c.Snapshot()
	assert.Equal(t, "", s.Value)
	assert.True(t, s.ShiftActive)
	assert.False(t, s.NumericMode)
	assert.Equal(t, uint64(7), c.Stats().DroppedEvents)
}

func TestInputAfterSubmitIsDropped(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})
	require.NoError(t, c.HandleKeyInput("a"))
	require.NoError(t, c.Submit(context.Background()))

	assert.ErrorIs(t, c.HandleKeyInput("b"), ErrNotShown)
	s := c.Snapshot()
	assert.Equal(t, PhaseHidden, s.Phase)
	// Submit leaves the value in place until the next show.
	assert.Equal(t, "a", s.Value)
}

func TestSubmitSendsValue(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)

	show(t, c, h, SessionConfig{})
	require.NoError(t, c.Submit(context.Background()))

	show(t, c, h, SessionConfig{})
	require.NoError(t, c.HandleKeyInput("o"))
	require.NoError(t, c.HandleKeyInput("k"))
	require.NoError(t, c.Submit(context.Background()))

	ended := h.endedValues()
	require.Len(t, ended, 2)
	assert.Nil(t, ended[0], "empty value is sent as nil")
	require.NotNil(t, ended[1])
	assert.Equal(t, "ok", *ended[1])
	assert.Equal(t, uint64(2), c.Stats().Submissions)
}

func TestSubmitFailureKeepsSessionOpen(t *testing.T) {
	h := newFakeHost()
	h.endErr = errors.New("bridge gone")
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})
	require.NoError(t, c.HandleKeyInput("a"))

	err := c.Submit(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionStalled)

	s := c.Snapshot()
	assert.Equal(t, PhaseShown, s.Phase)
	assert.Equal(t, "a", s.Value)
	require.NoError(t, c.HandleKeyInput("b"))

	h.mu.Lock()
	h.endErr = nil
	h.mu.Unlock()
	require.NoError(t, c.Submit(context.Background()))
	ended := h.endedValues()
	require.Len(t, ended, 1)
	assert.Equal(t, "ab", *ended[0])
}

func TestSubmitStallTimesOut(t *testing.T) {
	h := newFakeHost()
	h.endBlock = make(chan struct{})
	c := newTestController(t, h, WithCallTimeout(20*time.Millisecond))
	show(t, c, h, SessionConfig{})

	err := c.Submit(context.Background())
	require.ErrorIs(t, err, ErrSessionStalled)
	assert.Equal(t, PhaseShown, c.Snapshot().Phase)
	assert.Equal(t, uint64(1), c.Stats().Stalls)
}

func TestInputDuringSubmitIsAccepted(t *testing.T) {
	h := newFakeHost()
	release := make(chan struct{})
	h.endBlock = release
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})
	require.NoError(t, c.HandleKeyInput("a"))

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background()) }()

	require.Eventually(t, func() bool {
		return c.Snapshot().Phase == PhaseSubmitting
	}, 2*time.Second, time.Millisecond)

	assert.ErrorIs(t, c.Submit(context.Background()), ErrSubmitInFlight)
	require.NoError(t, c.HandleKeyInput("b"))

	close(release)
	require.NoError(t, <-done)

	ended := h.endedValues()
	require.Len(t, ended, 1)
	assert.Equal(t, "a", *ended[0], "submit sends the value at the time of the call")
	assert.Equal(t, "ab", c.Snapshot().Value)
	assert.Equal(t, PhaseHidden, c.Snapshot().Phase)
}

func TestAwaitSessionGuard(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.AwaitSession(ctx)
		done <- err
	}()

	require.Eventually(t, c.awaiting.Load, 2*time.Second, time.Millisecond)
	_, err := c.AwaitSession(context.Background())
	assert.ErrorIs(t, err, ErrAwaitInFlight)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The guard is released once the first wait returns.
	show(t, c, h, SessionConfig{})
}

func TestAwaitSessionStall(t *testing.T) {
	c := newTestController(t, newFakeHost(), WithShowTimeout(10*time.Millisecond))
	_, err := c.AwaitSession(context.Background())
	assert.ErrorIs(t, err, ErrSessionStalled)
	assert.Equal(t, PhaseIdle, c.Snapshot().Phase)
}

func TestVisibilityAnimates(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	h := newFakeHost()
	c := newTestController(t, h, WithClock(clock.Now))

	show(t, c, h, SessionConfig{})
	s := c.Snapshot()
	assert.Equal(t, 0.0, s.Visibility)
	assert.True(t, s.Animating)

	clock.Advance(DefaultTransition / 2)
	assert.InDelta(t, 0.5, c.Snapshot().Visibility, 1e-9)

	clock.Advance(DefaultTransition)
	s = c.Snapshot()
	assert.Equal(t, 1.0, s.Visibility)
	assert.False(t, s.Animating)

	require.NoError(t, c.Submit(context.Background()))
	clock.Advance(DefaultTransition)
	assert.Equal(t, 0.0, c.Snapshot().Visibility)
}

func TestDictationDeliversTranscript(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{InitialValue: String("draft")})

	require.NoError(t, c.StartDictation())
	assert.True(t, c.Snapshot().DictationActive)

	call := nextDictCall(t, h)
	call.reply <- dictReply{text: "hello world"}

	require.Eventually(t, func() bool {
		return c.Snapshot().Value == "hello world"
	}, 2*time.Second, time.Millisecond)
	s := c.Snapshot()
	assert.False(t, s.ShiftActive)
	assert.False(t, s.DictationActive)

	c.EndDictation()
	s = c.Snapshot()
	assert.False(t, s.DictationActive)
	assert.Equal(t, "hello world", s.Value)
	assert.Equal(t, 1, h.stopCount())
	assert.Equal(t, uint64(1), c.Stats().TranscriptsApplied)
}

func TestEndDictationWithoutTranscript(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{InitialValue: String("keep")})

	require.NoError(t, c.StartDictation())
	call := nextDictCall(t, h)

	c.EndDictation()
	assert.False(t, c.Snapshot().DictationActive)

	call.reply <- dictReply{err: ErrNoTranscript}
	require.NoError(t, c.Close())

	s := c.Snapshot()
	assert.Equal(t, "keep", s.Value)
	assert.False(t, s.DictationActive)
	assert.Equal(t, uint64(0), c.Stats().TranscriptsApplied)
}

func TestTranscriptAfterReleaseIsApplied(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})

	require.NoError(t, c.StartDictation())
	call := nextDictCall(t, h)
	c.EndDictation()
	assert.False(t, c.Snapshot().DictationActive)

	call.reply <- dictReply{text: "push to talk"}
	require.Eventually(t, func() bool {
		return c.Snapshot().Value == "push to talk"
	}, 2*time.Second, time.Millisecond)
	assert.False(t, c.Snapshot().DictationActive)
}

func TestReleasedDictationIsAbandoned(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h,
		WithDictationTimeout(2*time.Second),
		WithDictationGrace(20*time.Millisecond),
	)
	show(t, c, h, SessionConfig{InitialValue: String("kept")})

	// Released before the host answered: the request must not stay open
	// until the dictation timeout.
	require.NoError(t, c.StartDictation())
	c.EndDictation()
	nextDictCall(t, h)

	require.Eventually(t, func() bool { return h.abandonedCount() == 1 }, 300*time.Millisecond, time.Millisecond)
	assert.Equal(t, 1, h.stopCount())

	s := c.Snapshot()
	assert.False(t, s.DictationActive)
	assert.Equal(t, "kept", s.Value)
	st := c.Stats()
	assert.Zero(t, st.Stalls)
	assert.Zero(t, st.TranscriptsApplied)

	// A new press after the abandoned one works as usual.
	require.NoError(t, c.StartDictation())
	nextDictCall(t, h).reply <- dictReply{text: "again"}
	require.Eventually(t, func() bool {
		return c.Snapshot().Value == "again"
	}, 2*time.Second, time.Millisecond)
}

func TestReleaseWithoutGraceAbandonsAtOnce(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h, WithDictationGrace(0))
	show(t, c, h, SessionConfig{})

	require.NoError(t, c.StartDictation())
	nextDictCall(t, h)
	c.EndDictation()
	require.Eventually(t, func() bool { return h.abandonedCount() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, c.Stats().Stalls)
}

func TestEndDictationIsIdempotent(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)

	// Allowed with no session and no dictation open.
	c.EndDictation()
	c.EndDictation()
	assert.Equal(t, 2, h.stopCount())
	assert.False(t, c.Snapshot().DictationActive)
}

func TestDictationFailureClearsFlag(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{InitialValue: String("typed")})

	require.NoError(t, c.StartDictation())
	nextDictCall(t, h).reply <- dictReply{err: errors.New("microphone busy")}

	require.Eventually(t, func() bool {
		return !c.Snapshot().DictationActive
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "typed", c.Snapshot().Value)
}

func TestNewerDictationSupersedesOlder(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})

	require.NoError(t, c.StartDictation())
	first := nextDictCall(t, h)
	require.NoError(t, c.StartDictation())
	second := nextDictCall(t, h)

	first.reply <- dictReply{text: "old"}
	second.reply <- dictReply{text: "new"}
	require.NoError(t, c.Close())

	assert.Equal(t, "new", c.Snapshot().Value)
	assert.Equal(t, uint64(1), c.Stats().TranscriptsApplied)
	assert.Equal(t, uint64(2), c.Stats().DictationsStarted)
}

func TestTranscriptFromPreviousSessionIsDiscarded(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})

	require.NoError(t, c.StartDictation())
	call := nextDictCall(t, h)
	require.NoError(t, c.Submit(context.Background()))

	show(t, c, h, SessionConfig{InitialValue: String("fresh")})
	assert.False(t, c.Snapshot().DictationActive)

	call.reply <- dictReply{text: "late"}
	require.NoError(t, c.Close())
	assert.Equal(t, "fresh", c.Snapshot().Value)
}

func TestDictationUnavailable(t *testing.T) {
	h := newFakeHost()
	h.available = false
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})

	assert.False(t, c.Snapshot().DictationAvailable)
	assert.ErrorIs(t, c.StartDictation(), ErrDictationUnavailable)
	assert.False(t, c.Snapshot().DictationActive)
}

func TestDictationTimeout(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h, WithDictationTimeout(20*time.Millisecond))
	show(t, c, h, SessionConfig{})

	require.NoError(t, c.StartDictation())
	nextDictCall(t, h)

	require.Eventually(t, func() bool {
		return !c.Snapshot().DictationActive
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), c.Stats().Stalls)
}

func TestOnChange(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)

	var (
		mu   sync.Mutex
		seen []State
	)
	cancel := c.OnChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	show(t, c, h, SessionConfig{})
	require.NoError(t, c.HandleKeyInput("a"))
	cancel()
	require.NoError(t, c.HandleKeyInput("b"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, PhaseShown, seen[0].Phase)
	assert.Equal(t, "a", seen[1].Value)
	assert.False(t, seen[1].ShiftActive)
}

func TestOnChangeNeverGoesBack(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})

	var (
		mu      sync.Mutex
		lengths []int
	)
	defer c.OnChange(func(s State) {
		mu.Lock()
		lengths = append(lengths, len(s.Value))
		mu.Unlock()
	})()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, c.HandleKeyInput("x"))
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lengths)
	for i := 1; i < len(lengths); i++ {
		require.Greater(t, lengths[i], lengths[i-1], "snapshot %d went back in time", i)
	}
	assert.Equal(t, len(c.Snapshot().Value), lengths[len(lengths)-1])
}

func TestDispatch(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	show(t, c, h, SessionConfig{})
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, keys.Type("h")))
	require.NoError(t, c.Dispatch(ctx, keys.Type("i")))
	require.NoError(t, c.Dispatch(ctx, keys.Space()))
	require.NoError(t, c.Dispatch(ctx, keys.Event{Kind: keys.Backspace}))
	assert.Equal(t, "hi", c.Snapshot().Value)

	require.NoError(t, c.Dispatch(ctx, keys.Event{Kind: keys.ToggleNumeric}))
	assert.True(t, c.Snapshot().NumericMode)
	require.NoError(t, c.Dispatch(ctx, keys.Event{Kind: keys.ToggleEmoji}))
	assert.True(t, c.Snapshot().EmojiMode)
	require.NoError(t, c.Dispatch(ctx, keys.Event{Kind: keys.ToggleShift}))
	assert.True(t, c.Snapshot().ShiftActive)

	require.NoError(t, c.Dispatch(ctx, keys.Set("")))
	assert.Equal(t, "", c.Snapshot().Value)

	require.NoError(t, c.Dispatch(ctx, keys.Event{Kind: keys.DictationEnd}))
	assert.Equal(t, 1, h.stopCount())

	require.NoError(t, c.Dispatch(ctx, keys.Event{Kind: keys.Submit}))
	assert.Equal(t, PhaseHidden, c.Snapshot().Phase)

	assert.Error(t, c.Dispatch(ctx, keys.Event{Kind: keys.Kind(99)}))
}

type recorderFunc func(context.Context, SessionRecord) error

func (f recorderFunc) RecordSession(ctx context.Context, rec SessionRecord) error {
	return f(ctx, rec)
}

func TestSubmitRecordsSession(t *testing.T) {
	h := newFakeHost()
	var got []SessionRecord
	rec := recorderFunc(func(_ context.Context, r SessionRecord) error {
		got = append(got, r)
		return nil
	})
	c := newTestController(t, h, WithRecorder(rec))
	show(t, c, h, SessionConfig{ReturnKeyLabel: String("Send")})

	require.NoError(t, c.HandleKeyInput("a"))
	require.NoError(t, c.HandleKeyInput("b"))
	require.NoError(t, c.HandleKeyInput(BackspaceKey))
	require.NoError(t, c.Submit(context.Background()))

	require.Len(t, got, 1)
	r := got[0]
	assert.Equal(t, c.Snapshot().SessionID, r.ID)
	assert.Equal(t, "a", r.Value)
	assert.Equal(t, 2, r.Keystrokes)
	assert.Equal(t, 1, r.Backspaces)
	assert.Equal(t, "Send", r.Settings.ReturnKeyLabel)
	assert.False(t, r.SubmittedAt.Before(r.ShownAt))
}

func TestRunCycles(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	h.shows <- SessionConfig{InitialValue: String("one")}
	require.Eventually(t, func() bool {
		return c.Snapshot().Phase == PhaseShown
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, "one", c.Snapshot().Value)
	require.NoError(t, c.HandleKeyInput("!"))
	require.NoError(t, c.Submit(context.Background()))

	h.shows <- SessionConfig{InitialValue: String("two")}
	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.Phase == PhaseShown && s.Value == "two"
	}, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, uint64(2), c.Stats().SessionsShown)

	ended := h.endedValues()
	require.Len(t, ended, 1)
	assert.Equal(t, "one!", *ended[0])
}

func TestRunStopsWhenHostCloses(t *testing.T) {
	h := newFakeHost()
	c := newTestController(t, h)
	close(h.shows)
	assert.ErrorIs(t, c.Run(context.Background()), ErrHostClosed)
}

type flakyHost struct {
	*fakeHost
	mu    sync.Mutex
	fails int
}

func (h *flakyHost) WaitForShow(ctx context.Context) (SessionConfig, error) {
	h.mu.Lock()
	if h.fails > 0 {
		h.fails--
		h.mu.Unlock()
		return SessionConfig{}, ErrMalformedConfig
	}
	h.mu.Unlock()
	return h.fakeHost.WaitForShow(ctx)
}

func TestRunRetriesAfterError(t *testing.T) {
	h := &flakyHost{fakeHost: newFakeHost(), fails: 2}
	c := newTestController(t, h, WithRetryDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	h.shows <- SessionConfig{}
	require.Eventually(t, func() bool {
		return c.Snapshot().Phase == PhaseShown
	}, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
