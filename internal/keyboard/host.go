package keyboard

import (
	"context"
	"errors"
	"time"
)

// Errors returned by the controller and by Host implementations.
var (
	// ErrNotShown is returned for input that arrives while no session is
	// on screen. Such input is dropped.
	ErrNotShown = errors.New("keyboard: no session shown")

	// ErrAwaitInFlight is returned when a second AwaitSession is issued
	// while one is still waiting for the host.
	ErrAwaitInFlight = errors.New("keyboard: already waiting for a session")

	// ErrSubmitInFlight is returned when Submit is called while a previous
	// submit is still waiting for the host.
	ErrSubmitInFlight = errors.New("keyboard: submit already in flight")

	// ErrSessionStalled is returned when a host call exceeds its deadline.
	ErrSessionStalled = errors.New("keyboard: host bridge stalled")

	// ErrHostClosed is returned by a Host that has shut down for good.
	ErrHostClosed = errors.New("keyboard: host bridge closed")

	// ErrMalformedConfig is returned for session configurations with
	// fields of the wrong type.
	ErrMalformedConfig = errors.New("keyboard: malformed session configuration")

	// ErrDictationUnavailable is returned by StartDictation when the host
	// offers no dictation.
	ErrDictationUnavailable = errors.New("keyboard: dictation unavailable")

	// ErrNoTranscript is returned by Host.StartDictation when the channel
	// closed without producing text.
	ErrNoTranscript = errors.New("keyboard: dictation produced no transcript")
)

// Host is the runtime service the keyboard is embedded in. It announces
// sessions, takes finished values and provides dictation.
type Host interface {
	// WaitForShow blocks until the host wants the keyboard shown and
	// returns the configuration of that session.
	WaitForShow(ctx context.Context) (SessionConfig, error)

	// EndInput hands the finished value to the host. value is nil when
	// nothing was typed. It returns once the host accepted it.
	EndInput(ctx context.Context, value *string) error

	// StartDictation opens a dictation channel and blocks until it yields
	// a transcript. Cancelling ctx must close the channel, even one the
	// host opened after a StopDictation already went by.
	StartDictation(ctx context.Context) (string, error)

	// StopDictation closes the dictation channel. It must not block and
	// must tolerate being called with no dictation open.
	StopDictation()

	// DictationAvailable reports whether StartDictation can work at all.
	DictationAvailable() bool
}

// SessionRecord summarizes one submitted session.
type SessionRecord struct {
	ID          string
	ShownAt     time.Time
	SubmittedAt time.Time
	Settings    Settings
	Value       string
	Keystrokes  int
	Backspaces  int
	Dictations  int
}

// Recorder receives a record of every submitted session.
type Recorder interface {
	RecordSession(ctx context.Context, rec SessionRecord) error
}
