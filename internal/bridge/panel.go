// Package bridge connects the keyboard controller to the host that
// embeds it.
//
// Panel is the host side: it queues session requests, collects finished
// values and runs dictation. The keyboard reaches a Panel either
// directly (Panel implements keyboard.Host), over the session bus
// (ExportPanel / NewDBusHost) or over a unix socket (ServeSocket /
// NewSocketHost).
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vkbd/internal/keyboard"
)

// Result is a value handed back by the keyboard.
type Result struct {
	// Value is nil when the session ended with nothing typed.
	Value *string
	At    time.Time
}

// Text returns the value, or "" when none was typed.
func (r Result) Text() string {
	if r.Value == nil {
		return ""
	}
	return *r.Value
}

// Dictator turns speech into text. Dictate blocks until stop is closed
// (the user released the mic) or the recognizer finishes on its own, and
// returns the transcript. It returns keyboard.ErrNoTranscript when
// nothing was recognized and ctx.Err() when abandoned.
type Dictator interface {
	Dictate(ctx context.Context, stop <-chan struct{}) (string, error)
}

// DictatorFunc is a function that implements Dictator.
type DictatorFunc func(ctx context.Context, stop <-chan struct{}) (string, error)

func (f DictatorFunc) Dictate(ctx context.Context, stop <-chan struct{}) (string, error) {
	return f(ctx, stop)
}

// ScriptedDictator replays canned transcripts, one per dictation. It
// stands in for a recognizer in the demo transport and in tests.
type ScriptedDictator struct {
	// Delay, when positive, ends a dictation on its own after that long.
	Delay time.Duration

	mu          sync.Mutex
	transcripts []string
}

// NewScriptedDictator returns a dictator that yields transcripts in order.
// Once they run out every dictation ends with keyboard.ErrNoTranscript.
func NewScriptedDictator(transcripts ...string) *ScriptedDictator {
	return &ScriptedDictator{transcripts: transcripts}
}

func (d *ScriptedDictator) Dictate(ctx context.Context, stop <-chan struct{}) (string, error) {
	var timeout <-chan time.Time
	if d.Delay > 0 {
		t := time.NewTimer(d.Delay)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-stop:
	case <-timeout:
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transcripts) == 0 {
		return "", keyboard.ErrNoTranscript
	}
	text := d.transcripts[0]
	d.transcripts = d.transcripts[1:]
	if text == "" {
		return "", keyboard.ErrNoTranscript
	}
	return text, nil
}

// PanelOption configures a Panel.
type PanelOption func(*Panel)

// WithDictator enables dictation through d.
func WithDictator(d Dictator) PanelOption {
	return func(p *Panel) { p.dictator = d }
}

// WithPanelLogger sets the logger.
func WithPanelLogger(l *slog.Logger) PanelOption {
	return func(p *Panel) { p.logger = l }
}

// Panel is an in-process host. It is safe for concurrent use.
type Panel struct {
	dictator Dictator
	logger   *slog.Logger

	mu        sync.Mutex
	queue     []keyboard.SessionConfig
	stop      chan struct{}
	listeners map[int]func()
	nextL     int

	notify  chan struct{}
	results chan Result

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPanel creates a panel with no pending sessions.
func NewPanel(opts ...PanelOption) *Panel {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Panel{
		listeners: make(map[int]func()),
		notify:    make(chan struct{}, 1),
		results:   make(chan Result, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "panel")
	}
	return p
}

// Close shuts the panel down. Pending and future calls fail with
// keyboard.ErrHostClosed.
func (p *Panel) Close() error {
	p.cancel()
	return nil
}

// Done is closed when the panel is closed.
func (p *Panel) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Show asks the keyboard to present a session configured by cfg. Requests
// are served in order.
func (p *Panel) Show(ctx context.Context, cfg keyboard.SessionConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return keyboard.ErrHostClosed
	}
	p.queue = append(p.queue, cfg)
	listeners := make([]func(), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	for _, fn := range listeners {
		fn()
	}
	p.logger.Debug("show requested")
	return nil
}

// OnShow registers fn to run after every Show. The returned function
// removes it.
func (p *Panel) OnShow(fn func()) func() {
	p.mu.Lock()
	id := p.nextL
	p.nextL++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// Pending returns the number of sessions not yet taken by the keyboard.
func (p *Panel) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// TakeShow removes and returns the oldest pending session, if any.
func (p *Panel) TakeShow() (keyboard.SessionConfig, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return keyboard.SessionConfig{}, false, keyboard.ErrHostClosed
	}
	if len(p.queue) == 0 {
		return keyboard.SessionConfig{}, false, nil
	}
	cfg := p.queue[0]
	p.queue = p.queue[1:]
	return cfg, true, nil
}

// Results delivers the values handed back by the keyboard.
func (p *Panel) Results() <-chan Result {
	return p.results
}

// WaitForShow implements keyboard.Host.
func (p *Panel) WaitForShow(ctx context.Context) (keyboard.SessionConfig, error) {
	for {
		cfg, ok, err := p.TakeShow()
		if err != nil || ok {
			return cfg, err
		}
		select {
		case <-p.notify:
		case <-ctx.Done():
			return keyboard.SessionConfig{}, ctx.Err()
		case <-p.ctx.Done():
			return keyboard.SessionConfig{}, keyboard.ErrHostClosed
		}
	}
}

// EndInput implements keyboard.Host.
func (p *Panel) EndInput(ctx context.Context, value *string) error {
	if value != nil {
		v := *value
		value = &v
	}
	select {
	case p.results <- Result{Value: value, At: time.Now()}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return keyboard.ErrHostClosed
	}
}

// DictationAvailable implements keyboard.Host.
func (p *Panel) DictationAvailable() bool {
	return p.dictator != nil
}

// StartDictation implements keyboard.Host. Starting a dictation while
// another is open stops the older one.
func (p *Panel) StartDictation(ctx context.Context) (string, error) {
	if p.dictator == nil {
		return "", keyboard.ErrDictationUnavailable
	}

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return "", keyboard.ErrHostClosed
	}
	if p.stop != nil {
		close(p.stop)
	}
	stop := make(chan struct{})
	p.stop = stop
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(p.ctx, cancel)
	defer release()

	text, err := p.dictator.Dictate(ctx, stop)

	p.mu.Lock()
	if p.stop == stop {
		p.stop = nil
	}
	p.mu.Unlock()

	if err != nil && p.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return "", keyboard.ErrHostClosed
	}
	return text, err
}

// StopDictation implements keyboard.Host.
func (p *Panel) StopDictation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

var _ keyboard.Host = (*Panel)(nil)
