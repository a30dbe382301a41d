package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"vkbd/internal/keyboard"
)

// D-Bus names.
const (
	DBusInterface   = "org.vkbd.Host1"
	DefaultBusName  = "org.vkbd.Host"
	DefaultBusPath  = dbus.ObjectPath("/org/vkbd/Host")
	signalShow      = DBusInterface + ".ShowRequested"
	signalDictation = DBusInterface + ".DictationFinished"
)

// D-Bus error names, mapped to keyboard errors on the client side.
const (
	errNameClosed       = DBusInterface + ".Error.Closed"
	errNameUnavailable  = DBusInterface + ".Error.Unavailable"
	errNameNoTranscript = DBusInterface + ".Error.NoTranscript"
	errNameFailed       = DBusInterface + ".Error.Failed"
)

var dbusErrors = []struct {
	err  error
	name string
}{
	{keyboard.ErrHostClosed, errNameClosed},
	{keyboard.ErrDictationUnavailable, errNameUnavailable},
	{keyboard.ErrNoTranscript, errNameNoTranscript},
}

func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	for _, de := range dbusErrors {
		if errors.Is(err, de.err) {
			return dbus.NewError(de.name, []interface{}{err.Error()})
		}
	}
	return dbus.NewError(errNameFailed, []interface{}{err.Error()})
}

func fromDBusError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dbus.ErrClosed) {
		return fmt.Errorf("%w: %v", keyboard.ErrHostClosed, err)
	}

	var name string
	switch e := err.(type) {
	case dbus.Error:
		name = e.Name
	case *dbus.Error:
		name = e.Name
	default:
		return err
	}
	for _, de := range dbusErrors {
		if name == de.name {
			return fmt.Errorf("%w (remote: %v)", de.err, err)
		}
	}
	return err
}

// DBusOptions names the exported object.
type DBusOptions struct {
	Name   string
	Path   dbus.ObjectPath
	Logger *slog.Logger
}

func (o *DBusOptions) setDefaults() {
	if o.Name == "" {
		o.Name = DefaultBusName
	}
	if o.Path == "" {
		o.Path = DefaultBusPath
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "bridge")
	}
}

// dbusPanel is the object exported on the bus. Its exported methods are
// the D-Bus methods of DBusInterface.
type dbusPanel struct {
	panel  *Panel
	emit   func(name string, args ...interface{}) error
	logger *slog.Logger

	nextID atomic.Uint32
	ctx    context.Context
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancels map[uint32]context.CancelFunc
}

// TakeShow returns the oldest pending session configuration as JSON.
func (o *dbusPanel) TakeShow() (string, bool, *dbus.Error) {
	cfg, ok, err := o.panel.TakeShow()
	if err != nil {
		return "", false, toDBusError(err)
	}
	if !ok {
		return "", false, nil
	}
	data, err := keyboard.EncodeSessionConfig(cfg)
	if err != nil {
		return "", false, toDBusError(err)
	}
	return string(data), true, nil
}

// EndInput takes the finished value. has is false when nothing was typed.
func (o *dbusPanel) EndInput(has bool, value string) *dbus.Error {
	var v *string
	if has {
		v = &value
	}
	ctx, cancel := context.WithTimeout(o.ctx, keyboard.DefaultCallTimeout)
	defer cancel()
	return toDBusError(o.panel.EndInput(ctx, v))
}

// StartDictation opens a dictation and returns its id at once. The
// transcript follows in a DictationFinished signal carrying the same id.
func (o *dbusPanel) StartDictation() (uint32, *dbus.Error) {
	if !o.panel.DictationAvailable() {
		return 0, toDBusError(keyboard.ErrDictationUnavailable)
	}
	if o.ctx.Err() != nil {
		return 0, toDBusError(keyboard.ErrHostClosed)
	}

	id := o.nextID.Add(1)
	ctx, cancel := context.WithCancel(o.ctx)
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, id)
			o.mu.Unlock()
			cancel()
		}()
		text, err := o.panel.StartDictation(ctx)
		if err != nil && !errors.Is(err, keyboard.ErrNoTranscript) && !errors.Is(err, context.Canceled) {
			o.logger.Warn("dictation failed", "id", id, "error", err)
		}
		if err := o.emit(signalDictation, id, text, err == nil); err != nil {
			o.logger.Warn("emit DictationFinished", "id", id, "error", err)
		}
	}()
	return id, nil
}

// CancelDictation abandons dictation id. Unlike StopDictation it never
// touches a newer dictation.
func (o *dbusPanel) CancelDictation(id uint32) *dbus.Error {
	o.mu.Lock()
	cancel := o.cancels[id]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// StopDictation closes the open dictation, if any.
func (o *dbusPanel) StopDictation() *dbus.Error {
	o.panel.StopDictation()
	return nil
}

// DBusExport is a Panel served on the bus.
type DBusExport struct {
	conn    *dbus.Conn
	opts    DBusOptions
	obj     *dbusPanel
	cancel  context.CancelFunc
	unwatch func()
}

// ExportPanel claims opts.Name on conn and serves panel at opts.Path.
func ExportPanel(conn *dbus.Conn, panel *Panel, opts DBusOptions) (*DBusExport, error) {
	opts.setDefaults()

	reply, err := conn.RequestName(opts.Name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("bus name %s already taken", opts.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	obj := &dbusPanel{
		panel:   panel,
		logger:  opts.Logger,
		ctx:     ctx,
		cancels: make(map[uint32]context.CancelFunc),
		emit: func(name string, args ...interface{}) error {
			return conn.Emit(opts.Path, name, args...)
		},
	}
	exp := &DBusExport{conn: conn, opts: opts, obj: obj, cancel: cancel}

	if err := conn.Export(obj, opts.Path, DBusInterface); err != nil {
		exp.release()
		return nil, fmt.Errorf("export panel: %w", err)
	}

	props, err := prop.Export(conn, opts.Path, prop.Map{
		DBusInterface: {
			"DictationAvailable": {
				Value:    panel.DictationAvailable(),
				Writable: false,
				Emit:     prop.EmitTrue,
			},
		},
	})
	if err != nil {
		exp.release()
		return nil, fmt.Errorf("export properties: %w", err)
	}

	node := &introspect.Node{
		Name: string(opts.Path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       DBusInterface,
				Methods:    introspect.Methods(obj),
				Properties: props.Introspection(DBusInterface),
				Signals: []introspect.Signal{
					{Name: "ShowRequested"},
					{Name: "DictationFinished", Args: []introspect.Arg{
						{Name: "id", Type: "u"},
						{Name: "transcript", Type: "s"},
						{Name: "ok", Type: "b"},
					}},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), opts.Path, "org.freedesktop.DBus.Introspectable"); err != nil {
		exp.release()
		return nil, fmt.Errorf("export introspection: %w", err)
	}

	exp.unwatch = panel.OnShow(func() {
		if err := obj.emit(signalShow); err != nil {
			opts.Logger.Warn("emit ShowRequested", "error", err)
		}
	})

	opts.Logger.Info("panel exported", "name", opts.Name, "path", opts.Path)
	return exp, nil
}

func (e *DBusExport) release() {
	e.cancel()
	e.conn.Export(nil, e.opts.Path, DBusInterface)
	e.conn.Export(nil, e.opts.Path, "org.freedesktop.DBus.Introspectable")
	e.conn.Export(nil, e.opts.Path, "org.freedesktop.DBus.Properties")
	e.conn.ReleaseName(e.opts.Name)
}

// Close unexports the panel, releases the name and waits for running
// dictations to finish.
func (e *DBusExport) Close() error {
	if e.unwatch != nil {
		e.unwatch()
	}
	e.release()
	e.obj.wg.Wait()
	return nil
}

type dictationResult struct {
	text string
	ok   bool
}

// DBusHost is a keyboard.Host that talks to a panel exported with
// ExportPanel.
type DBusHost struct {
	conn   *dbus.Conn
	obj    dbus.BusObject
	opts   DBusOptions
	logger *slog.Logger

	signals chan *dbus.Signal
	shown   chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	waiters   map[uint32]chan dictationResult
	finished  map[uint32]dictationResult
	available bool
}

// maxUnclaimed bounds DictationFinished results kept for ids nobody is
// waiting on yet.
const maxUnclaimed = 64

// NewDBusHost subscribes to the panel's signals on conn.
func NewDBusHost(conn *dbus.Conn, opts DBusOptions) (*DBusHost, error) {
	opts.setDefaults()

	h := &DBusHost{
		conn:     conn,
		obj:      conn.Object(opts.Name, opts.Path),
		opts:     opts,
		logger:   opts.Logger,
		signals:  make(chan *dbus.Signal, 16),
		shown:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		waiters:  make(map[uint32]chan dictationResult),
		finished: make(map[uint32]dictationResult),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(opts.Path),
		dbus.WithMatchInterface(DBusInterface),
	); err != nil {
		return nil, fmt.Errorf("subscribe to host signals: %w", err)
	}
	conn.Signal(h.signals)

	h.wg.Add(1)
	go h.signalLoop()

	h.refreshAvailable()
	return h, nil
}

// Close unsubscribes from the bus. It does not close conn.
func (h *DBusHost) Close() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	h.conn.RemoveSignal(h.signals)
	close(h.done)
	h.wg.Wait()
	return h.conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(h.opts.Path),
		dbus.WithMatchInterface(DBusInterface),
	)
}

func (h *DBusHost) signalLoop() {
	defer h.wg.Done()
	for {
		select {
		case sig, ok := <-h.signals:
			if !ok {
				return
			}
			h.route(sig)
		case <-h.done:
			return
		}
	}
}

func (h *DBusHost) route(sig *dbus.Signal) {
	if sig == nil || sig.Path != h.opts.Path {
		return
	}

	switch sig.Name {
	case signalShow:
		select {
		case h.shown <- struct{}{}:
		default:
		}

	case signalDictation:
		var (
			id  uint32
			res dictationResult
		)
		if err := dbus.Store(sig.Body, &id, &res.text, &res.ok); err != nil {
			h.logger.Warn("malformed DictationFinished", "error", err)
			return
		}
		h.mu.Lock()
		if ch, ok := h.waiters[id]; ok {
			delete(h.waiters, id)
			ch <- res
		} else {
			if len(h.finished) >= maxUnclaimed {
				clear(h.finished)
			}
			h.finished[id] = res
		}
		h.mu.Unlock()
	}
}

func (h *DBusHost) refreshAvailable() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var available bool
	err := h.obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0,
		DBusInterface, "DictationAvailable").Store(&available)
	if err != nil {
		h.logger.Debug("dictation availability unknown", "error", err)
		return
	}
	h.mu.Lock()
	h.available = available
	h.mu.Unlock()
}

// WaitForShow implements keyboard.Host. It polls TakeShow and sleeps
// until the next ShowRequested signal.
func (h *DBusHost) WaitForShow(ctx context.Context) (keyboard.SessionConfig, error) {
	for {
		select {
		case <-h.shown:
		default:
		}

		var (
			data string
			ok   bool
		)
		err := h.obj.CallWithContext(ctx, DBusInterface+".TakeShow", 0).Store(&data, &ok)
		if err != nil {
			return keyboard.SessionConfig{}, fromDBusError(err)
		}
		if ok {
			h.refreshAvailable()
			return keyboard.ParseSessionConfig([]byte(data))
		}

		select {
		case <-h.shown:
		case <-ctx.Done():
			return keyboard.SessionConfig{}, ctx.Err()
		case <-h.done:
			return keyboard.SessionConfig{}, keyboard.ErrHostClosed
		}
	}
}

// EndInput implements keyboard.Host.
func (h *DBusHost) EndInput(ctx context.Context, value *string) error {
	var v string
	if value != nil {
		v = *value
	}
	return fromDBusError(h.obj.CallWithContext(ctx, DBusInterface+".EndInput", 0, value != nil, v).Err)
}

// StartDictation implements keyboard.Host.
func (h *DBusHost) StartDictation(ctx context.Context) (string, error) {
	// The call is not cut short by ctx: once the host has opened the
	// dictation it must learn the id to be able to close it again.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), keyboard.DefaultCallTimeout)
	defer cancel()
	var id uint32
	if err := h.obj.CallWithContext(callCtx, DBusInterface+".StartDictation", 0).Store(&id); err != nil {
		return "", fromDBusError(err)
	}
	if err := ctx.Err(); err != nil {
		h.cancelDictation(id)
		return "", err
	}

	ch := make(chan dictationResult, 1)
	h.mu.Lock()
	if res, ok := h.finished[id]; ok {
		delete(h.finished, id)
		ch <- res
	} else {
		h.waiters[id] = ch
	}
	h.mu.Unlock()

	select {
	case res := <-ch:
		if !res.ok {
			return "", keyboard.ErrNoTranscript
		}
		return res.text, nil
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.waiters, id)
		h.mu.Unlock()
		h.cancelDictation(id)
		return "", ctx.Err()
	case <-h.done:
		return "", keyboard.ErrHostClosed
	}
}

func (h *DBusHost) cancelDictation(id uint32) {
	call := h.obj.Go(DBusInterface+".CancelDictation", dbus.FlagNoReplyExpected, nil, id)
	if call != nil && call.Err != nil {
		h.logger.Debug("cancel dictation not sent", "id", id, "error", call.Err)
	}
}

// StopDictation implements keyboard.Host. The call is sent without
// waiting for a reply.
func (h *DBusHost) StopDictation() {
	call := h.obj.Go(DBusInterface+".StopDictation", dbus.FlagNoReplyExpected, nil)
	if call != nil && call.Err != nil {
		h.logger.Debug("stop dictation not sent", "error", call.Err)
	}
}

// DictationAvailable implements keyboard.Host.
func (h *DBusHost) DictationAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.available
}

var _ keyboard.Host = (*DBusHost)(nil)
