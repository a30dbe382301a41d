package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rivo/uniseg"

	"vkbd/internal/bridge"
	"vkbd/internal/config"
	"vkbd/internal/keyboard"
)

// host is a keyboard.Host that owns a connection.
type host interface {
	keyboard.Host
	Close() error
}

// openHost connects to the host bridge named by the configuration.
func openHost(ctx context.Context, cfg *config.Config, logger *slog.Logger) (host, error) {
	switch cfg.Bridge.Transport {
	case config.TransportDBus:
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return nil, fmt.Errorf("connect to session bus: %w", err)
		}
		h, err := bridge.NewDBusHost(conn, bridge.DBusOptions{
			Name:   cfg.Bridge.DBusName,
			Path:   dbus.ObjectPath(cfg.Bridge.DBusPath),
			Logger: logger,
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
		return &dbusHost{DBusHost: h, conn: conn}, nil

	case config.TransportSocket:
		return bridge.NewSocketHost(cfg.Bridge.SocketPath, logger), nil

	case config.TransportDemo:
		return newDemoHost(ctx, logger), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Bridge.Transport)
	}
}

type dbusHost struct {
	*bridge.DBusHost
	conn *dbus.Conn
}

func (h *dbusHost) Close() error {
	err := h.DBusHost.Close()
	h.conn.Close()
	return err
}

// demoHost is an in-process panel that asks for one session after another,
// so the overlay can be tried without a host application.
type demoHost struct {
	*bridge.Panel
	done chan struct{}
}

var demoSessions = []keyboard.SessionConfig{
	{Placeholder: keyboard.String("Type a message"), ReturnKeyLabel: keyboard.String("Send")},
	{InitialValue: keyboard.String("vkbd"), ReturnKeyLabel: keyboard.String("Search"), AccentColor: keyboard.String("#F2A65A")},
	{Placeholder: keyboard.String("Hold the mic and speak"), ReturnKeyLabel: keyboard.String("Done")},
}

func newDemoHost(ctx context.Context, logger *slog.Logger) *demoHost {
	p := bridge.NewPanel(
		bridge.WithDictator(bridge.DictatorFunc(demoDictate)),
		bridge.WithPanelLogger(logger),
	)
	h := &demoHost{Panel: p, done: make(chan struct{})}
	go h.run(ctx, logger)
	return h
}

// demoDictate "recognizes" a fixed phrase once the mic is released.
func demoDictate(ctx context.Context, stop <-chan struct{}) (string, error) {
	select {
	case <-stop:
		return "hello from the demo", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *demoHost) run(ctx context.Context, logger *slog.Logger) {
	defer close(h.done)
	for i := 0; ; i++ {
		cfg := demoSessions[i%len(demoSessions)]
		if err := h.Show(ctx, cfg); err != nil {
			return
		}
		select {
		case res := <-h.Results():
			logger.Info("demo session finished",
				"characters", uniseg.GraphemeClusterCount(res.Text()),
				"empty", res.Value == nil)
		case <-ctx.Done():
			return
		case <-h.Done():
			return
		}

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		case <-h.Done():
			return
		}
	}
}

func (h *demoHost) Close() error {
	err := h.Panel.Close()
	<-h.done
	return err
}
