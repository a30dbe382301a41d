package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sync/errgroup"

	"vkbd/internal/bridge"
	"vkbd/internal/config"
	"vkbd/internal/ipc"
	"vkbd/internal/keyboard"
	"vkbd/internal/logging"
)

type serveOptions struct {
	transport  string
	socketPath string
	count      int
	verbose    bool

	session     keyboard.SessionConfig
	transcripts []string
}

func parseServeFlags(cfg *config.Config, args []string) (*serveOptions, error) {
	opts := &serveOptions{}
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&opts.transport, "transport", cfg.Bridge.Transport, "bridge to serve: dbus or socket")
	fs.StringVar(&opts.socketPath, "socket", cfg.Bridge.SocketPath, "socket path for the socket transport")
	fs.IntVar(&opts.count, "count", 1, "number of sessions to request, 0 for no limit")
	fs.BoolVar(&opts.verbose, "v", false, "log bridge activity to stderr")

	var (
		initial, placeholder, returnLabel, accent string
		sound                                     bool
	)
	fs.StringVar(&initial, "initial", "", "initial value")
	fs.StringVar(&placeholder, "placeholder", "", "placeholder text")
	fs.StringVar(&returnLabel, "return-label", "", "return key label")
	fs.StringVar(&accent, "accent", "", "accent color (#RRGGBB)")
	fs.BoolVar(&sound, "sound", true, "enable key sounds")
	fs.Func("transcript", "dictation result, repeat for several dictations", func(s string) error {
		opts.transcripts = append(opts.transcripts, s)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.count < 0 {
		return nil, errors.New("-count must not be negative")
	}

	// Only flags given on the command line go into the session, so the
	// keyboard's own defaults apply to the rest.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "initial":
			opts.session.InitialValue = keyboard.String(initial)
		case "placeholder":
			opts.session.Placeholder = keyboard.String(placeholder)
		case "return-label":
			opts.session.ReturnKeyLabel = keyboard.String(returnLabel)
		case "accent":
			opts.session.AccentColor = keyboard.String(accent)
		case "sound":
			opts.session.SoundEnabled = keyboard.Bool(sound)
		}
	})
	return opts, nil
}

func cmdServe(args []string) error {
	cfg := loadConfig()
	opts, err := parseServeFlags(cfg, args)
	if err != nil {
		return err
	}
	// The request goes through the same validation the keyboard applies.
	data, err := keyboard.EncodeSessionConfig(opts.session)
	if err != nil {
		return err
	}
	if _, err := keyboard.ParseSessionConfig(data); err != nil {
		return err
	}

	logger, err := newLogger(cfg, opts.verbose)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()

	var panelOpts []bridge.PanelOption
	panelOpts = append(panelOpts, bridge.WithPanelLogger(logger.Logger))
	if len(opts.transcripts) > 0 {
		panelOpts = append(panelOpts, bridge.WithDictator(bridge.NewScriptedDictator(opts.transcripts...)))
	}
	panel := bridge.NewPanel(panelOpts...)
	defer panel.Close()

	stopServing, err := servePanel(cfg, opts, panel, logger)
	if err != nil {
		return err
	}
	defer stopServing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return requestSessions(gctx, panel, opts, os.Stdout)
	})
	g.Go(func() error {
		<-gctx.Done()
		return panel.Close()
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func servePanel(cfg *config.Config, opts *serveOptions, panel *bridge.Panel, logger *logging.Logger) (func(), error) {
	switch opts.transport {
	case config.TransportDBus:
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return nil, fmt.Errorf("connect to session bus: %w", err)
		}
		exp, err := bridge.ExportPanel(conn, panel, bridge.DBusOptions{
			Name:   cfg.Bridge.DBusName,
			Path:   dbus.ObjectPath(cfg.Bridge.DBusPath),
			Logger: logger.Logger,
		})
		if err != nil {
			conn.Close()
			return nil, err
		}
		logger.Info("serving on the session bus", "name", cfg.Bridge.DBusName)
		return func() {
			exp.Close()
			conn.Close()
		}, nil

	case config.TransportSocket:
		srv, err := bridge.ServeSocket(panel, ipc.ServerConfig{
			SocketPath:      opts.socketPath,
			RequireSameUser: true,
			Logger:          logger.Logger,
		})
		if err != nil {
			return nil, err
		}
		return func() { srv.Stop() }, nil

	default:
		return nil, fmt.Errorf("cannot serve transport %q", opts.transport)
	}
}

// requestSessions asks for opts.count sessions in turn and writes each
// value on its own line. A session ended with nothing typed prints an
// empty line.
func requestSessions(ctx context.Context, panel *bridge.Panel, opts *serveOptions, out io.Writer) error {
	for i := 0; opts.count == 0 || i < opts.count; i++ {
		if err := panel.Show(ctx, opts.session); err != nil {
			return err
		}
		select {
		case res := <-panel.Results():
			if _, err := fmt.Fprintln(out, res.Text()); err != nil {
				return err
			}
		case <-panel.Done():
			return keyboard.ErrHostClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
