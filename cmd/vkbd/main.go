// vkbd is the on-screen keyboard overlay.
//
// It waits for the host to ask for text, shows the keyboard, and hands
// the typed value back when the return key is pressed. The host is
// reached over the session bus, a unix socket, or an in-process demo
// panel:
//
//	vkbd -transport dbus
//	vkbd -transport socket -socket /run/user/1000/vkbd/host.sock
//	vkbd -transport demo
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gioui.org/app"
	"gioui.org/font/gofont"
	"gioui.org/io/system"
	"gioui.org/op"
	"gioui.org/text"
	"gioui.org/unit"
	"gioui.org/widget/material"
	"golang.org/x/sync/errgroup"

	"vkbd/cmd/vkbd/internal/theme"
	"vkbd/cmd/vkbd/internal/ui"
	"vkbd/internal/config"
	"vkbd/internal/journal"
	"vkbd/internal/keyboard"
	"vkbd/internal/keys"
	"vkbd/internal/logging"
)

// Version is set at build time.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	transport := flag.String("transport", "", "Host bridge: dbus, socket or demo")
	socketPath := flag.String("socket", "", "Socket path for the socket transport")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vkbd %s\n", Version)
		return
	}

	go func() {
		if err := run(*configPath, *transport, *socketPath); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)
	}()
	app.Main()
}

func run(configPath, transport, socketPath string) error {
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	if configPath == "" {
		configPath = config.ConfigPath()
	}

	loader := config.NewLoader(configPath)
	defer loader.Close()
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if transport != "" {
		cfg.Bridge.Transport = transport
	}
	if socketPath != "" {
		cfg.Bridge.SocketPath = socketPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	logCfg.Component = "vkbd"
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := openHost(ctx, cfg, logger.WithComponent("bridge").Logger)
	if err != nil {
		return err
	}
	defer h.Close()

	opts := append(cfg.ControllerOptions(), keyboard.WithLogger(logger.WithComponent("keyboard").Logger))
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		opts = append(opts, keyboard.WithRecorder(j))
	}
	c := keyboard.New(h, opts...)
	defer c.Close()

	loader.OnChange(func(nc *config.Config) {
		logger.Info("configuration reloaded")
		c.SetDefaults(nc.Keyboard.Defaults())
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	}
	go func() {
		for {
			select {
			case err := <-loader.Errors():
				logger.Warn("ignoring config change", "error", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("vkbd starting",
		"version", Version,
		"transport", cfg.Bridge.Transport,
		"config", configPath,
	)

	crash := &logging.CrashHandler{
		Dir:       logging.DefaultCrashDir(),
		Version:   Version,
		Component: "vkbd",
		Logger:    logger.Logger,
	}

	w := new(app.Window)
	w.Option(app.Title(cfg.UI.Title))
	w.Option(app.Size(unit.Dp(cfg.UI.Width), unit.Dp(cfg.UI.Height)))
	defer c.OnChange(func(keyboard.State) { w.Invalidate() })()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return crash.Guard("controller", func() error { return c.Run(gctx) })
	})
	g.Go(func() error {
		<-gctx.Done()
		w.Perform(system.ActionClose)
		return nil
	})

	loopErr := crash.Guard("window", func() error { return loop(w, c, logger.WithComponent("ui").Logger) })
	stop()

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if errors.Is(runErr, keyboard.ErrHostClosed) {
		logger.Info("host closed the bridge")
		runErr = nil
	}
	st := c.Stats()
	logger.Info("vkbd stopped", "sessions", st.SessionsShown, "submitted", st.Submissions)
	return errors.Join(loopErr, runErr)
}

func loop(w *app.Window, c *keyboard.Controller, logger *slog.Logger) error {
	mt := material.NewTheme()
	mt.Shaper = text.NewShaper(text.WithCollection(gofont.Collection()))
	t := theme.NewTheme(mt)

	kb := ui.NewKeyboard(t, c, keys.DefaultKeymap(), logger)
	defer kb.Close()

	var ops op.Ops
	for {
		switch e := w.Event().(type) {
		case app.DestroyEvent:
			return e.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, e)
			kb.Layout(gtx)
			e.Frame(gtx.Ops)
		}
	}
}
