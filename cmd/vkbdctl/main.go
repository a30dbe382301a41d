// vkbdctl is the host-side tool for vkbd.
//
// It can stand in for a host application (serve), inspect the session
// journal (journal) and check whether a socket host is up (status).
package main

import (
	"flag"
	"fmt"
	"os"

	"vkbd/internal/config"
	"vkbd/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath = flag.String("config", "", "path to config file")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch cmd {
	case "serve":
		err = cmdServe(args)
	case "journal":
		err = cmdJournal(args)
	case "status":
		err = cmdStatus(args)
	case "version":
		fmt.Printf("vkbdctl %s\n", Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `vkbdctl - Host tool for the vkbd keyboard overlay

Usage: vkbdctl [options] <command> [args]

Commands:
  serve           Act as the host: request sessions and print each value
  journal list    List recorded sessions
  journal verify  Check every journal entry for tampering
  journal match <id> <value>
                  Check whether value was submitted in session id
  journal prune <age>
                  Delete sessions older than age (e.g. 720h)
  status          Check whether a socket host is answering
  version         Print version
  help            Show this help message

Options:
  -config <path>  Path to config file (default: platform config dir)`)
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newLogger builds the logger for commands that run a bridge. It writes to
// stderr so stdout carries only results.
func newLogger(cfg *config.Config, verbose bool) (*logging.Logger, error) {
	logCfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		return nil, err
	}
	logCfg.Output = "stderr"
	logCfg.Component = "vkbdctl"
	if !verbose && logCfg.Level < logging.LevelWarn {
		logCfg.Level = logging.LevelWarn
	}
	return logging.New(logCfg)
}
