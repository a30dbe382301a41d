package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"vkbd/internal/bridge"
	"vkbd/internal/ipc"
)

func cmdStatus(args []string) error {
	cfg := loadConfig()
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	socketPath := fs.String("socket", cfg.Bridge.SocketPath, "socket path of the host")
	timeout := fs.Duration("timeout", 2*time.Second, "how long to wait for an answer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("Socket: %s\n", *socketPath)
	client, err := ipc.Dial(ctx, *socketPath)
	if err != nil {
		if errors.Is(err, ipc.ErrNotRunning) {
			fmt.Println("Host Status: NOT RUNNING")
			return nil
		}
		return err
	}
	defer client.Close()

	start := time.Now()
	if err := client.Ping(ctx); err != nil {
		fmt.Println("Host Status: NOT ANSWERING")
		return err
	}
	rtt := time.Since(start)

	var caps ipc.CapabilitiesResponse
	if err := client.Call(ctx, ipc.MsgCapabilities, nil, &caps); err != nil {
		return fmt.Errorf("query capabilities: %w", err)
	}
	fmt.Printf("Host Status: RUNNING (ping %s)\n", rtt.Round(time.Microsecond))
	fmt.Printf("Protocol: %s", caps.Version)
	if caps.Version != bridge.ProtocolVersion {
		fmt.Printf(" (this tool speaks %s)", bridge.ProtocolVersion)
	}
	fmt.Println()
	fmt.Printf("Dictation: %v\n", caps.DictationAvailable)
	return nil
}
