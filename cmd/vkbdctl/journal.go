package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"vkbd/internal/journal"
)

func cmdJournal(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: vkbdctl journal <list|verify|match|prune> [args]")
	}

	cfg := loadConfig()
	if _, err := os.Stat(cfg.Journal.Path); os.IsNotExist(err) {
		return fmt.Errorf("no journal at %s", cfg.Journal.Path)
	}
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := context.Background()
	switch args[0] {
	case "list":
		entries, err := j.List(ctx, 0)
		if err != nil {
			return err
		}
		return printEntries(os.Stdout, entries)

	case "verify":
		n, err := j.Count(ctx)
		if err != nil {
			return err
		}
		if err := j.Verify(ctx); err != nil {
			return err
		}
		fmt.Printf("%d entries verified\n", n)
		return nil

	case "match":
		if len(args) != 3 {
			return errors.New("usage: vkbdctl journal match <id> <value>")
		}
		ok, err := j.Matches(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("no match")
			os.Exit(2)
		}
		fmt.Println("match")
		return nil

	case "prune":
		if len(args) != 2 {
			return errors.New("usage: vkbdctl journal prune <age>")
		}
		age, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("bad age: %w", err)
		}
		n, err := j.Prune(ctx, time.Now().Add(-age))
		if err != nil {
			return err
		}
		fmt.Printf("%d entries removed\n", n)
		return nil

	default:
		return fmt.Errorf("unknown journal command: %s", args[0])
	}
}

func printEntries(out io.Writer, entries []*journal.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No sessions recorded")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUBMITTED\tDURATION\tLENGTH\tKEYS\tBACKSPACES\tDICTATIONS\tRETURN")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			e.ID,
			e.SubmittedAt.Local().Format(time.DateTime),
			e.Duration().Round(100*time.Millisecond),
			e.ValueLength,
			e.Keystrokes,
			e.Backspaces,
			e.Dictations,
			e.ReturnKeyLabel,
		)
	}
	return tw.Flush()
}
