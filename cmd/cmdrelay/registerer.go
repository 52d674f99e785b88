package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/haasonsaas/cmdrelay/internal/commands"
)

// exampleCommands is the application registerer shipped with the binary.
type exampleCommands struct {
	started  time.Time
	shutdown func()
}

func newExampleCommands(shutdown func()) *exampleCommands {
	return &exampleCommands{started: time.Now(), shutdown: shutdown}
}

func (c *exampleCommands) HandleRegistration(r *commands.Registry) {
	r.Register(commands.Descriptor{
		Name:        "echo",
		Aliases:     []string{"e"},
		Category:    "fun",
		Description: "Repeat the arguments back",
		Usage:       "echo <text> [--loud] [--reverse]",
		Examples:    "echo hello --loud",
		Flags:       []string{"loud", "reverse"},
	}, echo)

	r.Register(commands.Descriptor{
		Name:        "flags",
		Category:    "debug",
		Description: "Show how the arguments were parsed",
		Usage:       "flags [args...] [--flag...]",
	}, func(ctx context.Context, inv *commands.Invocation) (string, error) {
		return fmt.Sprintf("args: %s\nflags: %s", quoteAll(inv.Args), quoteAll(inv.Flags)), nil
	})

	r.Register(commands.Descriptor{
		Name:        "about",
		Category:    "info",
		Description: "Show build and uptime information",
	}, func(ctx context.Context, inv *commands.Invocation) (string, error) {
		uptime := time.Since(c.started).Truncate(time.Second)
		return fmt.Sprintf("cmdrelay %s (commit %s), up %s, %d commands",
			version, commit, uptime, len(r.Names())), nil
	})

	r.Register(commands.Descriptor{
		Name:        "shutdown",
		Category:    commands.OwnerCategory,
		Description: "Disconnect and stop the bot",
	}, func(ctx context.Context, inv *commands.Invocation) (string, error) {
		if c.shutdown == nil {
			return "", fmt.Errorf("shutdown is not available")
		}
		err := inv.Reply(ctx, "Shutting down.")
		c.shutdown()
		return "", err
	})
}

func echo(ctx context.Context, inv *commands.Invocation) (string, error) {
	text := strings.Join(inv.Args, " ")
	if inv.HasFlag("reverse") {
		runes := []rune(text)
		slices.Reverse(runes)
		text = string(runes)
	}
	if inv.HasFlag("loud") {
		text = strings.ToUpper(text)
	}
	return text, nil
}

func quoteAll(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, " ")
}
