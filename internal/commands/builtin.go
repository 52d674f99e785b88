package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// BuiltinCategory groups the commands registered by RegisterBuiltins.
const BuiltinCategory = "system"

// BuiltinConfig configures RegisterBuiltins.
type BuiltinConfig struct {
	// Prefix is only used to render help text.
	Prefix string

	// OwnerID is the only user shown owner-category commands in help.
	OwnerID string
}

// RegisterBuiltins registers help and ping. Call it after the
// application's commands: a builtin whose name is already claimed is
// skipped, and so is any builtin alias that is.
func RegisterBuiltins(r *Registry, cfg BuiltinConfig) error {
	if r == nil {
		return fmt.Errorf("register builtins: nil registry")
	}

	registerUnclaimed(r, Descriptor{
		Name:        "help",
		Aliases:     []string{"h", "commands"},
		Category:    BuiltinCategory,
		Description: "Show available commands",
		Usage:       "help [command]",
		Examples:    "help ping",
	}, helpHandler(r, cfg))

	registerUnclaimed(r, Descriptor{
		Name:        "ping",
		Category:    BuiltinCategory,
		Description: "Check that the bot is responding",
		Usage:       "ping",
	}, func(ctx context.Context, inv *Invocation) (string, error) {
		return "pong", nil
	})

	return nil
}

func registerUnclaimed(r *Registry, desc Descriptor, fn HandlerFunc) {
	if r.Claimed(desc.Name) {
		r.logger.Debug("builtin shadowed by application command", "name", desc.Name)
		return
	}
	aliases := make([]string, 0, len(desc.Aliases))
	for _, alias := range desc.Aliases {
		if !r.Claimed(alias) {
			aliases = append(aliases, alias)
		}
	}
	desc.Aliases = aliases
	r.Register(desc, fn)
}

// Casers are stateful and cannot be shared across goroutines.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func helpHandler(r *Registry, cfg BuiltinConfig) HandlerFunc {
	prefix := cfg.Prefix
	return func(ctx context.Context, inv *Invocation) (string, error) {
		// Owner commands stay invisible to everyone else, like a miss.
		visible := func(desc Descriptor) bool {
			return !desc.OwnerOnly() || (cfg.OwnerID != "" && inv.AuthorID() == cfg.OwnerID)
		}

		if target := inv.Arg(0); target != "" {
			return describeCommand(r, prefix, strings.TrimPrefix(target, prefix), visible), nil
		}

		byCategory := r.ListByCategory()
		categories := make([]string, 0, len(byCategory))
		for cat := range byCategory {
			categories = append(categories, cat)
		}
		sort.Strings(categories)

		var sb strings.Builder
		sb.WriteString("**Available Commands**\n\n")
		for _, category := range categories {
			var shown []Descriptor
			for _, cmd := range byCategory[category] {
				if desc := cmd.Descriptor(); visible(desc) {
					shown = append(shown, desc)
				}
			}
			if len(shown) == 0 {
				continue
			}
			sb.WriteString(fmt.Sprintf("**%s**\n", titleCase(category)))
			for _, desc := range shown {
				text := desc.Description
				if text == "" {
					text = "No description"
				}
				sb.WriteString(fmt.Sprintf("  `%s%s` - %s\n", prefix, desc.Name, text))
			}
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("Use `%shelp <command>` for more details.", prefix))
		return sb.String(), nil
	}
}

func describeCommand(r *Registry, prefix, name string, visible func(Descriptor) bool) string {
	cmd, ok := r.Lookup(name)
	var desc Descriptor
	if ok {
		desc = cmd.Descriptor()
	}
	if !ok || !visible(desc) {
		return fmt.Sprintf("Unknown command: %s\n\nUse %shelp to see available commands.", name, prefix)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%s%s**\n", prefix, desc.Name))
	if desc.Description != "" {
		sb.WriteString(desc.Description + "\n")
	}
	if desc.Usage != "" {
		sb.WriteString(fmt.Sprintf("\nUsage: `%s%s`\n", prefix, desc.Usage))
	}
	if desc.Examples != "" {
		sb.WriteString(fmt.Sprintf("Example: `%s%s`\n", prefix, desc.Examples))
	}
	if len(desc.Aliases) > 0 {
		aliases := make([]string, len(desc.Aliases))
		for i, a := range desc.Aliases {
			aliases[i] = prefix + a
		}
		sb.WriteString(fmt.Sprintf("\nAliases: %s\n", strings.Join(aliases, ", ")))
	}
	if len(desc.Flags) > 0 {
		flags := make([]string, len(desc.Flags))
		for i, f := range desc.Flags {
			flags[i] = FlagMarker + f
		}
		sb.WriteString(fmt.Sprintf("Flags: %s\n", strings.Join(flags, ", ")))
	}
	if desc.OwnerOnly() {
		sb.WriteString("\nOwner only\n")
	}
	return sb.String()
}
