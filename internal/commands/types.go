// Package commands provides prefix command registration, tokenizing and dispatch.
package commands

import (
	"context"
	"slices"
	"strings"
)

// OwnerCategory marks a command as restricted to the configured owner.
// Categories are compared case-insensitively.
const OwnerCategory = "owner"

// Descriptor is the metadata of a registered command.
type Descriptor struct {
	// Name is the registry key. Exact-name lookups are case-sensitive.
	Name string `json:"name"`

	// Category groups commands in help output. "owner" restricts the
	// command to the configured owner.
	Category string `json:"category,omitempty"`

	Description string `json:"description,omitempty"`

	// Aliases are alternative names, matched case-insensitively.
	Aliases []string `json:"aliases,omitempty"`

	// Usage and Examples are written without the prefix; help adds it.
	Usage    string `json:"usage,omitempty"`
	Examples string `json:"examples,omitempty"`

	// Flags lists the --flags the command advertises. Callers may still
	// pass undeclared flags.
	Flags []string `json:"flags,omitempty"`
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (d Descriptor) Clone() Descriptor {
	d.Aliases = cloneStrings(d.Aliases)
	d.Flags = cloneStrings(d.Flags)
	return d
}

// OwnerOnly reports whether the descriptor's category is the owner category.
func (d Descriptor) OwnerOnly() bool {
	return strings.EqualFold(d.Category, OwnerCategory)
}

// HasFlag reports whether name is one of the advertised flags.
func (d Descriptor) HasFlag(name string) bool {
	return containsFold(d.Flags, name)
}

// HasAlias reports whether name matches one of the aliases.
func (d Descriptor) HasAlias(name string) bool {
	return containsFold(d.Aliases, name)
}

// Command is a unit of behavior bound to a descriptor.
//
// Execute returns the text to send back to the invoking channel; an empty
// string sends nothing. A returned error is logged by the dispatcher and
// never shown to the user.
type Command interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, inv *Invocation) (string, error)
}

// HandlerFunc is a plain callback usable as a command body.
type HandlerFunc func(ctx context.Context, inv *Invocation) (string, error)

// Base can be embedded by command structs to satisfy Descriptor().
//
//	type Ping struct{ commands.Base }
//
//	func (Ping) Execute(ctx context.Context, inv *commands.Invocation) (string, error) {
//		return "pong", nil
//	}
type Base struct {
	Meta Descriptor
}

// Descriptor returns a copy of the embedded metadata.
func (b Base) Descriptor() Descriptor {
	return b.Meta.Clone()
}

// funcCommand adapts a HandlerFunc to Command.
type funcCommand struct {
	desc Descriptor
	fn   HandlerFunc
}

func (c *funcCommand) Descriptor() Descriptor {
	return c.desc.Clone()
}

func (c *funcCommand) Execute(ctx context.Context, inv *Invocation) (string, error) {
	if c.fn == nil {
		return "", nil
	}
	return c.fn(ctx, inv)
}

// NewFunc wraps fn into a Command carrying a copy of desc.
func NewFunc(desc Descriptor, fn HandlerFunc) Command {
	return &funcCommand{desc: desc.Clone(), fn: fn}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return slices.Clone(in)
}

func containsFold(list []string, name string) bool {
	for _, item := range list {
		if strings.EqualFold(item, name) {
			return true
		}
	}
	return false
}
