package commands

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry maps command names to commands.
//
// It is populated once at startup and read concurrently by the dispatcher.
// Registration is still guarded so late registrations are safe.
type Registry struct {
	commands map[string]Command
	aliases  map[string][]string // name -> aliases captured at registration
	order    []string            // registration order, used for alias scans
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates an empty command registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(map[string]Command),
		aliases:  make(map[string][]string),
		logger:   logger.With("component", "commands"),
	}
}

// RegisterCommand stores cmd under name, replacing any command already
// registered under exactly that name. The name is not validated.
func (r *Registry) RegisterCommand(name string, cmd Command) {
	if cmd == nil {
		return
	}
	desc := cmd.Descriptor()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[name]; exists {
		r.logger.Debug("replacing command", "name", name)
	} else {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
	r.aliases[name] = desc.Aliases

	for _, alias := range desc.Aliases {
		if other, ok := r.aliasOwnerLocked(alias, name); ok {
			r.logger.Warn("alias already registered",
				"alias", alias,
				"command", name,
				"existing", other)
		}
	}

	r.logger.Debug("registered command",
		"name", name,
		"aliases", desc.Aliases,
		"category", desc.Category)
}

// Register wraps fn into a command carrying desc's metadata and stores it
// under desc.Name.
func (r *Registry) Register(desc Descriptor, fn HandlerFunc) {
	r.RegisterCommand(desc.Name, NewFunc(desc, fn))
}

// RegisterFunc registers fn under name with no other metadata.
func (r *Registry) RegisterFunc(name string, fn HandlerFunc) {
	r.Register(Descriptor{Name: name}, fn)
}

// Lookup resolves a command by exact name, then by case-insensitive alias.
//
// Aliases are scanned in registration order, so when two commands claim the
// same alias the earlier registration wins.
func (r *Registry) Lookup(token string) (Command, bool) {
	if token == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if cmd, ok := r.commands[token]; ok {
		return cmd, true
	}

	if name, ok := r.aliasOwnerLocked(token, ""); ok {
		return r.commands[name], true
	}
	return nil, false
}

// Claimed reports whether token already resolves, either as a name or as
// an alias.
func (r *Registry) Claimed(token string) bool {
	_, ok := r.Lookup(token)
	return ok
}

// aliasOwnerLocked returns the first command in registration order, other
// than skip, that declares alias. r.mu must be held.
func (r *Registry) aliasOwnerLocked(alias, skip string) (string, bool) {
	for _, name := range r.order {
		if name == skip {
			continue
		}
		if containsFold(r.aliases[name], alias) {
			return name, true
		}
	}
	return "", false
}

// All returns a copy of the name to command mapping.
func (r *Registry) All() map[string]Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Command, len(r.commands))
	for name, cmd := range r.commands {
		out[name] = cmd
	}
	return out
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []Command {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Command, 0, len(names))
	for _, name := range names {
		if cmd, ok := r.commands[name]; ok {
			out = append(out, cmd)
		}
	}
	return out
}

// Names returns all registered names (not aliases), sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListByCategory groups commands by lower-cased category. Commands without
// a category are grouped under "general".
func (r *Registry) ListByCategory() map[string][]Command {
	result := make(map[string][]Command)
	for _, cmd := range r.List() {
		category := strings.ToLower(strings.TrimSpace(cmd.Descriptor().Category))
		if category == "" {
			category = "general"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}
