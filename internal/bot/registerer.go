package bot

import "github.com/haasonsaas/cmdrelay/internal/commands"

// Registerer adds the application's commands. Build calls it exactly once,
// before any connection is opened.
type Registerer interface {
	HandleRegistration(registry *commands.Registry)
}

// RegistererFunc adapts a function to Registerer.
type RegistererFunc func(registry *commands.Registry)

func (f RegistererFunc) HandleRegistration(registry *commands.Registry) {
	f(registry)
}
