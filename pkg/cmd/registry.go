package cmd

import (
	"log/slog"
	"time"

	"github.com/gantry-io/gantry/pkg/planner"
	"github.com/gantry-io/gantry/pkg/registry"
)

// NewRegistry builds a stage/task registry with the engine's built-in types
// registered. Deployments add their own stage types on top.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)
	planner.RegisterBuiltins(reg, time.Now)

	return reg
}
