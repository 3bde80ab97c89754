// Package modules is the explicit list of rendering modules. Each module
// registers a factory under its name from an init function; the server
// loads the ones named in MODULES.
package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/mohammed-shakir/wmsd/internal/cache/redisstore"
	"github.com/mohammed-shakir/wmsd/internal/core/config"
	"github.com/mohammed-shakir/wmsd/internal/invalidation"
	"github.com/mohammed-shakir/wmsd/internal/registry"
)

var ErrUnknownModule = errors.New("unknown module")

// Deps are the shared resources handed to module factories.
type Deps struct {
	Config config.Config
	Logger *slog.Logger
	// Redis is created lazily; modules that never touch it never connect.
	Redis *redisstore.Shared
	// Invalidation is nil when no invalidation feed is configured.
	Invalidation *invalidation.Hub
}

// Factory registers a module's styles, layers and tree providers.
type Factory func(ctx context.Context, reg *registry.Registry, deps Deps) error

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	if _, dup := reg[name]; dup {
		panic(fmt.Sprintf("modules: %q registered twice", name))
	}
	reg[name] = f
}

// Names lists the available modules.
func Names() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Load runs the named factories in order. Unknown names and factory
// failures abort startup.
func Load(ctx context.Context, names []string, r *registry.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	for i, name := range names {
		if slices.Contains(names[:i], name) {
			deps.Logger.Warn("module listed twice; loading once", "module", name)
			continue
		}
		f, ok := reg[name]
		if !ok {
			return fmt.Errorf("%w %q (available: %v)", ErrUnknownModule, name, Names())
		}
		if err := f(ctx, r, deps); err != nil {
			return fmt.Errorf("module %q: %w", name, err)
		}
		deps.Logger.Info("module loaded", "module", name)
	}
	return nil
}
