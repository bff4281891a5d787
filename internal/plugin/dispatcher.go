package plugin

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cubeforge-project/cubeforge/internal/world"
)

// Dispatcher holds the loaded plugins and runs their hooks. Every hook of a
// kind runs; the first denial wins. A panicking hook counts as Allow.
type Dispatcher struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  zerolog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		logger: log.With().Str("component", "plugins").Logger(),
	}
}

// Load loads each plugin. Plugins that fail to load are logged and skipped.
func (d *Dispatcher) Load(host Host, plugins ...Plugin) int {
	loaded := 0
	for _, p := range plugins {
		if err := d.loadOne(host, p); err != nil {
			d.logger.Error().Err(err).Str("plugin", p.Name()).Msg("failed to load plugin")
			continue
		}
		d.mu.Lock()
		d.plugins = append(d.plugins, p)
		d.mu.Unlock()
		d.logger.Info().Str("plugin", p.Name()).Msg("plugin loaded")
		loaded++
	}
	return loaded
}

func (d *Dispatcher) loadOne(host Host, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during load: %v", r)
		}
	}()
	return p.Load(host)
}

// UnloadAll unloads every plugin in reverse load order.
func (d *Dispatcher) UnloadAll() {
	d.mu.Lock()
	plugins := d.plugins
	d.plugins = nil
	d.mu.Unlock()

	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		d.guard(p, "unload", func() { p.Unload() })
		d.logger.Info().Str("plugin", p.Name()).Msg("plugin unloaded")
	}
}

// Plugins returns the loaded plugins.
func (d *Dispatcher) Plugins() []Plugin {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Plugin(nil), d.plugins...)
}

// Commands returns the commands all plugins provide.
func (d *Dispatcher) Commands() []Command {
	var out []Command
	for _, p := range d.Plugins() {
		if cp, ok := p.(CommandProvider); ok {
			out = MergeCommands(out, cp.Commands()...)
		}
	}
	return out
}

func (d *Dispatcher) Login(pl Player) Result {
	return d.run("login", func(p Plugin) (Result, bool) {
		h, ok := p.(LoginHook)
		if !ok {
			return Allow(), false
		}
		return h.OnLogin(pl), true
	})
}

func (d *Dispatcher) Message(pl Player, msg string) Result {
	return d.run("message", func(p Plugin) (Result, bool) {
		h, ok := p.(MessageHook)
		if !ok {
			return Allow(), false
		}
		return h.OnMessage(pl, msg), true
	})
}

func (d *Dispatcher) Move(pl Player, to world.Position) Result {
	return d.run("move", func(p Plugin) (Result, bool) {
		h, ok := p.(MoveHook)
		if !ok {
			return Allow(), false
		}
		return h.OnMove(pl, to), true
	})
}

func (d *Dispatcher) BlockEdit(pl Player, edit BlockEdit) Result {
	return d.run("block_edit", func(p Plugin) (Result, bool) {
		h, ok := p.(BlockEditHook)
		if !ok {
			return Allow(), false
		}
		return h.OnBlockEdit(pl, edit), true
	})
}

// Disconnect notifies every DisconnectHook.
func (d *Dispatcher) Disconnect(pl Player) {
	for _, p := range d.Plugins() {
		if h, ok := p.(DisconnectHook); ok {
			d.guard(p, "disconnect", func() { h.OnDisconnect(pl) })
		}
	}
}

func (d *Dispatcher) run(hook string, call func(p Plugin) (Result, bool)) Result {
	verdict := Allow()
	for _, p := range d.Plugins() {
		var r Result
		d.guard(p, hook, func() { r, _ = call(p) })
		if r.Denied && verdict.Allowed() {
			verdict = r
		}
	}
	return verdict
}

func (d *Dispatcher) guard(p Plugin, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("plugin", p.Name()).
				Str("hook", hook).
				Interface("panic", r).
				Msg("plugin hook panicked")
		}
	}()
	fn()
}
