// Package dnd toggles the desktop's do-not-disturb mode while a call is
// being recorded. Every operation is best effort and never panics.
package dnd

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const commandTimeout = 10 * time.Second

// Effector suppresses and restores notifications. Both calls are idempotent.
type Effector interface {
	Enable() bool
	Disable() bool
}

// Nop is used when DND handling is switched off.
type Nop struct{}

func (Nop) Enable() bool  { return true }
func (Nop) Disable() bool { return true }

// Command is one external program invocation. When Expect is set the
// combined output must contain it (case-insensitively) to count as success.
type Command struct {
	Name   string
	Args   []string
	Expect string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Method is a sequence of commands that must all succeed.
type Method []Command

// Strategy lists alternative methods tried in order until one succeeds.
type Strategy struct {
	Enable  []Method
	Disable []Method
	// DisableAlwaysSucceeds clears the active flag even if every disable
	// method failed, so the next call can try to enable again.
	DisableAlwaysSucceeds bool
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type Controller struct {
	strategy Strategy
	run      Runner
	log      zerolog.Logger

	mu     sync.Mutex
	active bool
}

// New returns a controller using the strategy for the running OS.
func New(log zerolog.Logger) *Controller {
	return NewWithStrategy(StrategyFor(runtime.GOOS), nil, log)
}

// NewWithStrategy is New with an explicit strategy and runner. A nil runner executes real commands.
func NewWithStrategy(s Strategy, run Runner, log zerolog.Logger) *Controller {
	if run == nil {
		run = execRunner
	}
	return &Controller{
		strategy: s,
		run:      run,
		log:      log.With().Str("component", "dnd").Logger(),
	}
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) Enable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return true
	}
	if c.try("enable", c.strategy.Enable) {
		c.active = true
		c.log.Info().Msg("Do not disturb enabled")
		return true
	}
	c.log.Warn().Msg("Could not enable do not disturb")
	return false
}

func (c *Controller) Disable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return true
	}
	if c.try("disable", c.strategy.Disable) || c.strategy.DisableAlwaysSucceeds {
		c.active = false
		c.log.Info().Msg("Do not disturb disabled")
		return true
	}
	c.log.Warn().Msg("Could not disable do not disturb")
	return false
}

func (c *Controller) try(op string, methods []Method) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("op", op).Msg("DND command panicked")
			ok = false
		}
	}()

	for i, m := range methods {
		if err := c.runMethod(m); err != nil {
			c.log.Debug().Err(err).Str("op", op).Int("method", i).Msg("DND method failed")
			continue
		}
		return true
	}
	return false
}

func (c *Controller) runMethod(m Method) error {
	for _, cmd := range m {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		out, err := c.run(ctx, cmd.Name, cmd.Args...)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
		if cmd.Expect != "" && !strings.Contains(strings.ToLower(string(out)), strings.ToLower(cmd.Expect)) {
			return fmt.Errorf("%s: unexpected output %q", cmd, strings.TrimSpace(string(out)))
		}
	}
	return nil
}
