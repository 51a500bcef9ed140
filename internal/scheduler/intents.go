package scheduler

import (
	"fmt"
	"sync"

	"github.com/srg/stepprobe/internal/probe"
)

// Command is a user command the scheduler flushes to the probe.
type Command int

const (
	CommandNone Command = iota
	CommandReset
	CommandToggleDirection
	CommandSetDivider
)

func (c Command) String() string {
	switch c {
	case CommandReset:
		return "reset"
	case CommandToggleDirection:
		return "toggle_direction"
	case CommandSetDivider:
		return "set_divider"
	default:
		return "none"
	}
}

// Intent is the pending user command selected for one tick.
type Intent struct {
	Command Command
	// Divider is set for CommandSetDivider.
	Divider int
}

// Intents collects user requests from any goroutine. The scheduler consumes at
// most one per tick, in priority order: reset, toggle direction, divider change.
type Intents struct {
	mu              sync.Mutex
	reset           bool
	toggleDirection bool
	divider         int
	paused          bool
}

// NewIntents creates Intents with the desired capture divider.
func NewIntents(divider int) *Intents {
	if !probe.ValidDivider(divider) {
		divider = probe.DefaultCaptureDivider
	}
	return &Intents{divider: divider}
}

// RequestReset asks for a data reset.
func (i *Intents) RequestReset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.reset = true
}

// RequestToggleDirection asks for a direction toggle.
func (i *Intents) RequestToggleDirection() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.toggleDirection = true
}

// SetDivider sets the desired capture divider.
func (i *Intents) SetDivider(n int) error {
	if !probe.ValidDivider(n) {
		return fmt.Errorf("%w: %d (valid: %v)", probe.ErrInvalidDivider, n, probe.CaptureDividers)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.divider = n
	return nil
}

// CycleDivider advances the desired divider to the next value in the cycle and returns it.
func (i *Intents) CycleDivider() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.divider = probe.NextDivider(i.divider)
	return i.divider
}

// Divider returns the desired capture divider.
func (i *Intents) Divider() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.divider
}

// SetPaused pauses or resumes scheduled actions and reading output.
func (i *Intents) SetPaused(paused bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paused = paused
}

// TogglePause flips the paused state and returns the new value.
func (i *Intents) TogglePause() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.paused = !i.paused
	return i.paused
}

// Paused reports whether the scheduler is paused.
func (i *Intents) Paused() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.paused
}

// next consumes the highest-priority pending command. lastDivider is the divider
// last written to the probe; 0 means none was written yet.
func (i *Intents) next(lastDivider int) Intent {
	i.mu.Lock()
	defer i.mu.Unlock()

	switch {
	case i.reset:
		i.reset = false
		return Intent{Command: CommandReset}
	case i.toggleDirection:
		i.toggleDirection = false
		return Intent{Command: CommandToggleDirection}
	case i.divider != lastDivider:
		return Intent{Command: CommandSetDivider, Divider: i.divider}
	default:
		return Intent{}
	}
}
