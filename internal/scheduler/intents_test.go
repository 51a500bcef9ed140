package scheduler

import (
	"sync"
	"testing"

	"github.com/srg/stepprobe/internal/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntents_PriorityAndConsumeOnce(t *testing.T) {
	i := NewIntents(5)
	i.RequestToggleDirection()
	i.RequestReset()

	assert.Equal(t, Intent{Command: CommandReset}, i.next(0))
	assert.Equal(t, Intent{Command: CommandToggleDirection}, i.next(0))
	assert.Equal(t, Intent{Command: CommandSetDivider, Divider: 5}, i.next(0))
	assert.Equal(t, Intent{Command: CommandSetDivider, Divider: 5}, i.next(0), "divider MUST stay pending until written")
	assert.Equal(t, Intent{}, i.next(5), "nothing MUST be pending once the divider matches")
}

func TestIntents_Divider(t *testing.T) {
	i := NewIntents(7)
	assert.Equal(t, probe.DefaultCaptureDivider, i.Divider(), "invalid initial divider MUST fall back to the default")

	assert.Equal(t, 10, i.CycleDivider())
	assert.Equal(t, 20, i.CycleDivider())
	assert.Equal(t, 1, i.CycleDivider())

	require.NoError(t, i.SetDivider(2))
	assert.Equal(t, 2, i.Divider())
	assert.ErrorIs(t, i.SetDivider(3), probe.ErrInvalidDivider)
	assert.Equal(t, 2, i.Divider(), "rejected divider MUST NOT change the intent")
}

func TestIntents_Pause(t *testing.T) {
	i := NewIntents(5)
	assert.False(t, i.Paused())
	assert.True(t, i.TogglePause())
	assert.True(t, i.Paused())
	i.SetPaused(false)
	assert.False(t, i.Paused())
}

func TestIntents_ConcurrentPosting(t *testing.T) {
	i := NewIntents(5)
	var wg sync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			i.RequestReset()
			i.RequestToggleDirection()
			i.CycleDivider()
			i.TogglePause()
		}()
	}
	wg.Wait()

	assert.Equal(t, CommandReset, i.next(0).Command, "repeated requests MUST collapse into one reset")
	assert.Equal(t, CommandToggleDirection, i.next(0).Command)
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "reset", CommandReset.String())
	assert.Equal(t, "toggle_direction", CommandToggleDirection.String())
	assert.Equal(t, "set_divider", CommandSetDivider.String())
	assert.Equal(t, "none", CommandNone.String())
}
