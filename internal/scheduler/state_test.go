package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStateIsTerminal(t *testing.T) {
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateStopped.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
	assert.False(t, StateQueued.IsTerminal())
}

func TestJobStateCanTransitionTo(t *testing.T) {
	assert.True(t, StateQueued.CanTransitionTo(StateRunning))
	assert.True(t, StateRunning.CanTransitionTo(StateCompleted))
	assert.True(t, StateRunning.CanTransitionTo(StateFailed))
	assert.True(t, StateRunning.CanTransitionTo(StatePaused))
	assert.True(t, StatePaused.CanTransitionTo(StateRunning))

	assert.False(t, StateCompleted.CanTransitionTo(StateRunning))
	assert.False(t, StateFailed.CanTransitionTo(StateRunning))
	assert.False(t, StateQueued.CanTransitionTo(StateCompleted))
}
