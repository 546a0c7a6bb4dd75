package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMachineTransitions(t *testing.T) {
	m := New("waiting", map[string][]string{
		"waiting": {"playing", "ended"},
		"playing": {"ended"},
	})

	require.Equal(t, "waiting", m.Current())
	require.True(t, m.Is("waiting"))
	require.True(t, m.CanTransition("playing"))

	require.NoError(t, m.Transition("playing"))
	require.Equal(t, "playing", m.Current())

	// Only forward moves are declared.
	require.Error(t, m.Transition("waiting"))
	require.Equal(t, "playing", m.Current())

	require.NoError(t, m.Transition("ended"))
	require.False(t, m.CanTransition("playing"))
	require.Error(t, m.Transition("ended"))
}

func TestMachineForce(t *testing.T) {
	m := New("waiting", map[string][]string{"waiting": {"ended"}})
	m.Force("ended")
	require.Equal(t, "ended", m.Current())
}
