package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devnation593/chupistica/pkg/chupistica"
)

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	reg := NewRegistry(cfg, createTestLogBackend())
	t.Cleanup(reg.Stop)
	return reg
}

func TestRegistryCreateAndLookup(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{})

	actor, err := reg.Create("host", "")
	require.NoError(t, err)
	require.Regexp(t, `^[A-Z0-9]{6}$`, actor.Code())

	// Lookup is case-insensitive.
	found, err := reg.Lookup(actor.Code())
	require.NoError(t, err)
	require.Same(t, actor, found)

	lower, err := reg.Lookup(strings.ToLower(actor.Code()))
	require.NoError(t, err)
	require.Same(t, actor, lower)

	_, err = reg.Lookup("NOPE42")
	require.Equal(t, chupistica.ErrGameNotFound, chupistica.KindOf(err))

	_, err = reg.Lookup("no")
	require.Equal(t, chupistica.ErrInvalidGameCode, chupistica.KindOf(err))
}

func TestRegistryLookupNormalizesCase(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{})

	actor, err := reg.Create("host", "GaMe42")
	require.NoError(t, err)
	require.Equal(t, "GAME42", actor.Code())

	found, err := reg.Lookup("game42")
	require.NoError(t, err)
	require.Same(t, actor, found)
}

func TestRegistryCustomCodeCollision(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{})

	_, err := reg.Create("a", "ABC123")
	require.NoError(t, err)

	_, err = reg.Create("b", "abc123")
	require.Equal(t, chupistica.ErrCodeTaken, chupistica.KindOf(err))

	_, err = reg.Create("b", "ab")
	require.Equal(t, chupistica.ErrInvalidGameCode, chupistica.KindOf(err))
}

func TestRegistryCapacity(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{MaxSessions: 2})

	_, err := reg.Create("a", "")
	require.NoError(t, err)
	_, err = reg.Create("b", "")
	require.NoError(t, err)

	_, err = reg.Create("c", "")
	require.Equal(t, chupistica.ErrCapacityExceeded, chupistica.KindOf(err))
	require.Equal(t, 2, reg.Count())
}

func TestRegistryDeterministicWithSeed(t *testing.T) {
	a := newTestRegistry(t, RegistryConfig{Seed: 7})
	b := newTestRegistry(t, RegistryConfig{Seed: 7})

	actorA, err := a.Create("host", "")
	require.NoError(t, err)
	actorB, err := b.Create("host", "")
	require.NoError(t, err)
	require.Equal(t, actorA.Code(), actorB.Code())
}

func TestRegistryReapsEndedSessions(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{GraceEnded: time.Millisecond})

	actor, err := reg.Create("host", "")
	require.NoError(t, err)
	code := actor.Code()

	ctx := context.Background()
	_, err = actor.Do(ctx, Command{Type: CmdEnd, PlayerID: "host", Reason: "test"})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	reaped := reg.Reap()
	require.Equal(t, 1, reaped)

	_, err = reg.Lookup(code)
	require.Equal(t, chupistica.ErrGameNotFound, chupistica.KindOf(err))
}

func TestRegistryKeepsBusySessions(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{IdleTimeout: time.Hour})

	actor, err := reg.Create("host", "")
	require.NoError(t, err)

	require.Equal(t, 0, reg.Reap())

	_, err = reg.Lookup(actor.Code())
	require.NoError(t, err)
}

func TestRegistryReapsIdleWaitingSessionWithoutSubscribers(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{IdleTimeout: time.Millisecond})

	actor, err := reg.Create("host", "")
	require.NoError(t, err)

	// A connected subscriber keeps the session alive past the timeout.
	sub := actor.Bus().Subscribe()
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 0, reg.Reap())

	actor.Bus().Unsubscribe(sub.ID)
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, reg.Reap())
}
