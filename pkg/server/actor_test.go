package server

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devnation593/chupistica/pkg/chupistica"
)

func newTestActor(t *testing.T, participants ...string) *Actor {
	t.Helper()
	require.NotEmpty(t, participants)

	logBackend := createTestLogBackend()
	log := logBackend.Logger("TEST")

	session, err := chupistica.NewSession(chupistica.SessionConfig{
		Code:   "ABC123",
		HostID: participants[0],
		Rng:    rand.New(rand.NewSource(42)),
	})
	require.NoError(t, err)

	actor := NewActor(session, NewBus("ABC123", 64, log), 0, log, nil)
	actor.Start()
	t.Cleanup(actor.Stop)

	ctx := context.Background()
	for _, p := range participants[1:] {
		_, err := actor.Do(ctx, Command{Type: CmdJoin, PlayerID: p})
		require.NoError(t, err)
	}
	return actor
}

func TestActorCommandFlow(t *testing.T) {
	actor := newTestActor(t, "h", "p2", "p3")
	sub := actor.Bus().Subscribe()
	ctx := context.Background()

	_, err := actor.Do(ctx, Command{Type: CmdStart, PlayerID: "h"})
	require.NoError(t, err)

	res, err := actor.Do(ctx, Command{Type: CmdDraw, PlayerID: "h"})
	require.NoError(t, err)
	drawn, ok := res.Data.(CardDrawnPayload)
	require.True(t, ok)
	require.NotEmpty(t, drawn.Card)

	// gameStarted, cardDrawn, then turnChanged (or the kings/ended pair),
	// all in command order.
	ev := <-sub.C
	require.Equal(t, EventGameStarted, ev.Type)
	ev = <-sub.C
	require.Equal(t, EventCardDrawn, ev.Type)
}

func TestActorRejectsInvalidCommandsWithoutEvents(t *testing.T) {
	actor := newTestActor(t, "h", "p2")
	sub := actor.Bus().Subscribe()
	ctx := context.Background()

	_, err := actor.Do(ctx, Command{Type: CmdDraw, PlayerID: "h"})
	require.Equal(t, chupistica.ErrWrongState, chupistica.KindOf(err))

	_, err = actor.Do(ctx, Command{Type: CmdStart, PlayerID: "p2"})
	require.Equal(t, chupistica.ErrNotHost, chupistica.KindOf(err))

	// A failed command never produces a bus event.
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %s after failed commands", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestActorSerializesConcurrentDraws(t *testing.T) {
	actor := newTestActor(t, "h", "p2")
	ctx := context.Background()

	_, err := actor.Do(ctx, Command{Type: CmdStart, PlayerID: "h"})
	require.NoError(t, err)

	// Hammer the actor from both players at once. Exactly one command can
	// hold the turn at any moment, so across all attempts the successes
	// alternate h, p2, h, p2... and the failures are NotYourTurn, or
	// WrongState once the game has ended.
	const attempts = 40
	var wg sync.WaitGroup
	errs := make([][]error, 2)
	players := []string{"h", "p2"}
	for i, p := range players {
		wg.Add(1)
		errs[i] = make([]error, attempts)
		go func(i int, p string) {
			defer wg.Done()
			for j := 0; j < attempts; j++ {
				_, err := actor.Do(ctx, Command{Type: CmdDraw, PlayerID: p})
				errs[i][j] = err
			}
		}(i, p)
	}
	wg.Wait()

	succeeded := 0
	for i := range errs {
		for _, err := range errs[i] {
			if err == nil {
				succeeded++
			} else {
				kind := chupistica.KindOf(err)
				require.Contains(t,
					[]chupistica.ErrorKind{chupistica.ErrNotYourTurn, chupistica.ErrWrongState, chupistica.ErrDeckEmpty},
					kind)
			}
		}
	}
	require.Greater(t, succeeded, 0)

	snap, err := actor.Do(ctx, Command{Type: CmdSnapshot})
	require.NoError(t, err)
	draws := 0
	for _, e := range snap.Snapshot.History {
		if e.Kind == chupistica.EventDraw {
			draws++
		}
	}
	require.Equal(t, succeeded, draws)
	require.Equal(t, 52-draws, len(snap.Snapshot.Deck))
}

func TestActorExpiredDeadlineCancels(t *testing.T) {
	actor := newTestActor(t, "h", "p2")
	ctx := context.Background()

	_, err := actor.Do(ctx, Command{
		Type:     CmdStart,
		PlayerID: "h",
		Deadline: time.Now().Add(-time.Second),
	})
	require.Equal(t, chupistica.ErrCancelled, chupistica.KindOf(err))

	// The cancelled command did not mutate state.
	res, err := actor.Do(ctx, Command{Type: CmdSnapshot})
	require.NoError(t, err)
	require.Equal(t, chupistica.StatusWaiting, res.Snapshot.Status)
}

func TestActorEventOrderMatchesCommandOrder(t *testing.T) {
	actor := newTestActor(t, "h", "p2")
	sub := actor.Bus().Subscribe()
	ctx := context.Background()

	_, err := actor.Do(ctx, Command{Type: CmdStart, PlayerID: "h"})
	require.NoError(t, err)

	// With two players every draw hands the turn to the other player,
	// direction flips included.
	turn := []string{"h", "p2"}
	for i := 0; i < 6; i++ {
		res, err := actor.Do(ctx, Command{Type: CmdDraw, PlayerID: turn[0]})
		require.NoError(t, err)
		if res.Data.(CardDrawnPayload).Ended {
			break
		}
		turn = []string{turn[1], turn[0]}
	}

	var lastSeq uint64
	timeout := time.After(time.Second)
	for i := 0; i < 5; i++ {
		select {
		case ev := <-sub.C:
			if i > 0 {
				require.Equal(t, lastSeq+1, ev.Seq, "subscriber observes the session's total order with no gaps")
			}
			lastSeq = ev.Seq
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

func TestActorStopFailsPending(t *testing.T) {
	actor := newTestActor(t, "h")
	actor.Stop()

	_, err := actor.Do(context.Background(), Command{Type: CmdSnapshot})
	require.Error(t, err)
}

func TestActorSnapshotStoreArchivesEndedSessions(t *testing.T) {
	store := &memorySaver{}
	logBackend := createTestLogBackend()
	log := logBackend.Logger("TEST")

	session, err := chupistica.NewSession(chupistica.SessionConfig{
		Code:   "ZZZ999",
		HostID: "h",
		Rng:    rand.New(rand.NewSource(7)),
	})
	require.NoError(t, err)

	actor := NewActor(session, NewBus("ZZZ999", 8, log), 0, log, store)
	actor.Start()
	defer actor.Stop()

	ctx := context.Background()
	_, err = actor.Do(ctx, Command{Type: CmdJoin, PlayerID: "p2"})
	require.NoError(t, err)
	_, err = actor.Do(ctx, Command{Type: CmdStart, PlayerID: "h"})
	require.NoError(t, err)
	_, err = actor.Do(ctx, Command{Type: CmdEnd, PlayerID: "h", Reason: "done"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return store.lastReason() == "ended"
	}, time.Second, 10*time.Millisecond)
}

// memorySaver records StateSaver calls for assertions.
type memorySaver struct {
	mu      sync.Mutex
	reasons []string
}

func (m *memorySaver) SaveSnapshotAsync(code string, snap *chupistica.SessionSnapshot, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
}

func (m *memorySaver) lastReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reasons) == 0 {
		return ""
	}
	return m.reasons[len(m.reasons)-1]
}
