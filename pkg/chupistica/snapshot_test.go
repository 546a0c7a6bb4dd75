package chupistica

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestSession(t, "h", "p2", "p3")
	_, err := s.Start("h")
	require.NoError(t, err)
	rigDeck(s,
		NewCard(Spades, Ace),
		NewCard(Hearts, Five),
		NewCard(Clubs, Seven),
		NewCard(Diamonds, King),
		NewCard(Hearts, Two),
	)

	for i := 0; i < 4; i++ {
		_, err := s.Draw(s.CurrentParticipant())
		require.NoError(t, err)
	}

	snap := s.Snapshot()
	data, err := snap.Marshal()
	require.NoError(t, err)

	parsed, err := ParseSnapshot(data)
	require.NoError(t, err)

	restored, err := RestoreSession(parsed, s.clock)
	require.NoError(t, err)
	require.NoError(t, restored.CheckInvariants())

	data2, err := restored.Snapshot().Marshal()
	require.NoError(t, err)
	require.Equal(t, string(data), string(data2), "snapshot -> restore -> snapshot must be byte-identical")

	// The restored session keeps playing identically.
	require.Equal(t, s.CurrentParticipant(), restored.CurrentParticipant())
	require.Equal(t, s.Direction(), restored.Direction())
	require.Equal(t, s.KingsCount(), restored.KingsCount())

	a, err := s.Draw(s.CurrentParticipant())
	require.NoError(t, err)
	b, err := restored.Draw(restored.CurrentParticipant())
	require.NoError(t, err)
	require.Equal(t, a.Card, b.Card)
}

func TestSnapshotDrawRevert(t *testing.T) {
	s := newTestSession(t, "h", "p2")
	_, err := s.Start("h")
	require.NoError(t, err)

	before, err := s.Snapshot().Marshal()
	require.NoError(t, err)

	// Apply a draw on a shadow replica built from the snapshot; the
	// original snapshot is unchanged by it.
	parsed, err := ParseSnapshot(before)
	require.NoError(t, err)
	shadow, err := RestoreSession(parsed, s.clock)
	require.NoError(t, err)
	_, err = shadow.Draw(shadow.CurrentParticipant())
	require.NoError(t, err)

	reverted, err := ParseSnapshot(before)
	require.NoError(t, err)
	replay, err := RestoreSession(reverted, s.clock)
	require.NoError(t, err)
	again, err := replay.Snapshot().Marshal()
	require.NoError(t, err)
	require.Equal(t, string(before), string(again))
}

func TestParseSnapshotRejectsBadVersion(t *testing.T) {
	_, err := ParseSnapshot([]byte(`{"version":2}`))
	require.Error(t, err)

	_, err = ParseSnapshot([]byte(`not json`))
	require.Error(t, err)
}
