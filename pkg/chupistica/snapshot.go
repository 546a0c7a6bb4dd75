package chupistica

import (
	"encoding/json"
	"time"

	"github.com/devnation593/chupistica/pkg/statemachine"
)

// SnapshotVersion is the export format version.
const SnapshotVersion = 1

// SnapshotEvent is one history entry in export form. Cards are flattened to
// their "rank_suit" ids.
type SnapshotEvent struct {
	Index   int         `json:"index"`
	Kind    EventKind   `json:"kind"`
	Actor   string      `json:"actor"`
	Card    string      `json:"card"`
	Outcome RuleOutcome `json:"outcome"`
	Target  string      `json:"target,omitempty"`
	Time    time.Time   `json:"time"`
}

// SnapshotSavedCard is a saved card in export form.
type SnapshotSavedCard struct {
	Card      string `json:"card"`
	DrawIndex int    `json:"drawIndex"`
}

// SnapshotVenganza is a venganza entry in export form.
type SnapshotVenganza struct {
	Owner     string `json:"owner"`
	Card      string `json:"card"`
	DrawIndex int    `json:"drawIndex"`
}

// SessionSnapshot is the versioned export of one session. Marshalling the
// same logical state always yields identical bytes: map keys sort, slices
// keep insertion order, and timestamps are UTC.
type SessionSnapshot struct {
	Version       int                            `json:"version"`
	Code          string                         `json:"code"`
	Host          string                         `json:"host"`
	Participants  []string                       `json:"participants"`
	Deck          []string                       `json:"deck"`
	Status        Status                         `json:"status"`
	TurnIndex     int                            `json:"turnIndex"`
	Direction     int                            `json:"direction"`
	History       []SnapshotEvent                `json:"history"`
	SavedCards    map[string][]SnapshotSavedCard `json:"savedCards"`
	VenganzaCards []SnapshotVenganza             `json:"venganzaCards"`
	KingsCount    int                            `json:"kingsCount"`
	CupContent    []CupEntry                     `json:"cupContent"`
	Rules         map[Rank]string                `json:"rules"`
	CreatedAt     time.Time                      `json:"createdAt"`
	StartedAt     *time.Time                     `json:"startedAt,omitempty"`
	EndedAt       *time.Time                     `json:"endedAt,omitempty"`
	EndReason     string                         `json:"endReason,omitempty"`
}

// Snapshot exports the full session state.
func (s *Session) Snapshot() *SessionSnapshot {
	snap := &SessionSnapshot{
		Version:      SnapshotVersion,
		Code:         s.code,
		Host:         s.hostID,
		Participants: s.Participants(),
		Status:       s.status.Current(),
		TurnIndex:    s.turnIndex,
		Direction:    s.direction,
		KingsCount:   s.kingsCount,
		CupContent:   s.CupContent(),
		Rules:        s.Rules(),
		CreatedAt:    s.createdAt,
		EndReason:    s.endReason,
	}

	deck := s.deck.Cards()
	snap.Deck = make([]string, len(deck))
	for i, c := range deck {
		snap.Deck[i] = c.ID()
	}

	snap.History = make([]SnapshotEvent, len(s.history))
	for i, h := range s.history {
		snap.History[i] = SnapshotEvent{
			Index:   h.Index,
			Kind:    h.Kind,
			Actor:   h.Actor,
			Card:    h.Card.ID(),
			Outcome: h.Outcome,
			Target:  h.Target,
			Time:    h.Time,
		}
	}

	snap.SavedCards = make(map[string][]SnapshotSavedCard, len(s.savedCards))
	for p, held := range s.savedCards {
		cards := make([]SnapshotSavedCard, len(held))
		for i, sc := range held {
			cards[i] = SnapshotSavedCard{Card: sc.Card.ID(), DrawIndex: sc.DrawIndex}
		}
		snap.SavedCards[p] = cards
	}

	snap.VenganzaCards = make([]SnapshotVenganza, len(s.venganzaCards))
	for i, v := range s.venganzaCards {
		snap.VenganzaCards[i] = SnapshotVenganza{Owner: v.Owner, Card: v.Card.ID(), DrawIndex: v.DrawIndex}
	}

	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}

	return snap
}

// Marshal serializes the snapshot to its canonical JSON form.
func (snap *SessionSnapshot) Marshal() ([]byte, error) {
	return json.Marshal(snap)
}

// ParseSnapshot deserializes a version-1 export.
func ParseSnapshot(data []byte) (*SessionSnapshot, error) {
	var snap SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, NewGameError(ErrInternal, "malformed snapshot: "+err.Error())
	}
	if snap.Version != SnapshotVersion {
		return nil, Errorf(ErrInternal, "unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

// RestoreSession rebuilds a live session from a snapshot. The optional clock
// follows the same contract as SessionConfig.Clock.
func RestoreSession(snap *SessionSnapshot, clock func() time.Time) (*Session, error) {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	deck := make([]Card, len(snap.Deck))
	for i, id := range snap.Deck {
		c, err := ParseCardID(id)
		if err != nil {
			return nil, err
		}
		deck[i] = c
	}

	s := &Session{
		code:            snap.Code,
		hostID:          snap.Host,
		participants:    append([]string(nil), snap.Participants...),
		deck:            NewDeckFromCards(deck),
		status:          statemachine.New(StatusWaiting, statusTransitions),
		turnIndex:       snap.TurnIndex,
		direction:       snap.Direction,
		kingsCount:      snap.KingsCount,
		cupContent:      append([]CupEntry(nil), snap.CupContent...),
		rules:           make(map[Rank]string, len(snap.Rules)),
		savedCards:      make(map[string][]SavedCard, len(snap.SavedCards)),
		savedCardPolicy: SavedCardDropOldest,
		clock:           clock,
		createdAt:       snap.CreatedAt,
		endReason:       snap.EndReason,
		lastActivity:    clock(),
	}
	s.status.Force(snap.Status)

	for k, v := range snap.Rules {
		s.rules[k] = v
	}
	if snap.StartedAt != nil {
		s.startedAt = *snap.StartedAt
	}
	if snap.EndedAt != nil {
		s.endedAt = *snap.EndedAt
	}

	s.history = make([]HistoryEntry, len(snap.History))
	for i, e := range snap.History {
		c, err := ParseCardID(e.Card)
		if err != nil {
			return nil, err
		}
		s.history[i] = HistoryEntry{
			Index:   e.Index,
			Kind:    e.Kind,
			Actor:   e.Actor,
			Card:    c,
			Outcome: e.Outcome,
			Target:  e.Target,
			Time:    e.Time,
		}
	}

	for p, held := range snap.SavedCards {
		cards := make([]SavedCard, len(held))
		for i, sc := range held {
			c, err := ParseCardID(sc.Card)
			if err != nil {
				return nil, err
			}
			cards[i] = SavedCard{Card: c, DrawIndex: sc.DrawIndex}
		}
		s.savedCards[p] = cards
	}

	s.venganzaCards = make([]VenganzaCard, len(snap.VenganzaCards))
	for i, v := range snap.VenganzaCards {
		c, err := ParseCardID(v.Card)
		if err != nil {
			return nil, err
		}
		s.venganzaCards[i] = VenganzaCard{Owner: v.Owner, Card: c, DrawIndex: v.DrawIndex}
	}

	return s, nil
}
