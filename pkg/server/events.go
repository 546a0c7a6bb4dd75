package server

import (
	"time"

	"github.com/devnation593/chupistica/pkg/chupistica"
)

// EventType identifies an event broadcast to session subscribers.
type EventType string

const (
	EventGameCreated        EventType = "gameCreated"
	EventPlayerJoined       EventType = "playerJoined"
	EventPlayerLeft         EventType = "playerLeft"
	EventGameStarted        EventType = "gameStarted"
	EventCardDrawn          EventType = "cardDrawn"
	EventCardActivated      EventType = "cardActivated"
	EventVenganzaConsumed   EventType = "venganzaConsumed"
	EventKingsCupProgressed EventType = "kingsCupProgressed"
	EventTurnChanged        EventType = "turnChanged"
	EventRulesUpdated       EventType = "rulesUpdated"
	EventGameEnded          EventType = "gameEnded"
)

// Event is one entry of a session's broadcast feed. Seq is assigned by the
// bus: strictly increasing and contiguous from 1 per session, so clients can
// detect gaps after a reconnect.
type Event struct {
	SessionCode string      `json:"sessionCode"`
	Seq         uint64      `json:"seq"`
	Type        EventType   `json:"type"`
	Data        interface{} `json:"data"`
	T           time.Time   `json:"t"`
}

// Event payloads carry the smallest sufficient diff; clients fetch a full
// snapshot with getGameState when they need to resync.

// GameCreatedPayload announces a fresh session.
type GameCreatedPayload struct {
	Code string `json:"code"`
	Host string `json:"host"`
}

// PlayerJoinedPayload announces a new participant.
type PlayerJoinedPayload struct {
	Player       string   `json:"player"`
	Participants []string `json:"participants"`
}

// PlayerLeftPayload announces a departure and any host reassignment.
type PlayerLeftPayload struct {
	Player    string `json:"player"`
	NewHost   string `json:"newHost,omitempty"`
	TurnIndex int    `json:"turnIndex"`
}

// GameStartedPayload announces the waiting -> playing transition.
type GameStartedPayload struct {
	Participants []string  `json:"participants"`
	TurnIndex    int       `json:"turnIndex"`
	StartedAt    time.Time `json:"startedAt"`
}

// CardDrawnPayload carries a draw and its rule outcome.
type CardDrawnPayload struct {
	Player    string                 `json:"player"`
	Card      string                 `json:"card"`
	Outcome   chupistica.RuleOutcome `json:"outcome"`
	Remaining int                    `json:"remaining"`
	Ended     bool                   `json:"ended"`
}

// CardActivatedPayload carries a saved-card activation.
type CardActivatedPayload struct {
	Player  string `json:"player"`
	Card    string `json:"card"`
	Message string `json:"message"`
}

// VenganzaConsumedPayload carries a post-game venganza.
type VenganzaConsumedPayload struct {
	Player    string `json:"player"`
	Target    string `json:"target"`
	Card      string `json:"card"`
	Remaining int    `json:"remaining"`
}

// KingsCupProgressedPayload tracks the cup filling up.
type KingsCupProgressedPayload struct {
	Player     string `json:"player"`
	KingNumber int    `json:"kingNumber"`
	Message    string `json:"message"`
}

// TurnChangedPayload announces whose turn it is after a draw.
type TurnChangedPayload struct {
	TurnIndex   int    `json:"turnIndex"`
	Participant string `json:"participant"`
	Direction   int    `json:"direction"`
}

// RulesUpdatedPayload carries the merged rule table.
type RulesUpdatedPayload struct {
	Rules map[chupistica.Rank]string `json:"rules"`
}

// GameEndedPayload carries the terminal state and final stats.
type GameEndedPayload struct {
	Reason  string                   `json:"reason"`
	EndedAt time.Time                `json:"endedAt"`
	Summary *chupistica.FinalSummary `json:"summary,omitempty"`
}
