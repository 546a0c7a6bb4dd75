package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/devnation593/chupistica/pkg/chupistica"
)

// DefaultCommandDeadline applies when a request carries no deadline.
const DefaultCommandDeadline = 10 * time.Second

// RequestEnvelope is the transport-agnostic inbound command frame.
type RequestEnvelope struct {
	Type       string          `json:"type"`
	Code       string          `json:"code,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DeadlineMs int64           `json:"deadlineMs,omitempty"`
}

// ResponseEnvelope is the synchronous reply to a request.
type ResponseEnvelope struct {
	OK    bool        `json:"ok"`
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries a stable kind plus a human-readable message.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PublicState is the getGameState view. It deliberately omits the deck
// order: upcoming cards are the one secret the server keeps.
type PublicState struct {
	Code          string                                    `json:"code"`
	Host          string                                    `json:"host"`
	Participants  []string                                  `json:"participants"`
	Status        chupistica.Status                         `json:"status"`
	TurnIndex     int                                       `json:"turnIndex"`
	Direction     int                                       `json:"direction"`
	DeckRemaining int                                       `json:"deckRemaining"`
	KingsCount    int                                       `json:"kingsCount"`
	CupContent    []chupistica.CupEntry                     `json:"cupContent"`
	SavedCards    map[string][]chupistica.SnapshotSavedCard `json:"savedCards"`
	Venganzas     []chupistica.SnapshotVenganza             `json:"venganzaCards"`
	Rules         map[chupistica.Rank]string                `json:"rules"`
	EndReason     string                                    `json:"endReason,omitempty"`
}

type commandPayload struct {
	PlayerID string            `json:"playerId"`
	CardID   string            `json:"cardId,omitempty"`
	Target   string            `json:"target,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Rules    map[string]string `json:"rules,omitempty"`
}

// Dispatcher converts external request envelopes into actor commands. It
// performs only stateless validation (shape, formats); everything stateful
// is re-checked by the owning actor, the source of truth. Stateless
// failures never touch an actor.
type Dispatcher struct {
	registry *Registry
	log      slog.Logger
}

// NewDispatcher wires a dispatcher to the registry.
func NewDispatcher(registry *Registry, logBackend *logging.LogBackend) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		log:      logBackend.Logger("DSPT"),
	}
}

// Registry exposes the registry for delivery layers that need to attach
// subscribers after a successful command.
func (d *Dispatcher) Registry() *Registry { return d.registry }

func errorResponse(reqType string, err error) ResponseEnvelope {
	return ResponseEnvelope{
		OK:   false,
		Type: reqType,
		Error: &ErrorBody{
			Kind:    string(chupistica.KindOf(err)),
			Message: chupistica.MessageOf(err),
		},
	}
}

func okResponse(reqType string, data interface{}) ResponseEnvelope {
	return ResponseEnvelope{OK: true, Type: reqType, Data: data}
}

// Dispatch validates and routes one request, returning the synchronous
// response.
func (d *Dispatcher) Dispatch(ctx context.Context, req RequestEnvelope) ResponseEnvelope {
	var payload commandPayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return errorResponse(req.Type, chupistica.NewGameError(chupistica.ErrInvalidCommand, "malformed payload: "+err.Error()))
		}
	}

	isQuery := false
	switch req.Type {
	case "getGameState", "getRules", "getHistory", "getStats", "getFinalSummary":
		isQuery = true
	}

	playerID := payload.PlayerID
	if !isQuery {
		var err error
		playerID, err = chupistica.ValidateParticipantID(payload.PlayerID)
		if err != nil {
			return errorResponse(req.Type, err)
		}
	}

	if req.Type == "createGame" {
		return d.createGame(playerID, req)
	}

	actor, err := d.registry.Lookup(req.Code)
	if err != nil {
		return errorResponse(req.Type, err)
	}

	if isQuery {
		return d.query(ctx, actor, req.Type, deadlineFor(req))
	}

	cmd := Command{PlayerID: playerID, Deadline: deadlineFor(req)}

	switch req.Type {
	case "joinGame":
		cmd.Type = CmdJoin
	case "leaveGame":
		cmd.Type = CmdLeave
	case "startGame":
		cmd.Type = CmdStart
	case "drawCard":
		cmd.Type = CmdDraw
	case "activateCard":
		cmd.Type = CmdActivate
		if _, err := chupistica.ParseCardID(payload.CardID); err != nil {
			return errorResponse(req.Type, err)
		}
		cmd.CardID = payload.CardID
	case "useVenganza":
		cmd.Type = CmdVenganza
		target, err := chupistica.ValidateParticipantID(payload.Target)
		if err != nil {
			return errorResponse(req.Type, chupistica.NewGameError(chupistica.ErrInvalidTargetPlayer, "venganza requires a valid target"))
		}
		cmd.Target = target
	case "endGame":
		cmd.Type = CmdEnd
		cmd.Reason = payload.Reason
	case "updateRules":
		cmd.Type = CmdUpdateRules
		if len(payload.Rules) == 0 {
			return errorResponse(req.Type, chupistica.NewGameError(chupistica.ErrInvalidRules, "updateRules requires a rules object"))
		}
		for rank := range payload.Rules {
			if !chupistica.ValidRank(rank) {
				return errorResponse(req.Type, chupistica.Errorf(chupistica.ErrInvalidRules, "invalid rank %q", rank))
			}
		}
		cmd.Rules = payload.Rules
	case "resetRules":
		cmd.Type = CmdResetRules
	default:
		return errorResponse(req.Type, chupistica.Errorf(chupistica.ErrInvalidCommand, "unknown command type %q", req.Type))
	}

	res, err := actor.Do(ctx, cmd)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	return okResponse(req.Type, res.Data)
}

func (d *Dispatcher) createGame(hostID string, req RequestEnvelope) ResponseEnvelope {
	actor, err := d.registry.Create(hostID, req.Code)
	if err != nil {
		return errorResponse(req.Type, err)
	}

	payload := GameCreatedPayload{Code: actor.Code(), Host: hostID}
	actor.Bus().Publish(EventGameCreated, payload, time.Now().UTC())
	return okResponse(req.Type, payload)
}

// query serves the read-only commands from an actor snapshot.
func (d *Dispatcher) query(ctx context.Context, actor *Actor, reqType string, deadline time.Time) ResponseEnvelope {
	res, err := actor.Do(ctx, Command{Type: CmdSnapshot, Deadline: deadline})
	if err != nil {
		return errorResponse(reqType, err)
	}
	snap := res.Snapshot

	switch reqType {
	case "getGameState":
		return okResponse(reqType, publicStateFrom(snap))
	case "getRules":
		return okResponse(reqType, RulesUpdatedPayload{Rules: snap.Rules})
	case "getHistory":
		return okResponse(reqType, snap.History)
	case "getStats":
		return okResponse(reqType, chupistica.ComputeStats(snap))
	case "getFinalSummary":
		summary, err := chupistica.ComputeFinalSummary(snap)
		if err != nil {
			return errorResponse(reqType, err)
		}
		return okResponse(reqType, summary)
	}
	return errorResponse(reqType, chupistica.Errorf(chupistica.ErrInternal, "unhandled query %q", reqType))
}

func publicStateFrom(snap *chupistica.SessionSnapshot) *PublicState {
	return &PublicState{
		Code:          snap.Code,
		Host:          snap.Host,
		Participants:  snap.Participants,
		Status:        snap.Status,
		TurnIndex:     snap.TurnIndex,
		Direction:     snap.Direction,
		DeckRemaining: len(snap.Deck),
		KingsCount:    snap.KingsCount,
		CupContent:    snap.CupContent,
		SavedCards:    snap.SavedCards,
		Venganzas:     snap.VenganzaCards,
		Rules:         snap.Rules,
		EndReason:     snap.EndReason,
	}
}

func deadlineFor(req RequestEnvelope) time.Time {
	d := DefaultCommandDeadline
	if req.DeadlineMs > 0 {
		d = time.Duration(req.DeadlineMs) * time.Millisecond
	}
	return time.Now().UTC().Add(d)
}
