package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"

	"github.com/devnation593/chupistica/pkg/chupistica"
	"github.com/devnation593/chupistica/pkg/utils"
)

// DefaultQueueSize bounds a session actor's inbound command queue.
const DefaultQueueSize = 64

// CommandType identifies an actor command.
type CommandType string

const (
	CmdJoin        CommandType = "join"
	CmdLeave       CommandType = "leave"
	CmdStart       CommandType = "start"
	CmdDraw        CommandType = "draw"
	CmdActivate    CommandType = "activate"
	CmdVenganza    CommandType = "venganza"
	CmdEnd         CommandType = "end"
	CmdUpdateRules CommandType = "updateRules"
	CmdResetRules  CommandType = "resetRules"
	CmdSnapshot    CommandType = "snapshot"
)

// Command is a typed request for a session actor. Stateless validation has
// already happened in the dispatcher; the actor re-validates everything
// stateful against current session state.
type Command struct {
	Type     CommandType
	PlayerID string
	Target   string
	CardID   string
	Reason   string
	Rules    map[string]string
	// Deadline discards the command with Cancelled if it is still queued
	// when the deadline passes. Zero means no deadline.
	Deadline time.Time
}

// Result is the successful output of a command.
type Result struct {
	Type     CommandType
	Data     interface{}
	Snapshot *chupistica.SessionSnapshot
}

type reply struct {
	res *Result
	err error
}

type queuedCommand struct {
	cmd     Command
	replyCh chan reply
}

// StateSaver persists session snapshots without blocking the actor. The
// actor builds the snapshot on its own goroutine and hands it off; writes
// happen in the background.
type StateSaver interface {
	SaveSnapshotAsync(code string, snap *chupistica.SessionSnapshot, reason string)
}

// Actor owns one session. A single goroutine drains a bounded FIFO queue and
// performs every mutation, so session state needs no locks. Events produced
// by consecutive commands reach the bus in command-accept order.
type Actor struct {
	code    string
	session *chupistica.Session
	bus     *Bus
	log     slog.Logger
	saver   StateSaver

	queue        chan *queuedCommand
	quit         chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
	lastActivity atomic.Int64
}

// NewActor wraps a session. Call Start to begin draining commands.
func NewActor(session *chupistica.Session, bus *Bus, queueSize int, log slog.Logger, saver StateSaver) *Actor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	a := &Actor{
		code:    session.Code(),
		session: session,
		bus:     bus,
		log:     log,
		saver:   saver,
		queue:   make(chan *queuedCommand, queueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	a.lastActivity.Store(time.Now().UnixNano())
	return a
}

// Code returns the session code this actor owns.
func (a *Actor) Code() string { return a.code }

// Bus returns the actor's event bus.
func (a *Actor) Bus() *Bus { return a.bus }

// LastActivity reports when the actor last executed a command.
func (a *Actor) LastActivity() time.Time {
	return time.Unix(0, a.lastActivity.Load())
}

// Start launches the executor goroutine.
func (a *Actor) Start() {
	go a.run()
}

// Stop shuts the actor down. Queued commands are failed with Cancelled and
// all subscribers are disconnected.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		close(a.quit)
		<-a.done
		a.bus.Close()
	})
}

// Do enqueues cmd and waits for its result. Enqueueing blocks when the queue
// is full (bounded backpressure on the caller) but respects ctx and the
// command deadline.
func (a *Actor) Do(ctx context.Context, cmd Command) (*Result, error) {
	qc := &queuedCommand{cmd: cmd, replyCh: make(chan reply, 1)}

	var deadlineCh <-chan time.Time
	if !cmd.Deadline.IsZero() {
		timer := time.NewTimer(time.Until(cmd.Deadline))
		defer timer.Stop()
		deadlineCh = timer.C
	}

	select {
	case a.queue <- qc:
	case <-a.quit:
		return nil, chupistica.NewGameError(chupistica.ErrGameNotFound, "session is shutting down")
	case <-deadlineCh:
		return nil, chupistica.NewGameError(chupistica.ErrCancelled, "command deadline elapsed")
	case <-ctx.Done():
		return nil, chupistica.NewGameError(chupistica.ErrCancelled, "caller went away")
	}

	select {
	case r := <-qc.replyCh:
		return r.res, r.err
	case <-a.quit:
		return nil, chupistica.NewGameError(chupistica.ErrCancelled, "session is shutting down")
	}
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		select {
		case <-a.quit:
			a.failQueued()
			return
		case qc := <-a.queue:
			a.execute(qc)
		}
	}
}

// failQueued short-circuits everything still in the queue at shutdown.
func (a *Actor) failQueued() {
	for {
		select {
		case qc := <-a.queue:
			qc.replyCh <- reply{err: chupistica.NewGameError(chupistica.ErrCancelled, "session is shutting down")}
		default:
			return
		}
	}
}

// execute runs one command to completion on the actor goroutine. Commands
// never block on I/O: snapshot persistence is handed off fire-and-forget.
func (a *Actor) execute(qc *queuedCommand) {
	now := time.Now().UTC()
	if !qc.cmd.Deadline.IsZero() && now.After(qc.cmd.Deadline) {
		qc.replyCh <- reply{err: chupistica.NewGameError(chupistica.ErrCancelled, "command deadline elapsed")}
		return
	}
	a.lastActivity.Store(now.UnixNano())

	res, err := a.apply(qc.cmd, now)
	if err != nil {
		qc.replyCh <- reply{err: err}
		return
	}
	qc.replyCh <- reply{res: res}
}

func (a *Actor) apply(cmd Command, now time.Time) (*Result, error) {
	s := a.session

	switch cmd.Type {
	case CmdJoin:
		res, err := s.Join(cmd.PlayerID)
		if err != nil {
			return nil, err
		}
		payload := PlayerJoinedPayload{Player: res.Participant, Participants: res.Participants}
		a.bus.Publish(EventPlayerJoined, payload, now)
		return &Result{Type: cmd.Type, Data: payload}, nil

	case CmdLeave:
		res, err := s.Leave(cmd.PlayerID)
		if err != nil {
			return nil, err
		}
		payload := PlayerLeftPayload{Player: res.Participant, NewHost: res.NewHost, TurnIndex: res.TurnIndex}
		a.bus.Publish(EventPlayerLeft, payload, now)
		return &Result{Type: cmd.Type, Data: payload}, nil

	case CmdStart:
		res, err := s.Start(cmd.PlayerID)
		if err != nil {
			return nil, err
		}
		payload := GameStartedPayload{Participants: res.Participants, TurnIndex: res.TurnIndex, StartedAt: res.StartedAt}
		a.bus.Publish(EventGameStarted, payload, now)
		a.saveAsync("started")
		return &Result{Type: cmd.Type, Data: payload}, nil

	case CmdDraw:
		res, err := s.Draw(cmd.PlayerID)
		if err != nil {
			return nil, err
		}
		payload := CardDrawnPayload{
			Player:    cmd.PlayerID,
			Card:      res.Card.ID(),
			Outcome:   res.Outcome,
			Remaining: res.Remaining,
			Ended:     res.Ended,
		}
		a.bus.Publish(EventCardDrawn, payload, now)
		if res.Outcome.KingStage > 0 {
			a.bus.Publish(EventKingsCupProgressed, KingsCupProgressedPayload{
				Player:     cmd.PlayerID,
				KingNumber: res.Outcome.KingStage,
				Message:    res.Outcome.Message,
			}, now)
		}
		if res.Ended {
			a.publishEnded(now)
		} else {
			a.bus.Publish(EventTurnChanged, TurnChangedPayload{
				TurnIndex:   res.TurnIndex,
				Participant: s.CurrentParticipant(),
				Direction:   res.Direction,
			}, now)
		}
		a.saveAsync("draw")
		return &Result{Type: cmd.Type, Data: payload}, nil

	case CmdActivate:
		res, err := s.Activate(cmd.PlayerID, cmd.CardID)
		if err != nil {
			return nil, err
		}
		payload := CardActivatedPayload{Player: res.Participant, Card: res.Card.ID(), Message: res.Message}
		a.bus.Publish(EventCardActivated, payload, now)
		return &Result{Type: cmd.Type, Data: payload}, nil

	case CmdVenganza:
		res, err := s.ConsumeVenganza(cmd.PlayerID, cmd.Target)
		if err != nil {
			return nil, err
		}
		payload := VenganzaConsumedPayload{
			Player:    res.Owner,
			Target:    res.Target,
			Card:      res.Card.ID(),
			Remaining: res.Remaining,
		}
		a.bus.Publish(EventVenganzaConsumed, payload, now)
		a.saveAsync("venganza")
		return &Result{Type: cmd.Type, Data: payload}, nil

	case CmdEnd:
		if _, err := s.End(cmd.PlayerID, cmd.Reason); err != nil {
			return nil, err
		}
		payload := a.publishEnded(now)
		return &Result{Type: cmd.Type, Data: payload}, nil

	case CmdUpdateRules:
		rules, err := s.UpdateRules(cmd.PlayerID, cmd.Rules)
		if err != nil {
			return nil, err
		}
		payload := RulesUpdatedPayload{Rules: rules}
		a.bus.Publish(EventRulesUpdated, payload, now)
		return &Result{Type: cmd.Type, Data: payload}, nil

	case CmdResetRules:
		rules, err := s.ResetRules(cmd.PlayerID)
		if err != nil {
			return nil, err
		}
		payload := RulesUpdatedPayload{Rules: rules}
		a.bus.Publish(EventRulesUpdated, payload, now)
		return &Result{Type: cmd.Type, Data: payload}, nil

	case CmdSnapshot:
		return &Result{Type: cmd.Type, Snapshot: s.Snapshot()}, nil

	default:
		return nil, chupistica.Errorf(chupistica.ErrInternal, "unknown command type %q", cmd.Type)
	}
}

// publishEnded emits gameEnded with the final summary and archives the
// terminal snapshot.
func (a *Actor) publishEnded(now time.Time) GameEndedPayload {
	snap := a.session.Snapshot()
	payload := GameEndedPayload{
		Reason:  a.session.EndReason(),
		EndedAt: a.session.EndedAt(),
	}
	if summary, err := chupistica.ComputeFinalSummary(snap); err == nil {
		payload.Summary = summary
	}
	a.bus.Publish(EventGameEnded, payload, now)
	a.saveAsync("ended")

	outstanding := make([]chupistica.Card, 0, len(a.session.VenganzaCards()))
	for _, v := range a.session.VenganzaCards() {
		outstanding = append(outstanding, v.Card)
	}
	a.log.Infof("session %s ended (%s), venganzas outstanding: %s",
		a.code, payload.Reason, utils.FormatCards(outstanding))
	return payload
}

// saveAsync exports the snapshot on the actor goroutine and queues the write
// in the background.
func (a *Actor) saveAsync(reason string) {
	if a.saver == nil {
		return
	}
	a.saver.SaveSnapshotAsync(a.code, a.session.Snapshot(), reason)
}
