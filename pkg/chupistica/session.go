package chupistica

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/devnation593/chupistica/pkg/statemachine"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
	StatusEnded   Status = "ended"
)

// statusTransitions is the forward-only lifecycle table.
var statusTransitions = map[Status][]Status{
	StatusWaiting: {StatusPlaying, StatusEnded},
	StatusPlaying: {StatusEnded},
}

// SavedCardPolicy decides what happens when a participant draws a fourth
// save-eligible card while already holding the maximum.
type SavedCardPolicy string

const (
	// SavedCardDropOldest silently drops the oldest saved card (default).
	SavedCardDropOldest SavedCardPolicy = "drop_oldest"
	// SavedCardReject refuses the draw with SaveCapacity.
	SavedCardReject SavedCardPolicy = "reject"
)

const (
	// MaxParticipants is the seat cap per session.
	MaxParticipants = 8
	// MinParticipantsToStart is the minimum head count to begin playing.
	MinParticipantsToStart = 2
	// SavedCardLimit caps saved cards held per participant.
	SavedCardLimit = 3
	// MaxParticipantIDLen bounds participant identifiers.
	MaxParticipantIDLen = 50
)

var codeRe = regexp.MustCompile(`^[A-Z0-9]{4,10}$`)

// ValidateCode checks the game code format: 4-10 chars, [A-Z0-9] after
// uppercasing. Returns the normalized code.
func ValidateCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if !codeRe.MatchString(normalized) {
		return "", Errorf(ErrInvalidGameCode, "game code %q must be 4-10 chars A-Z0-9", code)
	}
	return normalized, nil
}

// ValidateParticipantID checks a participant identifier: non-empty after
// trim, at most 50 chars. Returns the trimmed id.
func ValidateParticipantID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", NewGameError(ErrInvalidPlayerID, "player id must not be empty")
	}
	if len(trimmed) > MaxParticipantIDLen {
		return "", Errorf(ErrInvalidPlayerID, "player id exceeds %d chars", MaxParticipantIDLen)
	}
	return trimmed, nil
}

// EventKind tags a history entry.
type EventKind string

const (
	EventDraw            EventKind = "Draw"
	EventSavedActivate   EventKind = "SavedActivate"
	EventVenganzaConsume EventKind = "VenganzaConsume"
)

// HistoryEntry is one append-only record of the session history.
type HistoryEntry struct {
	Index   int         `json:"index"`
	Kind    EventKind   `json:"kind"`
	Actor   string      `json:"actor"`
	Card    Card        `json:"card"`
	Outcome RuleOutcome `json:"outcome"`
	Target  string      `json:"target,omitempty"`
	Time    time.Time   `json:"time"`
}

// SavedCard is a rank-5 or rank-9 card held for later activation. DrawIndex
// backreferences the history entry of the draw that produced it.
type SavedCard struct {
	Card      Card `json:"card"`
	DrawIndex int  `json:"drawIndex"`
}

// VenganzaCard is an ace accrued during play, spendable after the session
// ends.
type VenganzaCard struct {
	Owner     string `json:"owner"`
	Card      Card   `json:"card"`
	DrawIndex int    `json:"drawIndex"`
}

// CupEntry records one contribution to the Kings' Cup.
type CupEntry struct {
	Participant string    `json:"participant"`
	KingNumber  int       `json:"kingNumber"`
	Time        time.Time `json:"time"`
}

// SessionConfig holds configuration for a new game session.
type SessionConfig struct {
	Code            string
	HostID          string
	Rng             *rand.Rand
	SavedCardPolicy SavedCardPolicy
	// Clock is injectable for tests; defaults to time.Now in UTC.
	Clock func() time.Time
}

// Session is the authoritative state of one game. All mutation is serialized
// through the owning session actor, so the fields carry no locks of their
// own; accessors must only be called from that actor's goroutine (or before
// the actor starts).
type Session struct {
	code            string
	hostID          string
	participants    []string
	deck            *Deck
	status          *statemachine.Machine[Status]
	turnIndex       int
	direction       int
	history         []HistoryEntry
	savedCards      map[string][]SavedCard
	venganzaCards   []VenganzaCard
	kingsCount      int
	cupContent      []CupEntry
	rules           map[Rank]string
	savedCardPolicy SavedCardPolicy
	clock           func() time.Time
	createdAt       time.Time
	startedAt       time.Time
	endedAt         time.Time
	endReason       string
	lastActivity    time.Time
}

// NewSession creates a session in the waiting state with the host as sole
// participant.
func NewSession(cfg SessionConfig) (*Session, error) {
	code, err := ValidateCode(cfg.Code)
	if err != nil {
		return nil, err
	}
	hostID, err := ValidateParticipantID(cfg.HostID)
	if err != nil {
		return nil, err
	}
	if cfg.Rng == nil {
		return nil, NewGameError(ErrInternal, "session requires a random source")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	policy := cfg.SavedCardPolicy
	if policy == "" {
		policy = SavedCardDropOldest
	}

	now := clock()
	s := &Session{
		code:            code,
		hostID:          hostID,
		participants:    []string{hostID},
		deck:            NewDeck(cfg.Rng),
		status:          statemachine.New(StatusWaiting, statusTransitions),
		direction:       1,
		savedCards:      map[string][]SavedCard{hostID: {}},
		rules:           DefaultRules(),
		savedCardPolicy: policy,
		clock:           clock,
		createdAt:       now,
		lastActivity:    now,
	}
	return s, nil
}

// Accessors. Reads are only safe from the owning actor's goroutine.

func (s *Session) Code() string   { return s.code }
func (s *Session) Host() string   { return s.hostID }
func (s *Session) Status() Status { return s.status.Current() }

// Participants returns a copy of the participant list in join order.
func (s *Session) Participants() []string {
	out := make([]string, len(s.participants))
	copy(out, s.participants)
	return out
}

func (s *Session) TurnIndex() int     { return s.turnIndex }
func (s *Session) Direction() int     { return s.direction }
func (s *Session) KingsCount() int    { return s.kingsCount }
func (s *Session) DeckRemaining() int { return s.deck.Remaining() }
func (s *Session) EndReason() string  { return s.endReason }

// CurrentParticipant returns the participant whose turn it is, or "" outside
// of the playing state.
func (s *Session) CurrentParticipant() string {
	if !s.status.Is(StatusPlaying) || len(s.participants) == 0 {
		return ""
	}
	return s.participants[s.turnIndex]
}

// Rules returns a copy of the rank-to-rule table.
func (s *Session) Rules() map[Rank]string {
	out := make(map[Rank]string, len(s.rules))
	for k, v := range s.rules {
		out[k] = v
	}
	return out
}

// History returns a copy of the event history.
func (s *Session) History() []HistoryEntry {
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// SavedCardsFor returns a copy of the cards a participant holds.
func (s *Session) SavedCardsFor(p string) []SavedCard {
	held := s.savedCards[p]
	out := make([]SavedCard, len(held))
	copy(out, held)
	return out
}

// VenganzaCards returns a copy of the outstanding venganza entries.
func (s *Session) VenganzaCards() []VenganzaCard {
	out := make([]VenganzaCard, len(s.venganzaCards))
	copy(out, s.venganzaCards)
	return out
}

// CupContent returns a copy of the Kings' Cup contributions.
func (s *Session) CupContent() []CupEntry {
	out := make([]CupEntry, len(s.cupContent))
	copy(out, s.cupContent)
	return out
}

// LastActivity reports when the session last accepted a command.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// CreatedAt reports when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// EndedAt reports when the session ended (zero if still live).
func (s *Session) EndedAt() time.Time { return s.endedAt }

func (s *Session) touch() { s.lastActivity = s.clock() }

func (s *Session) indexOf(p string) int {
	for i, id := range s.participants {
		if id == p {
			return i
		}
	}
	return -1
}

// HasParticipant reports whether p is in the session.
func (s *Session) HasParticipant(p string) bool { return s.indexOf(p) >= 0 }

// JoinResult reports the effect of a join.
type JoinResult struct {
	Participant  string
	Participants []string
}

// Join adds a participant while the session is waiting.
func (s *Session) Join(p string) (*JoinResult, error) {
	p, err := ValidateParticipantID(p)
	if err != nil {
		return nil, err
	}
	if !s.status.Is(StatusWaiting) {
		return nil, Errorf(ErrWrongState, "cannot join a %s session", s.status.Current())
	}
	if s.HasParticipant(p) {
		return nil, Errorf(ErrPlayerAlreadyInSession, "%s already joined", p)
	}
	if len(s.participants) >= MaxParticipants {
		return nil, Errorf(ErrSessionFull, "session holds the maximum of %d participants", MaxParticipants)
	}

	s.participants = append(s.participants, p)
	s.savedCards[p] = []SavedCard{}
	s.touch()

	return &JoinResult{Participant: p, Participants: s.Participants()}, nil
}

// LeaveResult reports the effect of a leave.
type LeaveResult struct {
	Participant string
	NewHost     string
	HostChanged bool
	TurnIndex   int
}

// Leave removes a participant. If the host leaves, the head of the remaining
// list becomes host. If the turn index falls off the end it resets to 0. The
// last participant cannot leave: a session always holds at least one
// participant, so the host ends the game instead.
func (s *Session) Leave(p string) (*LeaveResult, error) {
	p, err := ValidateParticipantID(p)
	if err != nil {
		return nil, err
	}
	idx := s.indexOf(p)
	if idx < 0 {
		return nil, Errorf(ErrPlayerNotInSession, "%s is not in this session", p)
	}
	if s.status.Is(StatusEnded) {
		return nil, NewGameError(ErrWrongState, "session already ended")
	}
	if len(s.participants) == 1 {
		return nil, NewGameError(ErrWrongState, "the last participant cannot leave; end the game instead")
	}

	s.participants = append(s.participants[:idx], s.participants[idx+1:]...)
	delete(s.savedCards, p)

	res := &LeaveResult{Participant: p}
	if p == s.hostID {
		s.hostID = s.participants[0]
		res.NewHost = s.hostID
		res.HostChanged = true
	}
	if s.turnIndex >= len(s.participants) {
		s.turnIndex = 0
	}
	res.TurnIndex = s.turnIndex
	s.touch()

	return res, nil
}

// StartResult reports the effect of a start.
type StartResult struct {
	StartedAt    time.Time
	TurnIndex    int
	Participants []string
}

// Start moves the session from waiting to playing. Host only, two or more
// participants required.
func (s *Session) Start(p string) (*StartResult, error) {
	p, err := ValidateParticipantID(p)
	if err != nil {
		return nil, err
	}
	if !s.status.Is(StatusWaiting) {
		return nil, Errorf(ErrWrongState, "cannot start a %s session", s.status.Current())
	}
	if p != s.hostID {
		return nil, Errorf(ErrNotHost, "only the host can start the game")
	}
	if len(s.participants) < MinParticipantsToStart {
		return nil, Errorf(ErrWrongState, "need at least %d participants to start", MinParticipantsToStart)
	}

	if err := s.status.Transition(StatusPlaying); err != nil {
		return nil, NewGameError(ErrInternal, err.Error())
	}
	s.startedAt = s.clock()
	s.turnIndex = 0
	s.touch()

	return &StartResult{StartedAt: s.startedAt, TurnIndex: s.turnIndex, Participants: s.Participants()}, nil
}

// DrawResult reports the effect of a draw.
type DrawResult struct {
	Card      Card
	Outcome   RuleOutcome
	TurnIndex int
	Direction int
	Remaining int
	Ended     bool
	EndReason string
}

// Draw pops the tail card for the current participant, applies its rule, and
// advances the turn unless the session ended. A failed draw never mutates
// state: with the reject saved-card policy the card is inspected before it
// leaves the deck.
func (s *Session) Draw(p string) (*DrawResult, error) {
	p, err := ValidateParticipantID(p)
	if err != nil {
		return nil, err
	}
	if !s.status.Is(StatusPlaying) {
		return nil, Errorf(ErrWrongState, "cannot draw in a %s session", s.status.Current())
	}
	if !s.HasParticipant(p) {
		return nil, Errorf(ErrPlayerNotInSession, "%s is not in this session", p)
	}
	if p != s.CurrentParticipant() {
		return nil, Errorf(ErrNotYourTurn, "it is %s's turn", s.CurrentParticipant())
	}

	next, ok := s.deck.Peek()
	if !ok {
		return nil, NewGameError(ErrDeckEmpty, "no cards remaining")
	}
	if s.savedCardPolicy == SavedCardReject &&
		(next.Rank() == Five || next.Rank() == Nine) &&
		len(s.savedCards[p]) >= SavedCardLimit {
		return nil, Errorf(ErrSaveCapacity, "%s already holds %d saved cards", p, SavedCardLimit)
	}

	card, err := s.deck.Draw()
	if err != nil {
		return nil, err
	}

	now := s.clock()
	outcome := s.outcomeFor(p, card)
	drawIndex := len(s.history)

	switch outcome.Kind {
	case OutcomeVenganzaAccrued:
		s.venganzaCards = append(s.venganzaCards, VenganzaCard{Owner: p, Card: card, DrawIndex: drawIndex})
	case OutcomeSaveCard:
		held := s.savedCards[p]
		if len(held) >= SavedCardLimit {
			held = held[1:]
		}
		s.savedCards[p] = append(held, SavedCard{Card: card, DrawIndex: drawIndex})
	case OutcomeSieteBomb:
		s.direction = -s.direction
	case OutcomeKingsCup, OutcomeEndTriggered:
		s.kingsCount++
		s.cupContent = append(s.cupContent, CupEntry{Participant: p, KingNumber: s.kingsCount, Time: now})
	}

	s.history = append(s.history, HistoryEntry{
		Index:   drawIndex,
		Kind:    EventDraw,
		Actor:   p,
		Card:    card,
		Outcome: outcome,
		Target:  outcome.TargetParticipant,
		Time:    now,
	})

	res := &DrawResult{Card: card, Outcome: outcome}

	switch {
	case outcome.EndsSession:
		s.endSession("kings_cup")
	case s.deck.Remaining() == 0:
		s.endSession("deck_exhausted")
	default:
		n := len(s.participants)
		s.turnIndex = (s.turnIndex + s.direction + n) % n
	}

	res.TurnIndex = s.turnIndex
	res.Direction = s.direction
	res.Remaining = s.deck.Remaining()
	res.Ended = s.status.Is(StatusEnded)
	res.EndReason = s.endReason
	s.touch()

	return res, nil
}

// ActivateResult reports the effect of activating a saved card.
type ActivateResult struct {
	Participant string
	Card        Card
	Message     string
}

// Activate spends a saved card. The turn does not advance.
func (s *Session) Activate(p, cardID string) (*ActivateResult, error) {
	p, err := ValidateParticipantID(p)
	if err != nil {
		return nil, err
	}
	if !s.status.Is(StatusPlaying) {
		return nil, Errorf(ErrWrongState, "cannot activate in a %s session", s.status.Current())
	}
	if !s.HasParticipant(p) {
		return nil, Errorf(ErrPlayerNotInSession, "%s is not in this session", p)
	}
	card, err := ParseCardID(cardID)
	if err != nil {
		return nil, err
	}
	if card.Rank() != Five && card.Rank() != Nine {
		return nil, Errorf(ErrInvalidCardType, "only rank 5 and 9 cards can be saved, got %s", card.Rank())
	}

	held := s.savedCards[p]
	found := -1
	for i, sc := range held {
		if sc.Card == card {
			found = i
			break
		}
	}
	if found < 0 {
		return nil, Errorf(ErrSavedCardNotFound, "%s does not hold %s", p, cardID)
	}

	s.savedCards[p] = append(held[:found], held[found+1:]...)

	s.history = append(s.history, HistoryEntry{
		Index: len(s.history),
		Kind:  EventSavedActivate,
		Actor: p,
		Card:  card,
		Outcome: RuleOutcome{
			Kind:          OutcomeSaveCard,
			SavedCardRank: card.Rank(),
			Message:       s.rules[card.Rank()],
		},
		Time: s.clock(),
	})
	s.touch()

	return &ActivateResult{Participant: p, Card: card, Message: s.rules[card.Rank()]}, nil
}

// VenganzaResult reports the effect of consuming a venganza card.
type VenganzaResult struct {
	Owner     string
	Target    string
	Card      Card
	Remaining int
}

// ConsumeVenganza spends one of the owner's accrued aces against a target.
// Only valid once the session has ended.
func (s *Session) ConsumeVenganza(p, target string) (*VenganzaResult, error) {
	p, err := ValidateParticipantID(p)
	if err != nil {
		return nil, err
	}
	target, err = ValidateParticipantID(target)
	if err != nil {
		return nil, err
	}
	if !s.status.Is(StatusEnded) {
		return nil, NewGameError(ErrWrongState, "venganza cards can only be used after the game ends")
	}
	if !s.HasParticipant(p) {
		return nil, Errorf(ErrPlayerNotInSession, "%s is not in this session", p)
	}
	if !s.HasParticipant(target) {
		return nil, Errorf(ErrInvalidTargetPlayer, "%s is not in this session", target)
	}

	found := -1
	for i, v := range s.venganzaCards {
		if v.Owner == p {
			found = i
			break
		}
	}
	if found < 0 {
		return nil, Errorf(ErrNoVenganzaAvailable, "%s has no venganza cards", p)
	}

	card := s.venganzaCards[found].Card
	s.venganzaCards = append(s.venganzaCards[:found], s.venganzaCards[found+1:]...)

	s.history = append(s.history, HistoryEntry{
		Index:   len(s.history),
		Kind:    EventVenganzaConsume,
		Actor:   p,
		Card:    card,
		Target:  target,
		Outcome: RuleOutcome{Kind: OutcomeVenganzaAccrued, TargetParticipant: target, Message: s.rules[Ace]},
		Time:    s.clock(),
	})
	s.touch()

	remaining := 0
	for _, v := range s.venganzaCards {
		if v.Owner == p {
			remaining++
		}
	}
	return &VenganzaResult{Owner: p, Target: target, Card: card, Remaining: remaining}, nil
}

// EndResult reports the effect of ending a session.
type EndResult struct {
	Reason  string
	EndedAt time.Time
}

// End lets the host finish the game early, from waiting (abort) or playing.
func (s *Session) End(p, reason string) (*EndResult, error) {
	p, err := ValidateParticipantID(p)
	if err != nil {
		return nil, err
	}
	if s.status.Is(StatusEnded) {
		return nil, NewGameError(ErrWrongState, "session already ended")
	}
	if p != s.hostID {
		return nil, NewGameError(ErrNotHost, "only the host can end the game")
	}
	if reason == "" {
		reason = "host_ended"
	}

	s.endSession(reason)
	s.touch()

	return &EndResult{Reason: s.endReason, EndedAt: s.endedAt}, nil
}

// endSession transitions to ended and stamps the time. Callers have already
// validated the transition is legal.
func (s *Session) endSession(reason string) {
	if err := s.status.Transition(StatusEnded); err != nil {
		return
	}
	s.endedAt = s.clock()
	s.endReason = reason
}

// UpdateRules merges host-provided rule texts while waiting. Keys must be
// valid ranks and values non-empty.
func (s *Session) UpdateRules(p string, newRules map[string]string) (map[Rank]string, error) {
	p, err := ValidateParticipantID(p)
	if err != nil {
		return nil, err
	}
	if !s.status.Is(StatusWaiting) {
		return nil, NewGameError(ErrWrongState, "rules can only be edited before the game starts")
	}
	if p != s.hostID {
		return nil, NewGameError(ErrNotHost, "only the host can edit rules")
	}
	if len(newRules) == 0 {
		return nil, NewGameError(ErrInvalidRules, "no rules provided")
	}

	merged := make(map[Rank]string, len(newRules))
	for k, v := range newRules {
		if !ValidRank(k) {
			return nil, Errorf(ErrInvalidRules, "invalid rank %q", k)
		}
		text := strings.TrimSpace(v)
		if text == "" {
			return nil, Errorf(ErrInvalidRules, "empty rule for rank %s", k)
		}
		merged[Rank(k)] = text
	}
	for k, v := range merged {
		s.rules[k] = v
	}
	s.touch()

	return s.Rules(), nil
}

// ResetRules restores the default rule table. Host only, waiting only.
func (s *Session) ResetRules(p string) (map[Rank]string, error) {
	p, err := ValidateParticipantID(p)
	if err != nil {
		return nil, err
	}
	if !s.status.Is(StatusWaiting) {
		return nil, NewGameError(ErrWrongState, "rules can only be edited before the game starts")
	}
	if p != s.hostID {
		return nil, NewGameError(ErrNotHost, "only the host can edit rules")
	}

	s.rules = DefaultRules()
	s.touch()

	return s.Rules(), nil
}

// CheckInvariants verifies the structural invariants that must hold after
// every command. Used by tests.
func (s *Session) CheckInvariants() error {
	if !s.HasParticipant(s.hostID) {
		return fmt.Errorf("host %s not in participant list", s.hostID)
	}
	if len(s.participants) < 1 || len(s.participants) > MaxParticipants {
		return fmt.Errorf("participant count %d out of range", len(s.participants))
	}
	if s.status.Is(StatusPlaying) {
		if s.turnIndex < 0 || s.turnIndex >= len(s.participants) {
			return fmt.Errorf("turn index %d out of range for %d participants", s.turnIndex, len(s.participants))
		}
	}
	draws := 0
	aces := 0
	consumed := 0
	kings := 0
	for _, h := range s.history {
		switch h.Kind {
		case EventDraw:
			draws++
			if h.Card.Rank() == Ace {
				aces++
			}
			if h.Card.Rank() == King {
				kings++
			}
		case EventVenganzaConsume:
			consumed++
		}
	}
	if s.deck.Remaining()+draws != 52 {
		return fmt.Errorf("deck %d + draws %d != 52", s.deck.Remaining(), draws)
	}
	if s.kingsCount != kings || len(s.cupContent) != s.kingsCount || s.kingsCount > 4 {
		return fmt.Errorf("kings count %d inconsistent with history (%d) or cup (%d)", s.kingsCount, kings, len(s.cupContent))
	}
	if len(s.venganzaCards) != aces-consumed {
		return fmt.Errorf("venganza cards %d != aces drawn %d - consumed %d", len(s.venganzaCards), aces, consumed)
	}
	return nil
}
