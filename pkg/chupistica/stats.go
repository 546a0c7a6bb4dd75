package chupistica

import (
	"fmt"
	"time"
)

// BasicStats summarizes session-level progress.
type BasicStats struct {
	ParticipantCount   int           `json:"participantCount"`
	CardsDrawn         int           `json:"cardsDrawn"`
	CardsRemaining     int           `json:"cardsRemaining"`
	ProgressPct        float64       `json:"progressPct"`
	Duration           time.Duration `json:"duration"`
	CurrentParticipant string        `json:"currentParticipant,omitempty"`
	KingsCount         int           `json:"kingsCount"`
	VenganzasAvailable int           `json:"venganzasAvailable"`
	Status             Status        `json:"status"`
}

// ParticipantStats aggregates per-participant activity.
type ParticipantStats struct {
	CardsDrawn         int     `json:"cardsDrawn"`
	Activations        int     `json:"activations"`
	VenganzasEarned    int     `json:"venganzasEarned"`
	VenganzasRemaining int     `json:"venganzasRemaining"`
	SavedCardsHeld     int     `json:"savedCardsHeld"`
	KingsDrawn         int     `json:"kingsDrawn"`
	AvgCardValue       float64 `json:"avgCardValue"`
	TurnIndex          int     `json:"turnIndex"`
}

// DrawnRemaining pairs drawn and remaining counts for a grouping.
type DrawnRemaining struct {
	Drawn     int `json:"drawn"`
	Remaining int `json:"remaining"`
}

// TurnStats describes the draw distribution across participants.
type TurnStats struct {
	Total         int            `json:"total"`
	PerActor      map[string]int `json:"perActor"`
	Min           int            `json:"min"`
	Max           int            `json:"max"`
	Avg           float64        `json:"avg"`
	Variance      float64        `json:"variance"`
	LongestStreak int            `json:"longestStreak"`
	StreakActor   string         `json:"streakActor,omitempty"`
}

// TimelineEvent marks a significant moment of the game.
type TimelineEvent struct {
	Label string    `json:"label"`
	Actor string    `json:"actor,omitempty"`
	Card  string    `json:"card,omitempty"`
	Time  time.Time `json:"time"`
}

// Stats is the full projection over a session snapshot.
type Stats struct {
	Basic            BasicStats                   `json:"basic"`
	Participants     map[string]*ParticipantStats `json:"participants"`
	ByRank           map[Rank]DrawnRemaining      `json:"byRank"`
	BySuit           map[Suit]DrawnRemaining      `json:"bySuit"`
	ByColor          map[string]DrawnRemaining    `json:"byColor"`
	Turns            TurnStats                    `json:"turns"`
	RuleApplications map[string]int               `json:"ruleApplications"`
	Timeline         []TimelineEvent              `json:"timeline"`
}

// ComputeStats builds the full projection. Two passes over the history (the
// second for turn stats) plus one over the remaining deck; no mutation of the
// snapshot.
func ComputeStats(snap *SessionSnapshot) *Stats {
	stats := &Stats{
		Participants:     make(map[string]*ParticipantStats, len(snap.Participants)),
		ByRank:           make(map[Rank]DrawnRemaining, len(Ranks)),
		BySuit:           make(map[Suit]DrawnRemaining, len(Suits)),
		ByColor:          map[string]DrawnRemaining{"red": {}, "black": {}},
		RuleApplications: make(map[string]int),
	}

	for i, p := range snap.Participants {
		stats.Participants[p] = &ParticipantStats{TurnIndex: i}
	}
	for _, r := range Ranks {
		stats.ByRank[r] = DrawnRemaining{}
	}
	for _, s := range Suits {
		stats.BySuit[s] = DrawnRemaining{}
	}

	perActorValueSum := make(map[string]int, len(snap.Participants))
	draws := 0
	kingsSeen := 0
	streak, longest := 0, 0
	var prevActor, streakActor string

	for _, e := range snap.History {
		ps := stats.Participants[e.Actor]
		if ps == nil {
			// Actor left the session; still counted in aggregates.
			ps = &ParticipantStats{TurnIndex: -1}
			stats.Participants[e.Actor] = ps
		}

		switch e.Kind {
		case EventDraw:
			draws++
			card, err := ParseCardID(e.Card)
			if err != nil {
				continue
			}

			ps.CardsDrawn++
			perActorValueSum[e.Actor] += card.Value()

			rc := stats.ByRank[card.Rank()]
			rc.Drawn++
			stats.ByRank[card.Rank()] = rc
			sc := stats.BySuit[card.Suit()]
			sc.Drawn++
			stats.BySuit[card.Suit()] = sc
			color := "black"
			if card.IsRed() {
				color = "red"
			}
			cc := stats.ByColor[color]
			cc.Drawn++
			stats.ByColor[color] = cc

			if e.Outcome.Message != "" {
				stats.RuleApplications[e.Outcome.Message]++
			}

			if e.Actor == prevActor {
				streak++
			} else {
				streak = 1
				prevActor = e.Actor
			}
			if streak > longest {
				longest = streak
				streakActor = e.Actor
			}

			switch card.Rank() {
			case Ace:
				ps.VenganzasEarned++
				stats.Timeline = append(stats.Timeline, TimelineEvent{
					Label: "venganza_earned", Actor: e.Actor, Card: e.Card, Time: e.Time,
				})
			case King:
				ps.KingsDrawn++
				kingsSeen++
				label := fmt.Sprintf("king_%d", kingsSeen)
				if kingsSeen == 1 {
					label = "first_king"
				}
				stats.Timeline = append(stats.Timeline, TimelineEvent{
					Label: label, Actor: e.Actor, Card: e.Card, Time: e.Time,
				})
			}

			if draws == 1 {
				stats.Timeline = append(stats.Timeline, TimelineEvent{
					Label: "first_draw", Actor: e.Actor, Card: e.Card, Time: e.Time,
				})
			}
			if draws == 26 {
				stats.Timeline = append(stats.Timeline, TimelineEvent{
					Label: "halfway", Actor: e.Actor, Time: e.Time,
				})
			}
			if draws == 52 {
				stats.Timeline = append(stats.Timeline, TimelineEvent{
					Label: "deck_exhausted", Actor: e.Actor, Time: e.Time,
				})
			}

		case EventSavedActivate:
			ps.Activations++

		case EventVenganzaConsume:
			stats.Timeline = append(stats.Timeline, TimelineEvent{
				Label: "venganza_consumed", Actor: e.Actor, Card: e.Card, Time: e.Time,
			})
		}
	}

	for _, id := range snap.Deck {
		card, err := ParseCardID(id)
		if err != nil {
			continue
		}
		rc := stats.ByRank[card.Rank()]
		rc.Remaining++
		stats.ByRank[card.Rank()] = rc
		sc := stats.BySuit[card.Suit()]
		sc.Remaining++
		stats.BySuit[card.Suit()] = sc
		color := "black"
		if card.IsRed() {
			color = "red"
		}
		cc := stats.ByColor[color]
		cc.Remaining++
		stats.ByColor[color] = cc
	}

	for p, ps := range stats.Participants {
		if ps.CardsDrawn > 0 {
			ps.AvgCardValue = float64(perActorValueSum[p]) / float64(ps.CardsDrawn)
		}
	}
	for _, v := range snap.VenganzaCards {
		if ps := stats.Participants[v.Owner]; ps != nil {
			ps.VenganzasRemaining++
		}
	}
	for p, held := range snap.SavedCards {
		if ps := stats.Participants[p]; ps != nil {
			ps.SavedCardsHeld = len(held)
		}
	}

	stats.Turns = computeTurnStats(snap, draws, longest, streakActor)
	stats.Basic = computeBasicStats(snap, draws)

	if snap.EndedAt != nil {
		stats.Timeline = append(stats.Timeline, TimelineEvent{
			Label: "game_ended", Time: *snap.EndedAt,
		})
	}

	return stats
}

func computeBasicStats(snap *SessionSnapshot, draws int) BasicStats {
	basic := BasicStats{
		ParticipantCount:   len(snap.Participants),
		CardsDrawn:         draws,
		CardsRemaining:     len(snap.Deck),
		ProgressPct:        float64(draws) / 52 * 100,
		KingsCount:         snap.KingsCount,
		VenganzasAvailable: len(snap.VenganzaCards),
		Status:             snap.Status,
	}
	if snap.Status == StatusPlaying && snap.TurnIndex < len(snap.Participants) {
		basic.CurrentParticipant = snap.Participants[snap.TurnIndex]
	}
	if snap.StartedAt != nil {
		end := time.Now().UTC()
		if snap.EndedAt != nil {
			end = *snap.EndedAt
		}
		basic.Duration = end.Sub(*snap.StartedAt)
	}
	return basic
}

func computeTurnStats(snap *SessionSnapshot, draws, longest int, streakActor string) TurnStats {
	ts := TurnStats{
		Total:         draws,
		PerActor:      make(map[string]int, len(snap.Participants)),
		LongestStreak: longest,
		StreakActor:   streakActor,
	}
	for _, p := range snap.Participants {
		ts.PerActor[p] = 0
	}
	for _, e := range snap.History {
		if e.Kind == EventDraw {
			ts.PerActor[e.Actor]++
		}
	}
	if len(ts.PerActor) == 0 {
		return ts
	}

	first := true
	sum := 0
	for _, c := range ts.PerActor {
		if first {
			ts.Min, ts.Max = c, c
			first = false
		}
		if c < ts.Min {
			ts.Min = c
		}
		if c > ts.Max {
			ts.Max = c
		}
		sum += c
	}
	n := float64(len(ts.PerActor))
	ts.Avg = float64(sum) / n
	var varSum float64
	for _, c := range ts.PerActor {
		d := float64(c) - ts.Avg
		varSum += d * d
	}
	ts.Variance = varSum / n
	return ts
}

// FinalSummary is the end-of-game report combining stats with the terminal
// bookkeeping clients render on the results screen.
type FinalSummary struct {
	Code          string             `json:"code"`
	EndReason     string             `json:"endReason"`
	Stats         *Stats             `json:"stats"`
	CupContent    []CupEntry         `json:"cupContent"`
	VenganzaCards []SnapshotVenganza `json:"venganzaCards"`
	Rules         map[Rank]string    `json:"rules"`
}

// ComputeFinalSummary builds the end-of-game output for an ended session.
func ComputeFinalSummary(snap *SessionSnapshot) (*FinalSummary, error) {
	if snap.Status != StatusEnded {
		return nil, NewGameError(ErrWrongState, "final summary is only available after the game ends")
	}
	return &FinalSummary{
		Code:          snap.Code,
		EndReason:     snap.EndReason,
		Stats:         ComputeStats(snap),
		CupContent:    snap.CupContent,
		VenganzaCards: snap.VenganzaCards,
		Rules:         snap.Rules,
	}, nil
}
