package chupistica

import (
	"encoding/json"
	"testing"
)

func TestCardDerivedProperties(t *testing.T) {
	tests := []struct {
		card   Card
		id     string
		value  int
		isRed  bool
		isFace bool
	}{
		{NewCard(Hearts, Ace), "A_hearts", 1, true, false},
		{NewCard(Spades, Ten), "10_spades", 10, false, false},
		{NewCard(Diamonds, Jack), "J_diamonds", 11, true, true},
		{NewCard(Clubs, Queen), "Q_clubs", 12, false, true},
		{NewCard(Spades, King), "K_spades", 13, false, true},
		{NewCard(Clubs, Seven), "7_clubs", 7, false, false},
	}

	for _, tc := range tests {
		if got := tc.card.ID(); got != tc.id {
			t.Errorf("ID() = %s, want %s", got, tc.id)
		}
		if got := tc.card.Value(); got != tc.value {
			t.Errorf("%s Value() = %d, want %d", tc.id, got, tc.value)
		}
		if got := tc.card.IsRed(); got != tc.isRed {
			t.Errorf("%s IsRed() = %v, want %v", tc.id, got, tc.isRed)
		}
		if got := tc.card.IsFace(); got != tc.isFace {
			t.Errorf("%s IsFace() = %v, want %v", tc.id, got, tc.isFace)
		}
	}
}

func TestParseCardID(t *testing.T) {
	card, err := ParseCardID("5_hearts")
	if err != nil {
		t.Fatalf("ParseCardID failed: %v", err)
	}
	if card.Rank() != Five || card.Suit() != Hearts {
		t.Errorf("parsed %v, want 5 of hearts", card)
	}

	for _, bad := range []string{"", "5hearts", "X_hearts", "5_rocks", "14_spades"} {
		_, err := ParseCardID(bad)
		if err == nil {
			t.Errorf("ParseCardID(%q) should fail", bad)
			continue
		}
		if KindOf(err) != ErrInvalidCard {
			t.Errorf("ParseCardID(%q) kind = %s, want InvalidCard", bad, KindOf(err))
		}
	}
}

func TestCardJSONRoundTrip(t *testing.T) {
	card := NewCard(Spades, Ace)

	data, err := json.Marshal(card)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var back Card
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back != card {
		t.Errorf("round trip gave %v, want %v", back, card)
	}

	// Lenient suit/rank aliases on input.
	var alias Card
	if err := json.Unmarshal([]byte(`{"suit":"H","rank":"a"}`), &alias); err != nil {
		t.Fatalf("alias unmarshal failed: %v", err)
	}
	if alias != NewCard(Hearts, Ace) {
		t.Errorf("alias parsed as %v", alias)
	}
}
