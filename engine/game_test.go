package engine

import (
	"errors"
	"math/rand/v2"
	"testing"
)

// TestInitializeGameDeals verifies hand sizes, counts and the opening state.
func TestInitializeGameDeals(t *testing.T) {
	tbl := newTestTable(t, DefaultSettings(), 1, 2, 3, 4)

	if tbl.State.Status != StatusPlaying {
		t.Fatalf("status = %s, want PLAYING", tbl.State.Status)
	}
	if len(tbl.State.DiscardPile) != 1 {
		t.Errorf("discard pile = %d cards, want 1", len(tbl.State.DiscardPile))
	}
	top := tbl.State.TopCard()
	for _, id := range tbl.State.TurnOrder {
		want := DefaultStartingHandSize
		// A draw2 opener costs the first seat two cards.
		if top.Symbol == SymbolDraw2 && id == 1 {
			want += 2
		}
		if got := len(tbl.Hands[id]); got != want {
			t.Errorf("player %d holds %d cards, want %d", id, got, want)
		}
		if tbl.State.PlayerCardCounts[id] != len(tbl.Hands[id]) {
			t.Errorf("player %d count %d != hand %d", id, tbl.State.PlayerCardCounts[id], len(tbl.Hands[id]))
		}
	}
	if len(tbl.State.LockedPlayers) != 4 {
		t.Errorf("locked = %d, want 4", len(tbl.State.LockedPlayers))
	}
	assertTotal(t, tbl)
}

// TestInitializeGameHandSize verifies a custom starting hand size.
func TestInitializeGameHandSize(t *testing.T) {
	settings := DefaultSettings()
	settings.StartingHandSize = 3
	tbl := newTestTable(t, settings, 1, 2)
	if got := len(tbl.Hands[2]); got != 3 {
		t.Errorf("hand = %d, want 3", got)
	}
}

// TestInitializeGamePlayerBounds verifies the minimum and maximum roster.
func TestInitializeGamePlayerBounds(t *testing.T) {
	tbl := NewTable(DefaultSettings(), rand.New(rand.NewPCG(1, 1)))
	if err := tbl.InitializeGame([]LockedPlayer{{ClientID: 1, Name: "A"}}); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Errorf("one player: err = %v, want ErrNotEnoughPlayers", err)
	}
	if tbl.State.Status != StatusLobby {
		t.Errorf("status = %s after rejected start, want LOBBY", tbl.State.Status)
	}

	var roster []LockedPlayer
	for i := 1; i <= MaxPlayers+1; i++ {
		roster = append(roster, LockedPlayer{ClientID: ClientID(i)})
	}
	if err := tbl.InitializeGame(roster); !errors.Is(err, ErrTooManyPlayers) {
		t.Errorf("eleven players: err = %v, want ErrTooManyPlayers", err)
	}
}

// TestInitializeGameTwice verifies a running game cannot be restarted.
func TestInitializeGameTwice(t *testing.T) {
	tbl := newTestTable(t, DefaultSettings(), 1, 2)
	err := tbl.InitializeGame([]LockedPlayer{{ClientID: 1}, {ClientID: 2}})
	if !errors.Is(err, ErrGameInProgress) {
		t.Errorf("err = %v, want ErrGameInProgress", err)
	}
}

// TestOpeningNeverWildDraw4 verifies many seeded deals never open on a wild-draw4.
func TestOpeningNeverWildDraw4(t *testing.T) {
	for seed := uint64(0); seed < 300; seed++ {
		tbl := NewTable(DefaultSettings(), rand.New(rand.NewPCG(seed, seed^0xbeef)))
		if err := tbl.InitializeGame([]LockedPlayer{{ClientID: 1}, {ClientID: 2}, {ClientID: 3}}); err != nil {
			t.Fatal(err)
		}
		if tbl.State.TopCard().Symbol == SymbolWildDraw4 {
			t.Fatalf("seed %d opened on wild-draw4", seed)
		}
		if tbl.CardTotal() != DeckSize {
			t.Fatalf("seed %d: CardTotal = %d", seed, tbl.CardTotal())
		}
	}
}

// TestFlipReshufflesWildDraw4 verifies a wild-draw4 on top is sent back.
func TestFlipReshufflesWildDraw4(t *testing.T) {
	tbl := NewTable(DefaultSettings(), rand.New(rand.NewPCG(3, 3)))
	tbl.Deck = []Card{{ID: "r", Color: ColorRed, Symbol: NumberSymbol(1)}, {ID: "w", Symbol: SymbolWildDraw4}}

	got, ok := tbl.flip()
	if !ok || got.ID != "r" {
		t.Errorf("flip = %s, want r", got.ID)
	}
	if len(tbl.Deck) != 1 || tbl.Deck[0].ID != "w" {
		t.Errorf("deck = %v, want [w]", ids(tbl.Deck))
	}
}

// TestFlipEmptyDeck verifies an empty deck flips nothing and a deck of
// only wild-draw4s still opens the pile.
func TestFlipEmptyDeck(t *testing.T) {
	tbl := NewTable(DefaultSettings(), rand.New(rand.NewPCG(3, 3)))
	if _, ok := tbl.flip(); ok {
		t.Error("flip on empty deck reported a card")
	}
	if len(tbl.State.DiscardPile) != 0 {
		t.Errorf("discard pile = %v, want empty", ids(tbl.State.DiscardPile))
	}

	tbl.Deck = []Card{{ID: "w1", Symbol: SymbolWildDraw4}, {ID: "w2", Symbol: SymbolWildDraw4}}
	got, ok := tbl.flip()
	if !ok || got.Symbol != SymbolWildDraw4 {
		t.Fatalf("flip = %+v, %v; want a wild-draw4", got, ok)
	}
	if len(tbl.Deck) != 1 || len(tbl.State.DiscardPile) != 1 {
		t.Errorf("deck %d discard %d, want 1 and 1", len(tbl.Deck), len(tbl.State.DiscardPile))
	}
}

// TestInitializeGameHandTooLarge verifies hands that would use up the deck
// are refused before anything is dealt.
func TestInitializeGameHandTooLarge(t *testing.T) {
	settings := DefaultSettings()
	settings.StartingHandSize = 54
	tbl := NewTable(settings, rand.New(rand.NewPCG(1, 1)))
	err := tbl.InitializeGame([]LockedPlayer{{ClientID: 1, Name: "A"}, {ClientID: 2, Name: "B"}})
	if !errors.Is(err, ErrHandTooLarge) {
		t.Fatalf("err = %v, want ErrHandTooLarge", err)
	}
	if tbl.State.Status != StatusLobby || len(tbl.Hands) != 0 {
		t.Errorf("status %s with %d hands after refused start", tbl.State.Status, len(tbl.Hands))
	}

	// The largest hand that still leaves a card to flip is accepted.
	settings.StartingHandSize = 53
	tbl = NewTable(settings, rand.New(rand.NewPCG(1, 1)))
	if err := tbl.InitializeGame([]LockedPlayer{{ClientID: 1, Name: "A"}, {ClientID: 2, Name: "B"}}); err != nil {
		t.Fatalf("InitializeGame: %v", err)
	}
	if len(tbl.State.DiscardPile) != 1 {
		t.Errorf("discard pile = %d cards, want 1", len(tbl.State.DiscardPile))
	}
	assertTotal(t, tbl)
}

// TestTableCloneIsDeep verifies changes to a clone never reach the original.
func TestTableCloneIsDeep(t *testing.T) {
	tbl := newTestTable(t, DefaultSettings(), 1, 2, 3)
	before := tbl.Clone()

	c := tbl.Clone()
	c.DetectDisconnects([]ClientID{1})
	c.Hands[1] = append(c.Hands[1][:0], Card{ID: "x"})
	c.Deck = c.Deck[:0]

	if tbl.State.Status != StatusPlaying || len(tbl.State.OrphanHands) != 0 {
		t.Errorf("original status %s with %d orphans", tbl.State.Status, len(tbl.State.OrphanHands))
	}
	if ids(tbl.Hands[1])[0] != ids(before.Hands[1])[0] || len(tbl.Deck) != len(before.Deck) {
		t.Error("clone shares hands or deck with the original")
	}
	assertTotal(t, tbl)
}

// TestApplyOpening verifies the effect of each kind of opening card.
func TestApplyOpening(t *testing.T) {
	cases := []struct {
		name      string
		top       Card
		turn      ClientID
		direction int
		extra     int
	}{
		{"number", Card{Color: ColorRed, Symbol: NumberSymbol(4)}, 1, Clockwise, 0},
		{"wild", Card{Symbol: SymbolWild}, 1, Clockwise, 0},
		{"skip", Card{Color: ColorRed, Symbol: SymbolSkip}, 2, Clockwise, 0},
		{"reverse", Card{Color: ColorRed, Symbol: SymbolReverse}, 3, CounterClockwise, 0},
		{"draw2", Card{Color: ColorRed, Symbol: SymbolDraw2}, 2, Clockwise, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tbl := newTestTable(t, DefaultSettings(), 1, 2, 3)
			tbl.State.Direction = Clockwise
			before := len(tbl.Hands[1])

			tbl.applyOpening(tc.top, 0)

			if tbl.State.CurrentTurn != tc.turn {
				t.Errorf("turn = %d, want %d", tbl.State.CurrentTurn, tc.turn)
			}
			if tbl.State.Direction != tc.direction {
				t.Errorf("direction = %d, want %d", tbl.State.Direction, tc.direction)
			}
			if got := len(tbl.Hands[1]) - before; got != tc.extra {
				t.Errorf("first seat drew %d, want %d", got, tc.extra)
			}
		})
	}
}

// TestInitializeRound verifies the next round keeps roster and scores,
// rotates the opening seat and clears the previous round.
func TestInitializeRound(t *testing.T) {
	settings := DefaultSettings()
	settings.ScoreLimit = 500
	tbl := newTestTable(t, settings, 1, 2, 3)
	if tbl.State.CurrentRound != 1 {
		t.Fatalf("round = %d, want 1", tbl.State.CurrentRound)
	}

	if err := tbl.InitializeRound(); !errors.Is(err, ErrRoundNotOver) {
		t.Fatalf("InitializeRound while playing = %v, want ErrRoundNotOver", err)
	}

	tbl.State.Status = StatusRoundEnded
	tbl.State.Winner = 2
	tbl.State.Scores[2] = 120
	tbl.State.OrphanHands = []OrphanHand{{OriginalClientID: 9}}

	if err := tbl.InitializeRound(); err != nil {
		t.Fatalf("InitializeRound: %v", err)
	}
	if tbl.State.CurrentRound != 2 {
		t.Errorf("round = %d, want 2", tbl.State.CurrentRound)
	}
	if tbl.State.Status != StatusPlaying {
		t.Errorf("status = %s, want PLAYING", tbl.State.Status)
	}
	if tbl.State.Scores[2] != 120 {
		t.Errorf("score lost across rounds: %d", tbl.State.Scores[2])
	}
	if tbl.State.Winner != NoClient || tbl.State.OrphanHands != nil {
		t.Error("previous round winner or orphans carried over")
	}
	if len(tbl.State.LockedPlayers) != 3 {
		t.Errorf("locked = %d, want 3", len(tbl.State.LockedPlayers))
	}
	assertTotal(t, tbl)
}

// TestInitializeRoundRotatesStart verifies round r opens on seat (r-1) mod n
// whenever the opening card has no effect of its own.
func TestInitializeRoundRotatesStart(t *testing.T) {
	settings := DefaultSettings()
	settings.ScoreLimit = Endless

	checked := 0
	for seed := uint64(0); seed < 50; seed++ {
		tbl := NewTable(settings, rand.New(rand.NewPCG(seed, 11)))
		if err := tbl.InitializeGame([]LockedPlayer{{ClientID: 1}, {ClientID: 2}, {ClientID: 3}}); err != nil {
			t.Fatal(err)
		}
		tbl.State.Status = StatusRoundEnded
		if err := tbl.InitializeRound(); err != nil {
			t.Fatal(err)
		}
		top := tbl.State.TopCard()
		if !top.Symbol.IsNumber() && top.Symbol != SymbolWild {
			continue
		}
		checked++
		if tbl.State.CurrentTurn != 2 {
			t.Errorf("seed %d: round 2 opens on %d, want 2", seed, tbl.State.CurrentTurn)
		}
	}
	if checked == 0 {
		t.Fatal("no seed produced a neutral opener")
	}
}

// TestSingleRoundHasNoScores verifies scores are only kept in multi-round games.
func TestSingleRoundHasNoScores(t *testing.T) {
	tbl := newTestTable(t, DefaultSettings(), 1, 2)
	if tbl.State.Scores != nil || tbl.State.CurrentRound != 0 {
		t.Errorf("scores %v round %d, want nil and 0", tbl.State.Scores, tbl.State.CurrentRound)
	}
}

// TestCloneIsDeep verifies mutating a clone leaves the original alone.
func TestCloneIsDeep(t *testing.T) {
	tbl := newTestTable(t, DefaultSettings(), 1, 2)
	tbl.State.OrphanHands = []OrphanHand{{OriginalClientID: 5, Cards: []Card{{ID: "x"}}}}
	c := tbl.State.Clone()
	c.TurnOrder[0] = 99
	c.PlayerCardCounts[1] = 99
	c.OrphanHands[0].Cards[0].ID = "y"
	if tbl.State.TurnOrder[0] == 99 || tbl.State.PlayerCardCounts[1] == 99 || tbl.State.OrphanHands[0].Cards[0].ID == "y" {
		t.Error("Clone shares memory with the original")
	}
}
