// Package engine implements the rules of a UNO-style shedding card game.
//
// The package is pure: it owns no goroutines, timers or I/O. The host peer
// loads the replicated state into a Table, applies one operation, and writes
// the result back in a single document transaction. Randomness is injected
// so every round can be replayed from a seed in tests.
package engine

import (
	"errors"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
)

// GameState is the public, replicated part of a game. Hands and the deck
// are kept outside it: hands replicate per player, the deck stays private
// to the host.
type GameState struct {
	Status            Status           `json:"status"`
	CurrentTurn       ClientID         `json:"currentTurn"`
	Direction         int              `json:"direction"`
	DiscardPile       []Card           `json:"discardPile"`
	PlayerCardCounts  map[ClientID]int `json:"playerCardCounts"`
	TurnOrder         []ClientID       `json:"turnOrder"`
	LockedPlayers     []LockedPlayer   `json:"lockedPlayers"`
	OrphanHands       []OrphanHand     `json:"orphanHands"`
	Winner            ClientID         `json:"winner"`
	EndType           EndType          `json:"endType"`
	Scores            map[ClientID]int `json:"scores,omitempty"`
	CurrentRound      int              `json:"currentRound"`
	LastRoundPoints   int              `json:"lastRoundPoints"`
	StatusBeforePause Status           `json:"statusBeforePause,omitempty"`
}

// NewGameState returns an empty LOBBY state.
func NewGameState() GameState {
	return GameState{
		Status:           StatusLobby,
		Direction:        Clockwise,
		PlayerCardCounts: map[ClientID]int{},
	}
}

// Clone returns a deep copy.
func (g GameState) Clone() GameState {
	out := g
	out.DiscardPile = slices.Clone(g.DiscardPile)
	out.PlayerCardCounts = maps.Clone(g.PlayerCardCounts)
	out.TurnOrder = slices.Clone(g.TurnOrder)
	out.LockedPlayers = slices.Clone(g.LockedPlayers)
	out.Scores = maps.Clone(g.Scores)
	if g.OrphanHands != nil {
		out.OrphanHands = make([]OrphanHand, len(g.OrphanHands))
		for i, o := range g.OrphanHands {
			o.Cards = slices.Clone(o.Cards)
			out.OrphanHands[i] = o
		}
	}
	return out
}

// IsLocked reports whether id is part of the frozen roster.
func (g *GameState) IsLocked(id ClientID) bool {
	return slices.ContainsFunc(g.LockedPlayers, func(p LockedPlayer) bool { return p.ClientID == id })
}

// Orphan returns the orphan entry for an original client id.
func (g *GameState) Orphan(id ClientID) (OrphanHand, bool) {
	for _, o := range g.OrphanHands {
		if o.OriginalClientID == id {
			return o, true
		}
	}
	return OrphanHand{}, false
}

var (
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrTooManyPlayers   = errors.New("too many players")
	ErrRoundNotOver     = errors.New("round is not over")
	ErrGameInProgress   = errors.New("game already in progress")
	ErrHandTooLarge     = errors.New("starting hands use up the deck")
)

// Table is everything the host needs to run a round: the replicated state,
// every player's hand, the private deck, and the settings in force.
type Table struct {
	State    GameState
	Hands    map[ClientID][]Card
	Deck     []Card
	Settings Settings

	rng *rand.Rand
}

// NewTable returns a LOBBY table using rng for every shuffle.
func NewTable(settings Settings, rng *rand.Rand) *Table {
	return &Table{
		State:    NewGameState(),
		Hands:    map[ClientID][]Card{},
		Settings: settings,
		rng:      rng,
	}
}

// Clone returns a deep copy sharing the same random source.
func (t *Table) Clone() *Table {
	out := *t
	out.State = t.State.Clone()
	out.Deck = slices.Clone(t.Deck)
	out.Hands = make(map[ClientID][]Card, len(t.Hands))
	for id, hand := range t.Hands {
		out.Hands[id] = slices.Clone(hand)
	}
	return &out
}

// InitializeGame locks roster (in seat order) and deals the first round.
func (t *Table) InitializeGame(roster []LockedPlayer) error {
	switch t.State.Status {
	case StatusPlaying, StatusPaused, StatusRoundEnded:
		return ErrGameInProgress
	}
	if len(roster) < MinPlayers {
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughPlayers, len(roster), MinPlayers)
	}
	if len(roster) > MaxPlayers {
		return fmt.Errorf("%w: have %d, max %d", ErrTooManyPlayers, len(roster), MaxPlayers)
	}
	if dealt := t.Settings.handSize() * len(roster); dealt >= DeckSize {
		return fmt.Errorf("%w: %d cards dealt from %d", ErrHandTooLarge, dealt, DeckSize)
	}

	order := make([]ClientID, len(roster))
	for i, p := range roster {
		order[i] = p.ClientID
	}

	t.State = NewGameState()
	t.State.TurnOrder = order
	t.State.LockedPlayers = slices.Clone(roster)
	if t.Settings.ScoreLimit.MultiRound() {
		t.State.Scores = make(map[ClientID]int, len(order))
		for _, id := range order {
			t.State.Scores[id] = 0
		}
		t.State.CurrentRound = 1
	}

	t.startRound(0)
	return nil
}

// InitializeRound deals the next round of a multi-round game. Roster, seat
// order and scores carry over; the opening seat rotates every round.
func (t *Table) InitializeRound() error {
	if t.State.Status != StatusRoundEnded {
		return fmt.Errorf("%w (status %s)", ErrRoundNotOver, t.State.Status)
	}
	startSeat := t.State.CurrentRound % len(t.State.TurnOrder)
	t.State.OrphanHands = nil
	t.State.Winner = NoClient
	t.State.EndType = EndNone
	t.State.CurrentRound++
	t.startRound(startSeat)
	return nil
}

// startRound shuffles a fresh deck, deals every seat, flips the opening
// discard and applies its effect.
func (t *Table) startRound(startSeat int) {
	t.Deck = Shuffle(CreateDeck(), t.rng)
	t.State.DiscardPile = nil
	t.State.Direction = Clockwise
	t.State.StatusBeforePause = ""
	t.State.PlayerCardCounts = make(map[ClientID]int, len(t.State.TurnOrder))
	t.Hands = make(map[ClientID][]Card, len(t.State.TurnOrder))

	// Deal one card at a time around the table.
	handSize := t.Settings.handSize()
	for c := 0; c < handSize; c++ {
		for _, id := range t.State.TurnOrder {
			t.give(id, 1)
		}
	}

	if top, ok := t.flip(); ok {
		t.applyOpening(top, startSeat)
	} else {
		t.State.CurrentTurn = t.State.TurnOrder[startSeat]
	}
	t.State.Status = StatusPlaying
}

// applyOpening sets the first turn from the flipped card: skip passes the
// opening seat, reverse plays backwards from the previous seat, draw2 makes
// the opening seat draw two and lose the turn.
func (t *Table) applyOpening(top Card, startSeat int) {
	start := t.State.TurnOrder[startSeat]
	t.State.CurrentTurn = start

	switch top.Symbol {
	case SymbolSkip:
		t.advance(1)
	case SymbolReverse:
		t.State.Direction = CounterClockwise
		t.advance(1)
	case SymbolDraw2:
		t.give(start, 2)
		t.advance(1)
	}
}

// flip turns the top deck card onto the discard pile. A wild-draw4 is
// never a legal opener, so it is shuffled back and another card flipped,
// unless nothing else is left to flip. ok is false when the deck is empty.
func (t *Table) flip() (card Card, ok bool) {
	if len(t.Deck) == 0 {
		return Card{}, false
	}
	onlyDraw4 := !slices.ContainsFunc(t.Deck, func(c Card) bool { return c.Symbol != SymbolWildDraw4 })
	for {
		top := len(t.Deck) - 1
		card = t.Deck[top]
		if card.Symbol != SymbolWildDraw4 || onlyDraw4 {
			t.Deck = t.Deck[:top]
			t.State.DiscardPile = append(t.State.DiscardPile, card)
			return card, true
		}
		Shuffle(t.Deck, t.rng)
	}
}
