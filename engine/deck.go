package engine

import (
	"fmt"
	"math/rand/v2"
)

// CreateDeck builds the 108-card deck in a fixed order. Per color: one 0,
// two each of 1-9, two each of skip/reverse/draw2. Then four wilds and four
// wild-draw4s.
func CreateDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for _, color := range Colors {
		deck = append(deck, Card{ID: fmt.Sprintf("%s-0", color), Color: color, Symbol: NumberSymbol(0)})
		for n := 1; n <= 9; n++ {
			for copyIdx := 0; copyIdx < 2; copyIdx++ {
				deck = append(deck, Card{
					ID:     fmt.Sprintf("%s-%d-%d", color, n, copyIdx),
					Color:  color,
					Symbol: NumberSymbol(n),
				})
			}
		}
		for _, sym := range [3]Symbol{SymbolSkip, SymbolReverse, SymbolDraw2} {
			for copyIdx := 0; copyIdx < 2; copyIdx++ {
				deck = append(deck, Card{
					ID:     fmt.Sprintf("%s-%s-%d", color, sym, copyIdx),
					Color:  color,
					Symbol: sym,
				})
			}
		}
	}
	for _, sym := range [2]Symbol{SymbolWild, SymbolWildDraw4} {
		for i := 0; i < 4; i++ {
			deck = append(deck, Card{ID: fmt.Sprintf("%s-%d", sym, i), Symbol: sym})
		}
	}
	return deck
}

// Shuffle permutes cards in place with a Fisher-Yates pass and returns the
// same slice.
func Shuffle(cards []Card, rng *rand.Rand) []Card {
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
	return cards
}

// draw pops up to n cards off the top of the deck (the end of the slice),
// reshuffling the discard pile into the deck when it runs dry. It returns
// fewer than n cards only when both are exhausted.
func (t *Table) draw(n int) []Card {
	out := make([]Card, 0, n)
	for len(out) < n {
		if len(t.Deck) == 0 && !t.reshuffle() {
			break
		}
		top := len(t.Deck) - 1
		out = append(out, t.Deck[top])
		t.Deck = t.Deck[:top]
	}
	return out
}

// reshuffle moves every discard but the top one back into the deck, clearing
// the chosen color off wilds. Returns false when there is nothing to move.
func (t *Table) reshuffle() bool {
	pile := t.State.DiscardPile
	if len(pile) <= 1 {
		return false
	}
	top := pile[len(pile)-1]
	rest := make([]Card, len(pile)-1)
	copy(rest, pile[:len(pile)-1])
	for i := range rest {
		if rest[i].IsWild() {
			rest[i].Color = ColorNone
		}
	}
	t.Deck = append(t.Deck, Shuffle(rest, t.rng)...)
	t.State.DiscardPile = []Card{top}
	return true
}

// give deals n cards to a player and refreshes their card count.
func (t *Table) give(id ClientID, n int) {
	t.Hands[id] = append(t.Hands[id], t.draw(n)...)
	t.State.PlayerCardCounts[id] = len(t.Hands[id])
}

// CardTotal counts every card on the table: deck, hands, discards and
// orphaned hands. It is DeckSize whenever a round is in progress.
func (t *Table) CardTotal() int {
	total := len(t.Deck) + len(t.State.DiscardPile)
	for _, hand := range t.Hands {
		total += len(hand)
	}
	for _, o := range t.State.OrphanHands {
		total += len(o.Cards)
	}
	return total
}
