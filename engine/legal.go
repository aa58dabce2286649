package engine

// IsPlayable reports whether card may be played on top. With no top card
// nothing is playable. A colorless top (a wild flipped to open the round)
// accepts anything; wilds are always playable; otherwise color or symbol
// must match.
func IsPlayable(card Card, top *Card) bool {
	if top == nil {
		return false
	}
	if top.Color == ColorNone {
		return true
	}
	if card.IsWild() {
		return true
	}
	return card.Color == top.Color || card.Symbol == top.Symbol
}

// TopCard returns the top of the discard pile, or nil when it is empty.
func (g *GameState) TopCard() *Card {
	if len(g.DiscardPile) == 0 {
		return nil
	}
	top := g.DiscardPile[len(g.DiscardPile)-1]
	return &top
}

// ActiveColor is the color legality is checked against. ColorNone means
// any card may be played.
func (g *GameState) ActiveColor() Color {
	top := g.TopCard()
	if top == nil {
		return ColorNone
	}
	return top.Color
}

// PlayableCards filters hand down to the cards legal on the current top.
func (g *GameState) PlayableCards(hand []Card) []Card {
	top := g.TopCard()
	var out []Card
	for _, c := range hand {
		if IsPlayable(c, top) {
			out = append(out, c)
		}
	}
	return out
}
