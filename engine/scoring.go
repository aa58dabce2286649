package engine

const (
	actionCardPoints = 20
	wildCardPoints   = 50
)

// PointValue returns the scoring value of a single card.
//   - number cards → face value
//   - skip, reverse, draw2 → 20
//   - wild, wild-draw4 → 50
func (c Card) PointValue() int {
	if n, ok := c.Symbol.Number(); ok {
		return n
	}
	if c.Symbol.IsWild() {
		return wildCardPoints
	}
	if c.Symbol.IsAction() {
		return actionCardPoints
	}
	// Malformed symbols are worth nothing.
	return 0
}

// CalculateHandPoints sums the point values of cards.
func CalculateHandPoints(cards []Card) int {
	total := 0
	for _, c := range cards {
		total += c.PointValue()
	}
	return total
}

// roundPoints returns what the round winner collects: every other hand
// still held by a locked player plus every orphaned hand.
func (t *Table) roundPoints(winner ClientID) int {
	points := 0
	for id, hand := range t.Hands {
		if id == winner {
			continue
		}
		points += CalculateHandPoints(hand)
	}
	for _, o := range t.State.OrphanHands {
		points += CalculateHandPoints(o.Cards)
	}
	return points
}
