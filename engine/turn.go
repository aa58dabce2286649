package engine

const (
	Clockwise        = 1
	CounterClockwise = -1
)

// seatOf returns the index of id in order, or -1.
func seatOf(order []ClientID, id ClientID) int {
	for i, o := range order {
		if o == id {
			return i
		}
	}
	return -1
}

// NextSeat returns the player steps seats away from current in direction.
// An unknown current is treated as seat 0.
func NextSeat(order []ClientID, current ClientID, direction, steps int) ClientID {
	n := len(order)
	if n == 0 {
		return NoClient
	}
	idx := seatOf(order, current)
	if idx < 0 {
		idx = 0
	}
	next := ((idx+direction*steps)%n + n) % n
	return order[next]
}

// effectSteps returns how far the turn moves after symbol is played and
// whether the direction flips. Reverse acts as skip with two players.
func effectSteps(symbol Symbol, players int) (steps int, flip bool) {
	switch symbol {
	case SymbolSkip, SymbolDraw2, SymbolWildDraw4:
		return 2, false
	case SymbolReverse:
		if players == 2 {
			return 2, true
		}
		return 1, true
	}
	return 1, false
}

// penaltyCards returns how many cards the next seat draws for symbol.
func penaltyCards(symbol Symbol) int {
	switch symbol {
	case SymbolDraw2:
		return 2
	case SymbolWildDraw4:
		return 4
	}
	return 0
}

// advance moves CurrentTurn by steps in the current direction.
func (t *Table) advance(steps int) {
	t.State.CurrentTurn = NextSeat(t.State.TurnOrder, t.State.CurrentTurn, t.State.Direction, steps)
}
