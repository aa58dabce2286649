// Package agent picks moves for seats nobody is steering: the headless
// peer's autoplay mode and randomized whole-game tests.
package agent

import (
	"math/rand/v2"
	"slices"

	engine "github.com/jason-s-yu/webuno/engine"
)

// Policy chooses the next action for a hand given the current top discard.
// The returned action is always legal for that hand: a play when any card
// fits, a draw otherwise.
type Policy interface {
	Choose(hand []engine.Card, top *engine.Card) engine.Action
}

// Greedy sheds its most expensive playable card first, holding wilds back
// until nothing else fits.
type Greedy struct{}

func (Greedy) Choose(hand []engine.Card, top *engine.Card) engine.Action {
	var best *engine.Card
	for i := range hand {
		c := &hand[i]
		if !engine.IsPlayable(*c, top) {
			continue
		}
		if best == nil || rank(*c) > rank(*best) {
			best = c
		}
	}
	if best == nil {
		return engine.DrawCard()
	}
	return playWithColor(*best, hand)
}

// rank orders colored cards by points, then wilds below all of them.
func rank(c engine.Card) int {
	if c.IsWild() {
		return -1
	}
	return c.PointValue()
}

// Random plays a uniformly random playable card, or draws.
type Random struct {
	rng *rand.Rand
}

func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

func (r *Random) Choose(hand []engine.Card, top *engine.Card) engine.Action {
	var playable []engine.Card
	for _, c := range hand {
		if engine.IsPlayable(c, top) {
			playable = append(playable, c)
		}
	}
	if len(playable) == 0 {
		return engine.DrawCard()
	}
	return playWithColor(playable[r.rng.IntN(len(playable))], hand)
}

func playWithColor(c engine.Card, hand []engine.Card) engine.Action {
	if !c.IsWild() {
		return engine.PlayCard(c.ID, engine.ColorNone)
	}
	return engine.PlayCard(c.ID, DominantColor(hand))
}

// DominantColor returns the color held most often in hand, breaking ties in
// deck order. A hand of only wilds names red.
func DominantColor(hand []engine.Card) engine.Color {
	var counts [len(engine.Colors)]int
	for _, c := range hand {
		if i := slices.Index(engine.Colors[:], c.Color); i >= 0 {
			counts[i]++
		}
	}
	best := 0
	for i := range counts {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return engine.Colors[best]
}
