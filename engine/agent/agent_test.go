package agent

import (
	"math/rand/v2"
	"testing"

	engine "github.com/jason-s-yu/webuno/engine"
)

func c(id string, color engine.Color, sym engine.Symbol) engine.Card {
	return engine.Card{ID: id, Color: color, Symbol: sym}
}

// TestGreedyPrefersActionOverNumber verifies the costliest colored card goes first.
func TestGreedyPrefersActionOverNumber(t *testing.T) {
	top := c("t", engine.ColorRed, engine.NumberSymbol(5))
	hand := []engine.Card{
		c("a", engine.ColorRed, engine.NumberSymbol(2)),
		c("b", engine.ColorRed, engine.SymbolSkip),
		c("w", engine.ColorNone, engine.SymbolWild),
	}
	got := Greedy{}.Choose(hand, &top)
	if got.Type != engine.ActionPlayCard || got.CardID != "b" {
		t.Errorf("Choose = %+v, want play b", got)
	}
}

// TestGreedyWildNamesDominantColor verifies a forced wild picks the held color.
func TestGreedyWildNamesDominantColor(t *testing.T) {
	top := c("t", engine.ColorRed, engine.NumberSymbol(5))
	hand := []engine.Card{
		c("w", engine.ColorNone, engine.SymbolWildDraw4),
		c("g1", engine.ColorGreen, engine.NumberSymbol(1)),
		c("g2", engine.ColorGreen, engine.NumberSymbol(3)),
		c("b1", engine.ColorBlue, engine.NumberSymbol(3)),
	}
	got := Greedy{}.Choose(hand, &top)
	if got.CardID != "w" || got.ChosenColor != engine.ColorGreen {
		t.Errorf("Choose = %+v, want wild naming green", got)
	}
}

// TestGreedyDrawsWhenStuck verifies a hand with nothing playable draws.
func TestGreedyDrawsWhenStuck(t *testing.T) {
	top := c("t", engine.ColorRed, engine.NumberSymbol(5))
	hand := []engine.Card{c("g", engine.ColorGreen, engine.NumberSymbol(1))}
	if got := (Greedy{}).Choose(hand, &top); got.Type != engine.ActionDrawCard {
		t.Errorf("Choose = %+v, want draw", got)
	}
}

// TestRandomAlwaysLegal verifies every random choice is playable.
func TestRandomAlwaysLegal(t *testing.T) {
	r := NewRandom(rand.New(rand.NewPCG(5, 5)))
	top := c("t", engine.ColorBlue, engine.NumberSymbol(9))
	hand := []engine.Card{
		c("a", engine.ColorBlue, engine.NumberSymbol(1)),
		c("b", engine.ColorRed, engine.NumberSymbol(9)),
		c("x", engine.ColorRed, engine.NumberSymbol(2)),
		c("w", engine.ColorNone, engine.SymbolWild),
	}
	for i := 0; i < 100; i++ {
		got := r.Choose(hand, &top)
		if got.CardID == "x" {
			t.Fatal("chose an unplayable card")
		}
		if got.CardID == "w" && !got.ChosenColor.Valid() {
			t.Fatal("wild without a color")
		}
	}
}

// TestDominantColor verifies counting and the all-wild fallback.
func TestDominantColor(t *testing.T) {
	if got := DominantColor([]engine.Card{c("w", engine.ColorNone, engine.SymbolWild)}); got != engine.ColorRed {
		t.Errorf("all wild = %s, want red", got)
	}
	hand := []engine.Card{
		c("y1", engine.ColorYellow, engine.NumberSymbol(1)),
		c("b1", engine.ColorBlue, engine.NumberSymbol(1)),
		c("b2", engine.ColorBlue, engine.NumberSymbol(2)),
	}
	if got := DominantColor(hand); got != engine.ColorBlue {
		t.Errorf("DominantColor = %s, want blue", got)
	}
}
