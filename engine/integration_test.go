package engine_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/engine/agent"
)

// checkInvariants verifies the properties that hold after every accepted action.
func checkInvariants(t *testing.T, tbl *engine.Table, seats []engine.ClientID) {
	t.Helper()
	if got := tbl.CardTotal(); got != engine.DeckSize {
		t.Fatalf("CardTotal = %d, want %d", got, engine.DeckSize)
	}
	order := slices.Clone(tbl.State.TurnOrder)
	slices.Sort(order)
	if !slices.Equal(order, seats) {
		t.Fatalf("turn order %v is not a permutation of %v", tbl.State.TurnOrder, seats)
	}
	for id, n := range tbl.State.PlayerCardCounts {
		if n != len(tbl.Hands[id]) {
			t.Fatalf("count[%d] = %d, hand = %d", id, n, len(tbl.Hands[id]))
		}
	}
	if tbl.State.Status == engine.StatusPlaying && !slices.Contains(tbl.State.TurnOrder, tbl.State.CurrentTurn) {
		t.Fatalf("current turn %d not seated", tbl.State.CurrentTurn)
	}
}

// playOut drives a table with policy until the round stops, returning the
// number of accepted actions.
func playOut(t *testing.T, tbl *engine.Table, policy agent.Policy, seats []engine.ClientID) int {
	t.Helper()
	const maxActions = 5000
	for n := 0; n < maxActions; n++ {
		if tbl.State.Status != engine.StatusPlaying {
			return n
		}
		id := tbl.State.CurrentTurn
		action := policy.Choose(tbl.Hands[id], tbl.State.TopCard())
		if err := tbl.Apply(id, action); err != nil {
			t.Fatalf("action %d: policy chose rejected %+v: %v", n, action, err)
		}
		checkInvariants(t, tbl, seats)
	}
	t.Fatalf("round did not finish in %d actions", maxActions)
	return 0
}

// TestRandomGamesKeepInvariants plays many seeded single-round games.
func TestRandomGamesKeepInvariants(t *testing.T) {
	seats := []engine.ClientID{1, 2, 3, 4, 5}
	for seed := uint64(1); seed <= 40; seed++ {
		rng := rand.New(rand.NewPCG(seed, 77))
		tbl := engine.NewTable(engine.DefaultSettings(), rng)
		roster := make([]engine.LockedPlayer, len(seats))
		for i, id := range seats {
			roster[i] = engine.LockedPlayer{ClientID: id}
		}
		if err := tbl.InitializeGame(roster); err != nil {
			t.Fatal(err)
		}
		checkInvariants(t, tbl, seats)

		playOut(t, tbl, agent.NewRandom(rng), seats)
		if tbl.State.Status != engine.StatusEnded || tbl.State.EndType != engine.EndWin {
			t.Fatalf("seed %d: status %s end %s", seed, tbl.State.Status, tbl.State.EndType)
		}
		if len(tbl.Hands[tbl.State.Winner]) != 0 {
			t.Fatalf("seed %d: winner %d still holds cards", seed, tbl.State.Winner)
		}
	}
}

// TestMultiRoundGameToLimit plays rounds until someone passes the limit.
func TestMultiRoundGameToLimit(t *testing.T) {
	settings := engine.DefaultSettings()
	settings.ScoreLimit = 300
	settings.HouseRules.DrawToMatch = true
	seats := []engine.ClientID{1, 2, 3}

	tbl := engine.NewTable(settings, rand.New(rand.NewPCG(9, 9)))
	if err := tbl.InitializeGame([]engine.LockedPlayer{{ClientID: 1}, {ClientID: 2}, {ClientID: 3}}); err != nil {
		t.Fatal(err)
	}

	for round := 1; round <= 100; round++ {
		if tbl.State.CurrentRound != round {
			t.Fatalf("CurrentRound = %d, want %d", tbl.State.CurrentRound, round)
		}
		playOut(t, tbl, agent.Greedy{}, seats)

		if tbl.State.LastRoundPoints < 0 {
			t.Fatalf("LastRoundPoints = %d", tbl.State.LastRoundPoints)
		}

		if tbl.State.Status == engine.StatusEnded {
			if tbl.State.Scores[tbl.State.Winner] < 300 {
				t.Fatalf("ended with winner score %d", tbl.State.Scores[tbl.State.Winner])
			}
			return
		}
		if tbl.State.Status != engine.StatusRoundEnded {
			t.Fatalf("status = %s after round", tbl.State.Status)
		}
		for _, s := range tbl.State.Scores {
			if s >= 300 {
				t.Fatalf("score %d reached the limit without ending", s)
			}
		}
		if err := tbl.InitializeRound(); err != nil {
			t.Fatal(err)
		}
		checkInvariants(t, tbl, seats)
	}
	t.Fatal("no one reached the limit in 100 rounds")
}
