package engine

import (
	"errors"
	"fmt"
	"slices"

	"golang.org/x/text/cases"
)

var ErrNoSuchOrphan = errors.New("no orphaned hand for client")

// Candidate is a present peer that may take over an orphaned hand.
type Candidate struct {
	ClientID ClientID
	Name     string
}

// Replacement records one orphaned hand handed to a new peer.
type Replacement struct {
	Original ClientID
	New      ClientID
	Distance int
}

// DetectDisconnects turns every locked player missing from active into an
// orphan, capturing their hand. A disconnect during PLAYING pauses the game.
// Detection only runs while a round is being played: a player who vanishes
// during ROUND_ENDED is picked up once the next round starts.
func (t *Table) DetectDisconnects(active []ClientID) []ClientID {
	if t.State.Status != StatusPlaying && t.State.Status != StatusPaused {
		return nil
	}

	var orphaned []ClientID
	for _, p := range t.State.LockedPlayers {
		if slices.Contains(active, p.ClientID) {
			continue
		}
		if _, ok := t.State.Orphan(p.ClientID); ok {
			continue
		}
		t.State.OrphanHands = append(t.State.OrphanHands, OrphanHand{
			OriginalClientID: p.ClientID,
			OriginalName:     p.Name,
			Cards:            t.Hands[p.ClientID],
		})
		delete(t.Hands, p.ClientID)
		orphaned = append(orphaned, p.ClientID)
	}

	if len(orphaned) > 0 && t.State.Status == StatusPlaying {
		t.State.StatusBeforePause = StatusPlaying
		t.State.Status = StatusPaused
	}
	return orphaned
}

// AssignReplacements hands orphaned seats to present peers while the game
// is paused. An orphan whose original client is present again gets its
// seat back directly; every other candidate not already locked takes the
// orphan whose name is closest by case-insensitive edit distance. Play
// resumes once no orphans remain.
func (t *Table) AssignReplacements(active []ClientID, candidates []Candidate) []Replacement {
	if t.State.Status != StatusPaused {
		return nil
	}

	var out []Replacement
	for _, o := range slices.Clone(t.State.OrphanHands) {
		if slices.Contains(active, o.OriginalClientID) {
			t.substitute(o, Candidate{ClientID: o.OriginalClientID, Name: o.OriginalName})
			out = append(out, Replacement{Original: o.OriginalClientID, New: o.OriginalClientID})
		}
	}

	for _, c := range candidates {
		if len(t.State.OrphanHands) == 0 {
			break
		}
		if c.ClientID == NoClient || t.State.IsLocked(c.ClientID) {
			continue
		}
		best, dist := t.closestOrphan(c.Name)
		o := t.State.OrphanHands[best]
		t.substitute(o, c)
		out = append(out, Replacement{Original: o.OriginalClientID, New: c.ClientID, Distance: dist})
	}

	t.resumeIfSettled()
	return out
}

// closestOrphan returns the index of the orphan whose name is nearest to
// name. Ties go to the earliest orphan.
func (t *Table) closestOrphan(name string) (int, int) {
	best, bestDist := 0, -1
	for i, o := range t.State.OrphanHands {
		d := NameDistance(name, o.OriginalName)
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// substitute seats c in place of orphan o everywhere the original id appears.
func (t *Table) substitute(o OrphanHand, c Candidate) {
	orig := o.OriginalClientID
	for i := range t.State.LockedPlayers {
		if t.State.LockedPlayers[i].ClientID == orig {
			t.State.LockedPlayers[i] = LockedPlayer{ClientID: c.ClientID, Name: c.Name}
		}
	}
	for i := range t.State.TurnOrder {
		if t.State.TurnOrder[i] == orig {
			t.State.TurnOrder[i] = c.ClientID
		}
	}
	if t.State.CurrentTurn == orig {
		t.State.CurrentTurn = c.ClientID
	}
	delete(t.State.PlayerCardCounts, orig)
	t.State.PlayerCardCounts[c.ClientID] = len(o.Cards)
	if score, ok := t.State.Scores[orig]; ok {
		delete(t.State.Scores, orig)
		t.State.Scores[c.ClientID] = score
	}
	t.Hands[c.ClientID] = o.Cards
	t.removeOrphan(orig)
}

// ContinueWithout drops an orphaned player from the game for good. Their
// cards go to the bottom of the deck unshuffled. If only one player is left
// they win by walkover.
func (t *Table) ContinueWithout(orig ClientID) error {
	o, ok := t.State.Orphan(orig)
	if !ok {
		return fmt.Errorf("%w %d", ErrNoSuchOrphan, orig)
	}

	t.Deck = append(slices.Clone(o.Cards), t.Deck...)

	if t.State.CurrentTurn == orig {
		t.State.CurrentTurn = NextSeat(t.State.TurnOrder, orig, t.State.Direction, 1)
	}
	t.State.TurnOrder = slices.DeleteFunc(t.State.TurnOrder, func(id ClientID) bool { return id == orig })
	t.State.LockedPlayers = slices.DeleteFunc(t.State.LockedPlayers, func(p LockedPlayer) bool { return p.ClientID == orig })
	delete(t.State.PlayerCardCounts, orig)
	delete(t.State.Scores, orig)
	delete(t.Hands, orig)
	t.removeOrphan(orig)

	if len(t.State.LockedPlayers) == 1 {
		t.State.Status = StatusEnded
		t.State.EndType = EndWalkover
		t.State.Winner = t.State.LockedPlayers[0].ClientID
		t.State.StatusBeforePause = ""
		return nil
	}
	t.resumeIfSettled()
	return nil
}

// resumeIfSettled leaves the pause once every orphan is resolved.
func (t *Table) resumeIfSettled() {
	if t.State.Status != StatusPaused || len(t.State.OrphanHands) > 0 {
		return
	}
	resume := t.State.StatusBeforePause
	if resume == "" {
		resume = StatusPlaying
	}
	t.State.Status = resume
	t.State.StatusBeforePause = ""
}

func (t *Table) removeOrphan(orig ClientID) {
	t.State.OrphanHands = slices.DeleteFunc(t.State.OrphanHands, func(o OrphanHand) bool {
		return o.OriginalClientID == orig
	})
}

// NameDistance is the Levenshtein distance between two names after case folding.
func NameDistance(a, b string) int {
	fold := cases.Fold()
	return levenshtein([]rune(fold.String(a)), []rune(fold.String(b)))
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
