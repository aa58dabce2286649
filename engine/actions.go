package engine

import (
	"errors"
	"fmt"
	"slices"
)

// Rejection reasons returned by Apply. The table is unchanged when Apply
// returns an error.
var (
	ErrNotPlaying    = errors.New("game is not in play")
	ErrNotYourTurn   = errors.New("not your turn")
	ErrCardNotInHand = errors.New("card not in hand")
	ErrIllegalCard   = errors.New("card cannot be played on the current discard")
	ErrMissingColor  = errors.New("wild card played without a chosen color")
	ErrInvalidColor  = errors.New("chosen color is not a card color")
	ErrUnknownAction = errors.New("unknown action type")
)

// Apply runs one submitted action for player id. It returns nil when the
// action was accepted and a wrapped rejection reason otherwise.
func (t *Table) Apply(id ClientID, action Action) error {
	if t.State.Status != StatusPlaying {
		return fmt.Errorf("%w (status %s)", ErrNotPlaying, t.State.Status)
	}
	if id != t.State.CurrentTurn {
		return ErrNotYourTurn
	}

	switch action.Type {
	case ActionPlayCard:
		return t.playCard(id, action.CardID, action.ChosenColor)
	case ActionDrawCard:
		t.drawCard(id)
		return nil
	default:
		return fmt.Errorf("%w %q", ErrUnknownAction, action.Type)
	}
}

// playCard moves a card from the player's hand onto the discard pile and
// resolves its effect, or the round win if the hand is now empty.
func (t *Table) playCard(id ClientID, cardID string, chosen Color) error {
	hand := t.Hands[id]
	idx := slices.IndexFunc(hand, func(c Card) bool { return c.ID == cardID })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrCardNotInHand, cardID)
	}
	card := hand[idx]
	if !IsPlayable(card, t.State.TopCard()) {
		return fmt.Errorf("%w: %s", ErrIllegalCard, cardID)
	}
	if card.IsWild() {
		if chosen == ColorNone {
			return ErrMissingColor
		}
		if !chosen.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidColor, chosen)
		}
		card.Color = chosen
	}

	t.Hands[id] = slices.Delete(slices.Clone(hand), idx, idx+1)
	t.State.DiscardPile = append(t.State.DiscardPile, card)
	t.State.PlayerCardCounts[id] = len(t.Hands[id])

	if len(t.Hands[id]) == 0 {
		t.winRound(id)
		return nil
	}

	if n := penaltyCards(card.Symbol); n > 0 {
		victim := NextSeat(t.State.TurnOrder, id, t.State.Direction, 1)
		t.give(victim, n)
	}
	steps, flip := effectSteps(card.Symbol, len(t.State.TurnOrder))
	if flip {
		t.State.Direction = -t.State.Direction
	}
	t.advance(steps)
	return nil
}

// drawCard deals the acting player one card (or, with DrawToMatch, keeps
// dealing until a playable card turns up) and passes the turn.
func (t *Table) drawCard(id ClientID) {
	if !t.Settings.HouseRules.DrawToMatch {
		t.give(id, 1)
		t.advance(1)
		return
	}
	top := t.State.TopCard()
	for {
		drawn := t.draw(1)
		if len(drawn) == 0 {
			break
		}
		t.Hands[id] = append(t.Hands[id], drawn[0])
		if IsPlayable(drawn[0], top) {
			break
		}
	}
	t.State.PlayerCardCounts[id] = len(t.Hands[id])
	t.advance(1)
}

// winRound records a player emptying their hand. Single-round games end on
// the spot. Multi-round games bank every remaining hand into the winner's
// score and end once the limit is reached.
func (t *Table) winRound(id ClientID) {
	t.State.Winner = id
	if !t.Settings.ScoreLimit.MultiRound() {
		t.State.Status = StatusEnded
		t.State.EndType = EndWin
		return
	}

	points := t.roundPoints(id)
	if t.State.Scores == nil {
		t.State.Scores = map[ClientID]int{}
	}
	t.State.Scores[id] += points
	t.State.LastRoundPoints = points

	if t.Settings.ScoreLimit.Reached(t.State.Scores[id]) {
		t.State.Status = StatusEnded
		t.State.EndType = EndWin
		return
	}
	t.State.Status = StatusRoundEnded
}
