package game

import (
	"slices"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/doc"
	"github.com/sirupsen/logrus"
)

// processActions handles the given slots first, in arrival order, then
// any other filled slot by client id. Nothing is processed unless the game
// is PLAYING; slots filled during a pause wait for the resume.
// Assumes Mu is held.
func (h *Host) processActions(first []engine.ClientID) {
	if h.table.State.Status != engine.StatusPlaying {
		return
	}
	order := slices.Clone(first)
	var rest []engine.ClientID
	for id := range h.doc.PendingActions() {
		if !slices.Contains(order, id) {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	order = append(order, rest...)

	done := make(map[engine.ClientID]bool, len(order))
	for _, id := range order {
		if done[id] {
			continue
		}
		done[id] = true
		if h.table.State.Status != engine.StatusPlaying {
			return
		}
		h.processAction(id)
	}
}

// processAction reads, applies, and clears one action slot in a single
// transaction together with its result and the new game state.
// Assumes Mu is held.
func (h *Host) processAction(id engine.ClientID) {
	var (
		action    engine.Action
		found     bool
		duplicate bool
		result    doc.ActionResult
	)
	before := h.table.State.Status

	err := h.transact(func(tx *doc.Tx) error {
		action, found = tx.Action(id)
		if !found {
			return nil
		}
		tx.ClearAction(id)

		if action.Seq != 0 && action.Seq <= h.lastSeq[id] {
			duplicate = true
			return nil
		}
		if action.Seq > h.lastSeq[id] {
			h.lastSeq[id] = action.Seq
		}

		result = doc.ActionResult{Seq: action.Seq, Outcome: doc.OutcomeAccepted}
		if err := h.table.Apply(id, action); err != nil {
			result.Outcome = doc.OutcomeRejected
			result.Reason = err.Error()
		} else {
			h.writeTable(tx)
		}
		tx.SetResult(id, result)
		return nil
	})
	if err != nil {
		h.log.WithError(err).WithField("client", id).Error("Failed to commit action")
		return
	}
	if !found {
		return
	}

	entry := h.log.WithFields(logrus.Fields{"client": id, "action": action.Type, "seq": action.Seq})
	if duplicate {
		entry.Debug("Dropped duplicate submission")
		return
	}
	if result.Outcome == doc.OutcomeRejected {
		entry.WithField("reason", result.Reason).Debug("Action rejected")
	} else {
		entry.Debug("Action accepted")
	}

	payload := map[string]any{"seq": action.Seq, "outcome": result.Outcome}
	if action.CardID != "" {
		payload["cardId"] = action.CardID
	}
	if action.ChosenColor != engine.ColorNone {
		payload["chosenColor"] = action.ChosenColor
	}
	if result.Reason != "" {
		payload["reason"] = result.Reason
	}
	h.logAction(id, string(action.Type), payload)
	h.fireEvent(Event{Type: EventActionProcessed, User: id, Result: &result, Payload: payload})

	switch st := h.table.State; {
	case before == st.Status:
	case st.Status == engine.StatusRoundEnded:
		h.log.WithFields(logrus.Fields{"winner": st.Winner, "points": st.LastRoundPoints}).Info("Round ended")
		h.logAction(st.Winner, string(EventRoundEnded), map[string]any{"points": st.LastRoundPoints, "scores": st.Scores})
		h.fireEvent(Event{Type: EventRoundEnded, User: st.Winner, Payload: map[string]any{"points": st.LastRoundPoints}})
	case st.Status == engine.StatusEnded:
		h.endGame()
	}
}
