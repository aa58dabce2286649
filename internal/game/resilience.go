package game

import (
	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/presence"
	"github.com/sirupsen/logrus"
)

// reconcileFromPresence runs Reconcile against the current awareness.
func (h *Host) reconcileFromPresence() {
	peers := presence.Canonical(h.doc.Order(), h.aw.Peers())
	active := make([]engine.ClientID, len(peers))
	candidates := make([]engine.Candidate, len(peers))
	for i, p := range peers {
		active[i] = p.ClientID
		candidates[i] = engine.Candidate{ClientID: p.ClientID, Name: p.Name}
	}
	h.Reconcile(active, candidates)
}

// Reconcile compares the locked roster against the peers present. Missing
// players become orphans, which pauses a game in play; while paused,
// present peers are matched to orphaned seats. Play resumes, and any
// actions submitted meanwhile are processed, once no orphans remain.
func (h *Host) Reconcile(active []engine.ClientID, candidates []engine.Candidate) []engine.Replacement {
	h.Mu.Lock()
	defer h.Mu.Unlock()

	before := h.table.State.Status
	saved := h.table.Clone()
	orphaned := h.table.DetectDisconnects(active)
	replaced := h.table.AssignReplacements(active, candidates)
	if len(orphaned) == 0 && len(replaced) == 0 {
		return nil
	}
	if err := h.commit(false); err != nil {
		h.log.WithError(err).Warn("Roster change not committed")
		h.table = saved
		return nil
	}

	for _, id := range orphaned {
		h.log.WithField("client", id).Warn("Player disconnected; hand orphaned")
		h.logAction(id, "player_disconnect", nil)
		h.fireEvent(Event{Type: EventPlayerOrphaned, User: id})
	}
	if before == engine.StatusPlaying && h.table.State.Status == engine.StatusPaused {
		h.log.Info("Game paused waiting for players")
		h.fireEvent(Event{Type: EventGamePaused})
	}
	for _, r := range replaced {
		h.log.WithFields(logrus.Fields{"original": r.Original, "replacement": r.New}).Info("Seat taken over")
		h.logAction(r.New, "player_replace", map[string]any{"original": r.Original, "distance": r.Distance})
		h.fireEvent(Event{Type: EventPlayerReplaced, User: r.New, Payload: map[string]any{"original": r.Original}})
	}
	h.afterResume(before)
	return replaced
}

// ContinueWithout drops an orphaned player for good. The game ends in a
// walkover if only one player is left.
func (h *Host) ContinueWithout(original engine.ClientID) error {
	h.Mu.Lock()
	defer h.Mu.Unlock()

	before := h.table.State.Status
	saved := h.table.Clone()
	if err := h.table.ContinueWithout(original); err != nil {
		return err
	}
	if err := h.commit(false); err != nil {
		h.table = saved
		return err
	}

	h.log.WithField("client", original).Info("Continuing without player")
	h.logAction(original, "player_remove", nil)
	h.fireEvent(Event{Type: EventPlayerRemoved, User: original})
	if h.table.State.Status == engine.StatusEnded {
		h.endGame()
		return nil
	}
	h.afterResume(before)
	return nil
}

// afterResume announces a resume and drains actions submitted while
// paused. Assumes Mu is held.
func (h *Host) afterResume(before engine.Status) {
	if before != engine.StatusPaused || h.table.State.Status != engine.StatusPlaying {
		return
	}
	h.log.Info("Game resumed")
	h.fireEvent(Event{Type: EventGameResumed})
	h.processActions(nil)
}
