package presence

import (
	"slices"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/doc"
)

// Player is a present peer as the lobby and table show it.
type Player struct {
	ClientID engine.ClientID `json:"clientId"`
	Name     string          `json:"name"`
	IsHost   bool            `json:"isHost"`
	Avatar   string          `json:"avatar,omitempty"`
}

// Gate returns the peers admitted to the visible roster for the current
// game status, in canonical order. In LOBBY the first MaxPlayers peers are
// admitted; while paused anyone may appear so replacements can take a
// seat; otherwise only locked players are shown.
func Gate(state engine.GameState, order []engine.ClientID, peers []doc.PeerState, host engine.ClientID) []Player {
	sorted := Canonical(order, peers)

	out := make([]Player, 0, len(sorted))
	for _, p := range sorted {
		switch state.Status {
		case engine.StatusLobby:
			if len(out) >= engine.MaxPlayers {
				return out
			}
		case engine.StatusPaused:
		default:
			if !state.IsLocked(p.ClientID) {
				continue
			}
		}
		out = append(out, Player{
			ClientID: p.ClientID,
			Name:     p.Name,
			IsHost:   p.ClientID == host,
			Avatar:   p.Avatar,
		})
	}
	return out
}

// Canonical sorts peers by their position in order. Peers the order does
// not know yet follow, by client id.
func Canonical(order []engine.ClientID, peers []doc.PeerState) []doc.PeerState {
	out := slices.Clone(peers)
	pos := func(id engine.ClientID) int {
		if i := slices.Index(order, id); i >= 0 {
			return i
		}
		return len(order)
	}
	slices.SortStableFunc(out, func(a, b doc.PeerState) int {
		pa, pb := pos(a.ClientID), pos(b.ClientID)
		if pa != pb {
			return pa - pb
		}
		switch {
		case a.ClientID < b.ClientID:
			return -1
		case a.ClientID > b.ClientID:
			return 1
		}
		return 0
	})
	return out
}
