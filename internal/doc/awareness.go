package doc

import (
	"slices"
	"sync"

	engine "github.com/jason-s-yu/webuno/engine"
)

// PeerState is the ephemeral presence record each peer advertises. Clock
// increases with every local update so stale copies are ignored.
type PeerState struct {
	ClientID    engine.ClientID `cbor:"1,keyasint" json:"clientId"`
	Name        string          `cbor:"2,keyasint" json:"name"`
	Avatar      string          `cbor:"3,keyasint,omitempty" json:"avatar,omitempty"`
	CreatedRoom bool            `cbor:"4,keyasint,omitempty" json:"createdRoom,omitempty"`
	Clock       uint64          `cbor:"5,keyasint" json:"clock"`
}

// AwarenessChange lists the peers whose records changed in one update.
type AwarenessChange struct {
	Added   []engine.ClientID
	Updated []engine.ClientID
	Removed []engine.ClientID
}

// Awareness tracks who is present in the room. Unlike the document it
// keeps no history: a record vanishes as soon as its peer is gone.
type Awareness struct {
	mu     sync.Mutex
	local  PeerState
	remote map[engine.ClientID]PeerState

	changes notifier[AwarenessChange]
	updates notifier[PeerState]
}

// NewAwareness returns presence tracking for the local peer self.
func NewAwareness(self engine.ClientID) *Awareness {
	return &Awareness{
		local:  PeerState{ClientID: self},
		remote: make(map[engine.ClientID]PeerState),
	}
}

// ClientID returns the local peer's id.
func (a *Awareness) ClientID() engine.ClientID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local.ClientID
}

// SetLocal replaces the local record's fields and announces it.
func (a *Awareness) SetLocal(name, avatar string, createdRoom bool) {
	a.mu.Lock()
	a.local.Name = name
	a.local.Avatar = avatar
	a.local.CreatedRoom = createdRoom
	a.local.Clock++
	st := a.local
	a.updates.enqueue(st)
	a.changes.enqueue(AwarenessChange{Updated: []engine.ClientID{st.ClientID}})
	a.mu.Unlock()

	a.updates.drain()
	a.changes.drain()
}

// Local returns the local record.
func (a *Awareness) Local() PeerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local
}

// ApplyRemote records a peer's advertised state, ignoring stale or
// self-addressed copies.
func (a *Awareness) ApplyRemote(st PeerState) bool {
	a.mu.Lock()
	if st.ClientID == engine.NoClient || st.ClientID == a.local.ClientID {
		a.mu.Unlock()
		return false
	}
	cur, ok := a.remote[st.ClientID]
	if ok && st.Clock <= cur.Clock {
		a.mu.Unlock()
		return false
	}
	a.remote[st.ClientID] = st
	var ch AwarenessChange
	if ok {
		ch.Updated = []engine.ClientID{st.ClientID}
	} else {
		ch.Added = []engine.ClientID{st.ClientID}
	}
	a.changes.enqueue(ch)
	a.mu.Unlock()

	a.changes.drain()
	return true
}

// Remove drops a remote peer's record, typically when its transport closes.
func (a *Awareness) Remove(id engine.ClientID) bool {
	a.mu.Lock()
	if _, ok := a.remote[id]; !ok {
		a.mu.Unlock()
		return false
	}
	delete(a.remote, id)
	a.changes.enqueue(AwarenessChange{Removed: []engine.ClientID{id}})
	a.mu.Unlock()

	a.changes.drain()
	return true
}

// Peers returns every present peer, local included, ordered by client id.
func (a *Awareness) Peers() []PeerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PeerState, 0, len(a.remote)+1)
	out = append(out, a.local)
	for _, st := range a.remote {
		out = append(out, st)
	}
	slices.SortFunc(out, func(x, y PeerState) int {
		switch {
		case x.ClientID < y.ClientID:
			return -1
		case x.ClientID > y.ClientID:
			return 1
		}
		return 0
	})
	return out
}

// Peer returns the record for id.
func (a *Awareness) Peer(id engine.ClientID) (PeerState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == a.local.ClientID {
		return a.local, true
	}
	st, ok := a.remote[id]
	return st, ok
}

// ActiveIDs returns the client ids of every present peer.
func (a *Awareness) ActiveIDs() []engine.ClientID {
	peers := a.Peers()
	ids := make([]engine.ClientID, len(peers))
	for i, p := range peers {
		ids[i] = p.ClientID
	}
	return ids
}

// Observe registers fn for every presence change.
func (a *Awareness) Observe(fn func(AwarenessChange)) (cancel func()) {
	return a.changes.observe(fn)
}

// OnLocalUpdate registers fn for every local record update; the transport
// broadcasts them.
func (a *Awareness) OnLocalUpdate(fn func(PeerState)) (cancel func()) {
	return a.updates.observe(fn)
}

// EncodePeerState and DecodePeerState are the wire form of a record.
func EncodePeerState(st PeerState) ([]byte, error) { return encode(st) }

func DecodePeerState(b []byte) (PeerState, error) {
	var st PeerState
	err := decode(b, &st)
	return st, err
}
