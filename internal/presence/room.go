// Package presence tracks who is in a room, which peer is host, and the
// canonical seat order the host maintains for the lobby.
package presence

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/doc"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	// HostTimeout is how long a peer waits for a host before reporting
	// the host as disconnected.
	HostTimeout = 3 * time.Second
	// LobbyGrace is how long a departed peer keeps its lobby seat.
	LobbyGrace = 5 * time.Second
)

// HostStatus is the local view of the room's host.
type HostStatus int

const (
	HostPending HostStatus = iota
	HostResolved
	HostDisconnected // no host appeared within HostTimeout
	HostLost         // the resolved host left; fatal for the session
)

func (s HostStatus) String() string {
	switch s {
	case HostPending:
		return "pending"
	case HostResolved:
		return "resolved"
	case HostDisconnected:
		return "disconnected"
	case HostLost:
		return "lost"
	}
	return fmt.Sprintf("HostStatus(%d)", int(s))
}

var (
	ErrHostLost = errors.New("host left the room")
	ErrNotHost  = errors.New("only the host can do that")
	ErrNotLobby = errors.New("seat order can only change in the lobby")
	ErrBadOrder = errors.New("order must be a permutation of the current order")
)

// Config wires a Room to its replica and presence records.
type Config struct {
	Doc       *doc.Document
	Awareness *doc.Awareness
	Clock     clockwork.Clock
	Log       logrus.FieldLogger
	// CreatedRoom is true for the peer that opened the room; it claims
	// host unconditionally.
	CreatedRoom bool
}

// Room is the local peer's membership in a room.
type Room struct {
	doc     *doc.Document
	aw      *doc.Awareness
	clock   clockwork.Clock
	log     logrus.FieldLogger
	self    engine.ClientID
	created bool

	mu        sync.Mutex
	started   bool
	attempted bool
	status    HostStatus
	hostID    engine.ClientID
	hostTimer clockwork.Timer
	departed  map[engine.ClientID]clockwork.Timer
	onStatus  []func(HostStatus)
	onFatal   []func(error)
	cancels   []func()
}

// New returns a Room for the local peer. Call Start to begin tracking.
func New(cfg Config) *Room {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Room{
		doc:      cfg.Doc,
		aw:       cfg.Awareness,
		clock:    clock,
		log:      log.WithField("client", cfg.Doc.ClientID()),
		self:     cfg.Doc.ClientID(),
		created:  cfg.CreatedRoom,
		departed: make(map[engine.ClientID]clockwork.Timer),
	}
}

// Start observes the document and presence and arms the host timeout.
func (r *Room) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.hostTimer = r.clock.AfterFunc(HostTimeout, r.hostTimeout)
	r.cancels = append(r.cancels,
		r.doc.Observe(func(c doc.Change) {
			if c.Has(doc.KeyHost) {
				r.resolveHost()
			}
			if c.Has(doc.KeyState) || c.Has(doc.KeyHost) {
				r.syncOrder()
			}
		}),
		r.aw.Observe(r.onPresence),
	)
	r.mu.Unlock()

	r.resolveHost()
	r.syncOrder()
}

// Close stops every timer and observer.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil
	if r.hostTimer != nil {
		r.hostTimer.Stop()
	}
	for id, t := range r.departed {
		t.Stop()
		delete(r.departed, id)
	}
}

// ClaimHost makes the local peer host if it created the room, or if no
// host is set and it sees no other peer. It runs at most once per
// session; later calls report the outcome of the first.
func (r *Room) ClaimHost() bool {
	r.mu.Lock()
	if r.attempted {
		r.mu.Unlock()
		return r.doc.Host().ClientID == r.self
	}
	r.attempted = true
	r.mu.Unlock()

	alone := len(r.aw.Peers()) <= 1
	var won bool
	err := r.doc.Transact(func(tx *doc.Tx) error {
		cur := tx.Host()
		if !r.created && (cur.ClientID != engine.NoClient || !alone) {
			return nil
		}
		won = tx.ClaimHost(doc.HostClaim{ClientID: r.self, Epoch: cur.Epoch + 1})
		return nil
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to write host claim")
		return false
	}
	if won {
		r.log.Info("Claimed host")
	}
	return won
}

// HostID returns the resolved host, or NoClient.
func (r *Room) HostID() engine.ClientID { return r.doc.Host().ClientID }

// IsHost reports whether the local peer is host.
func (r *Room) IsHost() bool { return r.HostID() == r.self }

// HostStatus returns the local view of the host.
func (r *Room) HostStatus() HostStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// OnHostStatus registers fn for host status transitions.
func (r *Room) OnHostStatus(fn func(HostStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatus = append(r.onStatus, fn)
}

// OnFatal registers fn for unrecoverable session errors (ErrHostLost).
func (r *Room) OnFatal(fn func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFatal = append(r.onFatal, fn)
}

// Roster returns the visible players for the current game status.
func (r *Room) Roster() []Player {
	return Gate(r.doc.State(), r.doc.Order(), r.aw.Peers(), r.HostID())
}

// SelfRejected reports whether the local peer is kept out of the roster,
// which the UI shows as "room full".
func (r *Room) SelfRejected() bool {
	return !slices.ContainsFunc(r.Roster(), func(p Player) bool { return p.ClientID == r.self })
}

// Reorder rewrites the lobby order. ids must contain exactly the current
// order's members.
func (r *Room) Reorder(ids []engine.ClientID) error {
	if !r.IsHost() {
		return ErrNotHost
	}
	return r.doc.Transact(func(tx *doc.Tx) error {
		if tx.State().Status != engine.StatusLobby {
			return ErrNotLobby
		}
		cur := slices.Clone(tx.Order())
		want := slices.Clone(ids)
		slices.Sort(cur)
		slices.Sort(want)
		if !slices.Equal(cur, want) {
			return ErrBadOrder
		}
		tx.SetOrder(slices.Clone(ids))
		return nil
	})
}

// Shuffle randomizes the lobby order.
func (r *Room) Shuffle(rng *rand.Rand) error {
	if !r.IsHost() {
		return ErrNotHost
	}
	return r.doc.Transact(func(tx *doc.Tx) error {
		if tx.State().Status != engine.StatusLobby {
			return ErrNotLobby
		}
		order := slices.Clone(tx.Order())
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		tx.SetOrder(order)
		return nil
	})
}

func (r *Room) setStatus(s HostStatus) {
	r.mu.Lock()
	if r.status == s || r.status == HostLost {
		r.mu.Unlock()
		return
	}
	r.status = s
	fns := slices.Clone(r.onStatus)
	var fatal []func(error)
	if s == HostLost {
		fatal = slices.Clone(r.onFatal)
	}
	r.mu.Unlock()

	r.log.WithField("host", r.HostID()).Infof("Host status %s", s)
	for _, fn := range fns {
		fn(s)
	}
	for _, fn := range fatal {
		fn(ErrHostLost)
	}
}

func (r *Room) hostTimeout() {
	r.mu.Lock()
	pending := r.status == HostPending
	r.mu.Unlock()
	if pending && r.HostID() == engine.NoClient {
		r.setStatus(HostDisconnected)
	}
}

func (r *Room) resolveHost() {
	host := r.HostID()
	if host == engine.NoClient {
		return
	}
	r.mu.Lock()
	r.hostID = host
	if r.hostTimer != nil {
		r.hostTimer.Stop()
	}
	r.mu.Unlock()
	r.setStatus(HostResolved)
}

func (r *Room) onPresence(c doc.AwarenessChange) {
	r.mu.Lock()
	host := r.hostID
	r.mu.Unlock()
	if host != engine.NoClient && host != r.self && slices.Contains(c.Removed, host) {
		r.log.WithField("host", host).Warn("Host left the room")
		r.setStatus(HostLost)
		return
	}
	r.syncOrder()
}

// syncOrder keeps the canonical order in step with presence. Only the
// host writes it: new peers are appended, and in the lobby a departed
// peer is pruned once it has been gone for LobbyGrace.
func (r *Room) syncOrder() {
	if !r.IsHost() {
		return
	}
	present := r.aw.ActiveIDs()
	order := r.doc.Order()
	lobby := r.doc.State().Status == engine.StatusLobby

	r.mu.Lock()
	for id, t := range r.departed {
		if slices.Contains(present, id) || !lobby {
			t.Stop()
			delete(r.departed, id)
		}
	}
	if lobby {
		for _, id := range order {
			if slices.Contains(present, id) {
				continue
			}
			if _, waiting := r.departed[id]; !waiting {
				r.departed[id] = r.clock.AfterFunc(LobbyGrace, func() { r.prune(id) })
			}
		}
	}
	r.mu.Unlock()

	var added []engine.ClientID
	for _, id := range present {
		if !slices.Contains(order, id) {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return
	}
	err := r.doc.Transact(func(tx *doc.Tx) error {
		next := tx.Order()
		for _, id := range added {
			if !slices.Contains(next, id) {
				next = append(next, id)
			}
		}
		tx.SetOrder(next)
		return nil
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to append to order")
	}
}

func (r *Room) prune(id engine.ClientID) {
	r.mu.Lock()
	delete(r.departed, id)
	r.mu.Unlock()

	if !r.IsHost() || slices.Contains(r.aw.ActiveIDs(), id) {
		return
	}
	err := r.doc.Transact(func(tx *doc.Tx) error {
		if tx.State().Status != engine.StatusLobby {
			return nil
		}
		tx.SetOrder(slices.DeleteFunc(tx.Order(), func(o engine.ClientID) bool { return o == id }))
		return nil
	})
	if err != nil {
		r.log.WithError(err).Error("Failed to prune order")
		return
	}
	r.log.WithField("peer", id).Debug("Pruned departed peer from order")
}
