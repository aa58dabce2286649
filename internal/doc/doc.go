// Package doc is the replicated game document shared by every peer in a
// room.
//
// The document is a set of named registers (game state, settings, lobby
// order, host claim, and per-player hands, action slots and results).
// Each register holds a CBOR value and the Lamport stamp of its last
// write; remote patches win register by register when their stamp is
// newer. The host register instead merges by claim epoch so concurrent
// host claims converge. Writes happen only inside Transact, which commits
// atomically and hands observers one Change per commit.
package doc

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/sirupsen/logrus"
)

// Document is one peer's replica.
type Document struct {
	view

	self engine.ClientID
	log  logrus.FieldLogger

	mu    sync.Mutex
	clock uint64
	regs  map[Key]Entry

	changes notifier[Change]
}

// New returns an empty replica owned by self.
func New(self engine.ClientID, log logrus.FieldLogger) *Document {
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &Document{
		self: self,
		log:  log.WithField("client", self),
		regs: make(map[Key]Entry),
	}
	d.view = view{r: lockedReader{d}, log: d.log}
	return d
}

// ClientID returns the id of the peer owning this replica.
func (d *Document) ClientID() engine.ClientID { return d.self }

// Observe registers fn for every subsequent change. Observers run one at a
// time, in commit order, without the document lock held; a Transact made
// from inside an observer is delivered after the current change.
func (d *Document) Observe(fn func(Change)) (cancel func()) {
	return d.changes.observe(fn)
}

// OnLocalPatch registers fn for the patch of every local commit, in order.
// The transport uses it to broadcast writes to other peers.
func (d *Document) OnLocalPatch(fn func(Patch)) (cancel func()) {
	return d.changes.observe(func(c Change) {
		if c.Local {
			fn(c.Patch)
		}
	})
}

// Transact runs fn against a staged view of the document and commits
// every write it made as one change. If fn returns an error nothing is
// committed. fn must not call methods on d; it reads and writes through tx.
func (d *Document) Transact(fn func(tx *Tx) error) error {
	d.mu.Lock()
	tx := &Tx{d: d, writes: make(map[Key]Entry)}
	tx.view = view{r: tx, log: d.log}
	if err := fn(tx); err != nil {
		d.mu.Unlock()
		return err
	}
	if tx.err != nil {
		d.mu.Unlock()
		return tx.err
	}

	keys := make([]Key, 0, len(tx.writes))
	for k, w := range tx.writes {
		if cur, ok := d.regs[k]; ok && cur.Deleted == w.Deleted && bytes.Equal(cur.Value, w.Value) {
			continue
		}
		if _, ok := d.regs[k]; !ok && w.Deleted {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		d.mu.Unlock()
		return nil
	}
	slices.Sort(keys)

	d.clock++
	stamp := Stamp{Clock: d.clock, Origin: d.self}
	patch := Patch{Entries: make([]Entry, 0, len(keys))}
	for _, k := range keys {
		w := tx.writes[k]
		w.Stamp = stamp
		d.regs[k] = w
		patch.Entries = append(patch.Entries, w)
	}
	d.changes.enqueue(Change{Keys: keys, Local: true, Patch: patch})
	d.mu.Unlock()

	d.changes.drain()
	return nil
}

// ApplyRemote merges a patch received from another peer and reports
// whether anything changed.
func (d *Document) ApplyRemote(p Patch) bool {
	d.mu.Lock()
	var applied []Entry
	for _, e := range p.Entries {
		if e.Stamp.Clock > d.clock {
			d.clock = e.Stamp.Clock
		}
		if d.mergeLocked(e) {
			applied = append(applied, e)
		}
	}
	if len(applied) == 0 {
		d.mu.Unlock()
		return false
	}
	keys := make([]Key, len(applied))
	for i, e := range applied {
		keys[i] = e.Key
	}
	d.changes.enqueue(Change{Keys: keys, Patch: Patch{Entries: applied}})
	d.mu.Unlock()

	d.changes.drain()
	return true
}

func (d *Document) mergeLocked(e Entry) bool {
	cur, ok := d.regs[e.Key]
	if e.Key == KeyHost {
		var in, have HostClaim
		if err := decode(e.Value, &in); err != nil {
			d.log.WithError(err).Warn("Dropping malformed host claim")
			return false
		}
		if ok {
			if err := decode(cur.Value, &have); err != nil {
				d.log.WithError(err).Warn("Replacing malformed host claim")
				have = HostClaim{}
			}
		}
		if !in.Beats(have) {
			return false
		}
		d.regs[e.Key] = e
		return true
	}
	if ok && !e.Stamp.After(cur.Stamp) {
		return false
	}
	d.regs[e.Key] = e
	return true
}

// Snapshot returns every register, tombstones included, as one patch. A
// fresh peer that applies it converges with this replica.
func (d *Document) Snapshot() Patch {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := make([]Key, 0, len(d.regs))
	for k := range d.regs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	p := Patch{Entries: make([]Entry, len(keys))}
	for i, k := range keys {
		p.Entries[i] = d.regs[k]
	}
	return p
}

// Tx is a staged set of writes. Reads through a Tx see its own writes.
type Tx struct {
	view

	d      *Document
	writes map[Key]Entry
	err    error
}

func (tx *Tx) set(k Key, v any) {
	b, err := encode(v)
	if err != nil {
		if tx.err == nil {
			tx.err = fmt.Errorf("encode %s: %w", k, err)
		}
		return
	}
	tx.writes[k] = Entry{Key: k, Value: b}
}

func (tx *Tx) del(k Key) {
	tx.writes[k] = Entry{Key: k, Deleted: true}
}

func (tx *Tx) raw(k Key) ([]byte, bool) {
	if w, ok := tx.writes[k]; ok {
		return w.Value, !w.Deleted
	}
	return tx.d.rawLocked(k)
}

func (tx *Tx) each(fn func(Key, []byte)) {
	for k, e := range tx.d.regs {
		if _, staged := tx.writes[k]; staged || e.Deleted {
			continue
		}
		fn(k, e.Value)
	}
	for k, w := range tx.writes {
		if !w.Deleted {
			fn(k, w.Value)
		}
	}
}

func (tx *Tx) SetState(s engine.GameState)      { tx.set(KeyState, s) }
func (tx *Tx) SetSettings(s engine.Settings)    { tx.set(KeySettings, s) }
func (tx *Tx) SetOrder(order []engine.ClientID) { tx.set(KeyOrder, order) }

// ClaimHost writes c if it beats the current claim and reports whether it did.
func (tx *Tx) ClaimHost(c HostClaim) bool {
	if !c.Beats(tx.Host()) {
		return false
	}
	tx.set(KeyHost, c)
	return true
}

func (tx *Tx) SetHand(id engine.ClientID, cards []engine.Card) { tx.set(HandKey(id), cards) }
func (tx *Tx) ClearHand(id engine.ClientID)                    { tx.del(HandKey(id)) }

// SetAction fills id's single action slot, replacing anything unprocessed.
func (tx *Tx) SetAction(id engine.ClientID, a engine.Action) { tx.set(ActionKey(id), a) }

// ClearAction empties id's action slot.
func (tx *Tx) ClearAction(id engine.ClientID) { tx.del(ActionKey(id)) }

func (tx *Tx) SetResult(id engine.ClientID, r ActionResult) { tx.set(ResultKey(id), r) }

func (d *Document) rawLocked(k Key) ([]byte, bool) {
	e, ok := d.regs[k]
	if !ok || e.Deleted {
		return nil, false
	}
	return e.Value, true
}

type lockedReader struct{ d *Document }

func (l lockedReader) raw(k Key) ([]byte, bool) {
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	return l.d.rawLocked(k)
}

func (l lockedReader) each(fn func(Key, []byte)) {
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	for k, e := range l.d.regs {
		if !e.Deleted {
			fn(k, e.Value)
		}
	}
}
