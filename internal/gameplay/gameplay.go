// Package gameplay is what every peer, host included, uses to read its
// view of the game and submit moves. Moves go into the peer's action slot
// in the document; only the host applies them.
package gameplay

import (
	"context"
	"fmt"
	"sync"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/doc"
	"github.com/sirupsen/logrus"
)

// Superseded is the reason given to a submission overwritten before the
// host read it.
const Superseded = "superseded by a newer submission"

// Client reads and writes the game on behalf of the local peer.
type Client struct {
	doc  *doc.Document
	self engine.ClientID
	log  logrus.FieldLogger

	submitMu sync.Mutex // serializes writes to the action slot

	mu      sync.Mutex
	seq     uint64
	results map[uint64]doc.ActionResult
	local   map[uint64]bool // results decided here; the host's verdict replaces them
	waiters map[uint64][]chan doc.ActionResult
	cancel  func()
}

// New returns a client for the document's local peer. Sequence numbers
// continue after any result already recorded for it.
func New(d *doc.Document, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Client{
		doc:     d,
		self:    d.ClientID(),
		log:     log.WithField("client", d.ClientID()),
		results: make(map[uint64]doc.ActionResult),
		local:   make(map[uint64]bool),
		waiters: make(map[uint64][]chan doc.ActionResult),
	}
	if r, ok := d.Result(c.self); ok {
		c.seq = r.Seq
		c.results[r.Seq] = r
	}
	c.cancel = d.Observe(c.onChange)
	return c
}

// Close stops watching the document. Pending Await calls keep waiting
// until their context ends.
func (c *Client) Close() { c.cancel() }

// ClientID returns the local peer's id.
func (c *Client) ClientID() engine.ClientID { return c.self }

// State returns the replicated game state.
func (c *Client) State() engine.GameState { return c.doc.State() }

// Hand returns the local player's cards.
func (c *Client) Hand() []engine.Card { return c.doc.Hand(c.self) }

// TopCard returns the top of the discard pile, nil before the first deal.
func (c *Client) TopCard() *engine.Card {
	st := c.doc.State()
	return st.TopCard()
}

// Orphans returns the hands waiting for a replacement player.
func (c *Client) Orphans() []engine.OrphanHand { return c.doc.State().OrphanHands }

// IsMyTurn reports whether the game is in play and waiting on this peer.
func (c *Client) IsMyTurn() bool {
	st := c.doc.State()
	return st.Status == engine.StatusPlaying && st.CurrentTurn == c.self
}

// CanPlay reports whether card may be played on the current discard.
func (c *Client) CanPlay(card engine.Card) bool {
	return engine.IsPlayable(card, c.TopCard())
}

// PlayableCards returns the cards in hand that CanPlay accepts.
func (c *Client) PlayableCards() []engine.Card {
	st := c.doc.State()
	return st.PlayableCards(c.doc.Hand(c.self))
}

// Submit writes action into the local action slot with the next sequence
// number and returns it. It does not wait for the host. A previous
// submission still in the slot is overwritten and answered locally as
// superseded. The local replica may lag the host, so a result the host
// later writes for that submission replaces the local answer.
func (c *Client) Submit(action engine.Action) (uint64, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	c.mu.Lock()
	c.seq++
	action.Seq = c.seq
	c.mu.Unlock()

	var replaced *engine.Action
	err := c.doc.Transact(func(tx *doc.Tx) error {
		if prev, ok := tx.Action(c.self); ok {
			replaced = &prev
		}
		tx.SetAction(c.self, action)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("submit %s: %w", action.Type, err)
	}
	c.log.WithFields(logrus.Fields{"action": action.Type, "seq": action.Seq}).Debug("Submitted action")

	if replaced != nil && replaced.Seq != 0 {
		c.mu.Lock()
		if _, done := c.results[replaced.Seq]; !done {
			c.resolveLocked(doc.ActionResult{Seq: replaced.Seq, Outcome: doc.OutcomeRejected, Reason: Superseded})
			c.local[replaced.Seq] = true
		}
		c.mu.Unlock()
	}
	return action.Seq, nil
}

// Play submits a PLAY_CARD action.
func (c *Client) Play(cardID string, chosen engine.Color) (uint64, error) {
	return c.Submit(engine.PlayCard(cardID, chosen))
}

// Draw submits a DRAW_CARD action.
func (c *Client) Draw() (uint64, error) {
	return c.Submit(engine.DrawCard())
}

// Result returns the host's verdict on submission seq, or a PENDING result
// if the host has not answered yet.
func (c *Client) Result(seq uint64) doc.ActionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.lookupLocked(seq); ok {
		return r
	}
	return doc.ActionResult{Seq: seq, Outcome: doc.OutcomePending}
}

// Await blocks until the host answers submission seq or ctx ends.
func (c *Client) Await(ctx context.Context, seq uint64) (doc.ActionResult, error) {
	c.mu.Lock()
	if r, ok := c.lookupLocked(seq); ok {
		c.mu.Unlock()
		return r, nil
	}
	ch := make(chan doc.ActionResult, 1)
	c.waiters[seq] = append(c.waiters[seq], ch)
	c.mu.Unlock()

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		c.mu.Lock()
		ws := c.waiters[seq]
		for i, w := range ws {
			if w == ch {
				c.waiters[seq] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		if len(c.waiters[seq]) == 0 {
			delete(c.waiters, seq)
		}
		c.mu.Unlock()
		return doc.ActionResult{Seq: seq, Outcome: doc.OutcomePending}, ctx.Err()
	}
}

func (c *Client) onChange(ch doc.Change) {
	if !ch.Has(doc.ResultKey(c.self)) {
		return
	}
	r, ok := c.doc.Result(c.self)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local[r.Seq] {
		if c.results[r.Seq] != r {
			c.log.WithFields(logrus.Fields{"seq": r.Seq, "outcome": r.Outcome}).Debug("Host answered a superseded action")
		}
		delete(c.local, r.Seq)
		c.results[r.Seq] = r
		return
	}
	c.resolveLocked(r)
}

// resolveLocked stores r and wakes its waiters. Assumes mu is held.
func (c *Client) resolveLocked(r doc.ActionResult) {
	if _, done := c.results[r.Seq]; done {
		return
	}
	c.results[r.Seq] = r
	for _, w := range c.waiters[r.Seq] {
		w <- r
	}
	delete(c.waiters, r.Seq)
}

// lookupLocked finds a recorded result, falling back to the result
// register in case it was written before the client started watching.
// Assumes mu is held.
func (c *Client) lookupLocked(seq uint64) (doc.ActionResult, bool) {
	if r, ok := c.results[seq]; ok {
		return r, true
	}
	if r, ok := c.doc.Result(c.self); ok && r.Seq == seq {
		c.results[seq] = r
		return r, true
	}
	return doc.ActionResult{}, false
}
