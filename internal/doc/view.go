package doc

import (
	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/sirupsen/logrus"
)

type reader interface {
	raw(k Key) ([]byte, bool)
	each(fn func(Key, []byte))
}

// view decodes registers for both Document and Tx. Unset or undecodable
// registers read as their zero value.
type view struct {
	r   reader
	log logrus.FieldLogger
}

func (v view) read(k Key, out any) bool {
	b, ok := v.r.raw(k)
	if !ok {
		return false
	}
	if err := decode(b, out); err != nil {
		v.log.WithError(err).WithField("key", k).Warn("Ignoring undecodable register")
		return false
	}
	return true
}

// State returns the game state, or a fresh LOBBY state if none was written.
func (v view) State() engine.GameState {
	s := engine.NewGameState()
	if !v.read(KeyState, &s) {
		return engine.NewGameState()
	}
	if s.PlayerCardCounts == nil {
		s.PlayerCardCounts = map[engine.ClientID]int{}
	}
	return s
}

// Settings returns the game settings, or the defaults.
func (v view) Settings() engine.Settings {
	var s engine.Settings
	if !v.read(KeySettings, &s) {
		return engine.DefaultSettings()
	}
	return s
}

// Order returns the canonical lobby order.
func (v view) Order() []engine.ClientID {
	var order []engine.ClientID
	v.read(KeyOrder, &order)
	return order
}

// Host returns the winning host claim; its ClientID is NoClient when unclaimed.
func (v view) Host() HostClaim {
	var c HostClaim
	v.read(KeyHost, &c)
	return c
}

// Hand returns the cards held by id.
func (v view) Hand(id engine.ClientID) []engine.Card {
	var cards []engine.Card
	v.read(HandKey(id), &cards)
	return cards
}

// Action returns the unprocessed action in id's slot.
func (v view) Action(id engine.ClientID) (engine.Action, bool) {
	var a engine.Action
	ok := v.read(ActionKey(id), &a)
	return a, ok
}

// Result returns the last result the host wrote for id.
func (v view) Result(id engine.ClientID) (ActionResult, bool) {
	var r ActionResult
	ok := v.read(ResultKey(id), &r)
	return r, ok
}

// PendingActions returns every filled action slot.
func (v view) PendingActions() map[engine.ClientID]engine.Action {
	out := make(map[engine.ClientID]engine.Action)
	v.r.each(func(k Key, b []byte) {
		id, ok := k.IsAction()
		if !ok {
			return
		}
		var a engine.Action
		if err := decode(b, &a); err != nil {
			v.log.WithError(err).WithField("key", k).Warn("Ignoring undecodable action")
			return
		}
		out[id] = a
	})
	return out
}
