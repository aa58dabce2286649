package main

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/webuno/engine/agent"
	"github.com/jason-s-yu/webuno/internal/doc"
	"github.com/jason-s-yu/webuno/internal/gameplay"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	awaitTimeout  = 10 * time.Second
	retryInterval = 500 * time.Millisecond
)

// autoplayer submits a move whenever it is the local peer's turn, one
// action in flight at a time.
type autoplayer struct {
	gp     *gameplay.Client
	policy agent.Policy
	clock  clockwork.Clock
	log    logrus.FieldLogger

	mu   sync.Mutex
	busy bool
}

func newAutoplayer(gp *gameplay.Client, policy agent.Policy, clock clockwork.Clock, log logrus.FieldLogger) *autoplayer {
	return &autoplayer{gp: gp, policy: policy, clock: clock, log: log.WithField("autoplay", true)}
}

// watch plays on every document change until the returned cancel is called.
func (a *autoplayer) watch(d *doc.Document) (cancel func()) {
	cancel = d.Observe(func(doc.Change) { a.poke() })
	a.poke()
	return cancel
}

func (a *autoplayer) poke() {
	a.mu.Lock()
	if a.busy || !a.gp.IsMyTurn() {
		a.mu.Unlock()
		return
	}
	a.busy = true
	a.mu.Unlock()
	go a.play()
}

func (a *autoplayer) play() {
	ok := a.turn()
	if !ok {
		<-a.clock.After(retryInterval)
	}
	a.mu.Lock()
	a.busy = false
	a.mu.Unlock()
	a.poke()
}

// turn submits one action and reports whether the host accepted it.
func (a *autoplayer) turn() bool {
	action := a.policy.Choose(a.gp.Hand(), a.gp.TopCard())
	seq, err := a.gp.Submit(action)
	if err != nil {
		a.log.WithError(err).Warn("Failed to submit action")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), awaitTimeout)
	defer cancel()
	res, err := a.gp.Await(ctx, seq)
	if err != nil {
		a.log.WithError(err).Warnf("No result for action %d", seq)
		return false
	}
	log := a.log.WithFields(logrus.Fields{"seq": seq, "action": action.Type, "card": action.CardID})
	if res.Outcome != doc.OutcomeAccepted {
		log.WithField("reason", res.Reason).Warn("Action rejected")
		return false
	}
	log.Debug("Action accepted")
	return true
}
