// Package game runs the authoritative engine on the host peer. The host
// keeps the engine table in memory and writes it through to the replicated
// document, one transaction per operation.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/doc"
	"github.com/jason-s-yu/webuno/internal/historian"
	"github.com/jason-s-yu/webuno/internal/presence"
	"github.com/sirupsen/logrus"
)

// EventType tags a host-side game event.
type EventType string

const (
	EventRoundStarted    EventType = "round_started"
	EventActionProcessed EventType = "action_processed"
	EventPlayerOrphaned  EventType = "player_orphaned"
	EventPlayerReplaced  EventType = "player_replaced"
	EventPlayerRemoved   EventType = "player_removed"
	EventGamePaused      EventType = "game_paused"
	EventGameResumed     EventType = "game_resumed"
	EventRoundEnded      EventType = "round_ended"
	EventGameEnd         EventType = "game_end"
)

// Event describes something the host did to the game.
type Event struct {
	Type    EventType
	User    engine.ClientID   // player the event concerns, if any
	Result  *doc.ActionResult // for EventActionProcessed
	Payload map[string]any
}

// OnGameEndFunc is called once when a game reaches ENDED.
type OnGameEndFunc func(gameID uuid.UUID, winner engine.ClientID, endType engine.EndType, scores map[engine.ClientID]int)

var (
	ErrSettingsLocked = errors.New("settings can only change between games")
	ErrBadSettings    = errors.New("invalid settings")
)

func validateSettings(s engine.Settings) error {
	if s.StartingHandSize < 1 || s.StartingHandSize*engine.MaxPlayers >= engine.DeckSize {
		return fmt.Errorf("%w: starting hand size %d", ErrBadSettings, s.StartingHandSize)
	}
	if s.ScoreLimit < engine.Endless {
		return fmt.Errorf("%w: score limit %d", ErrBadSettings, s.ScoreLimit)
	}
	return nil
}

// historianTimeout bounds each asynchronous history write.
const historianTimeout = 2 * time.Second

// Options configures a Host.
type Options struct {
	// Awareness, when set, makes Run reconcile the roster on every
	// presence change.
	Awareness *doc.Awareness
	Rand      *rand.Rand
	Log       logrus.FieldLogger
	Recorder  historian.Recorder
}

// Host is the authoritative game engine. Only the elected host runs one.
type Host struct {
	ID uuid.UUID // current game, for history records

	doc      *doc.Document
	aw       *doc.Awareness
	table    *engine.Table
	log      logrus.FieldLogger
	recorder historian.Recorder

	Mu          sync.Mutex // protects the table and everything below
	lastSeq     map[engine.ClientID]uint64
	seated      map[engine.ClientID]bool // hand registers currently written
	actionIndex int

	// Callbacks run with Mu held and must not call back into the Host.
	OnEvent   func(ev Event)
	OnGameEnd OnGameEndFunc

	qmu       sync.Mutex
	queue     []engine.ClientID
	reconcile bool
	kick      chan struct{}

	records  sync.WaitGroup
	transact func(fn func(*doc.Tx) error) error
}

// NewHost returns a host engine writing to d.
func NewHost(d *doc.Document, opts Options) *Host {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	settings := d.Settings()
	if err := validateSettings(settings); err != nil {
		log.WithError(err).Warn("Ignoring stored settings")
		settings = engine.DefaultSettings()
	}
	return &Host{
		doc:      d,
		aw:       opts.Awareness,
		table:    engine.NewTable(settings, rng),
		log:      log.WithField("host", d.ClientID()),
		recorder: opts.Recorder,
		lastSeq:  make(map[engine.ClientID]uint64),
		seated:   make(map[engine.ClientID]bool),
		kick:     make(chan struct{}, 1),
		transact: d.Transact,
	}
}

// Run processes submitted actions and presence changes until ctx ends.
// All processing happens on this goroutine.
func (h *Host) Run(ctx context.Context) error {
	cancels := []func(){h.doc.Observe(h.onChange)}
	if h.aw != nil {
		cancels = append(cancels, h.aw.Observe(func(doc.AwarenessChange) { h.requestReconcile() }))
		h.requestReconcile()
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
		h.records.Wait()
	}()

	h.log.Info("Host engine running")
	h.signal()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.kick:
			h.step()
		}
	}
}

// requestReconcile schedules a presence reconcile on the Run goroutine.
func (h *Host) requestReconcile() {
	if h.aw == nil {
		return
	}
	h.qmu.Lock()
	h.reconcile = true
	h.qmu.Unlock()
	h.signal()
}

func (h *Host) signal() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// onChange queues every action slot a change filled.
func (h *Host) onChange(c doc.Change) {
	var ids []engine.ClientID
	for _, e := range c.Patch.Entries {
		if id, ok := e.Key.IsAction(); ok && !e.Deleted {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	h.qmu.Lock()
	h.queue = append(h.queue, ids...)
	h.qmu.Unlock()
	h.signal()
}

func (h *Host) step() {
	h.qmu.Lock()
	ids := h.queue
	h.queue = nil
	reconcile := h.reconcile
	h.reconcile = false
	h.qmu.Unlock()

	if reconcile {
		h.reconcileFromPresence()
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()
	h.processActions(ids)
}

// Status returns the authoritative status.
func (h *Host) Status() engine.Status {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	return h.table.State.Status
}

// UpdateSettings replaces the game settings. Only allowed before a game
// starts or after one ends.
func (h *Host) UpdateSettings(s engine.Settings) error {
	if err := validateSettings(s); err != nil {
		return err
	}

	h.Mu.Lock()
	defer h.Mu.Unlock()
	switch h.table.State.Status {
	case engine.StatusLobby, engine.StatusEnded:
	default:
		return ErrSettingsLocked
	}
	if err := h.transact(func(tx *doc.Tx) error {
		tx.SetSettings(s)
		return nil
	}); err != nil {
		return err
	}
	h.table.Settings = s
	h.logAction(engine.NoClient, "settings_update", map[string]any{
		"startingHandSize": s.StartingHandSize,
		"scoreLimit":       int(s.ScoreLimit),
		"drawToMatch":      s.HouseRules.DrawToMatch,
	})
	return nil
}

// StartGame locks roster in seat order and deals the first round.
func (h *Host) StartGame(roster []engine.LockedPlayer) error {
	h.Mu.Lock()
	defer h.Mu.Unlock()

	// Any peer can write the settings register; only valid values are used.
	if s := h.doc.Settings(); s != h.table.Settings {
		if err := validateSettings(s); err != nil {
			h.log.WithError(err).Warn("Ignoring settings from the document")
		} else {
			h.table.Settings = s
		}
	}
	if err := h.table.InitializeGame(roster); err != nil {
		return err
	}
	h.ID = uuid.New()
	h.actionIndex = 0
	if err := h.commit(true); err != nil {
		return err
	}

	h.log.WithField("game", h.ID).Infof("Game started with %d players", len(roster))
	h.logAction(engine.NoClient, "game_start", map[string]any{
		"players":    len(roster),
		"settings":   h.table.Settings,
		"turnOrder":  h.table.State.TurnOrder,
		"topCard":    h.table.State.TopCard(),
		"multiRound": h.table.Settings.ScoreLimit.MultiRound(),
	})
	h.fireEvent(Event{Type: EventRoundStarted, Payload: map[string]any{"round": h.table.State.CurrentRound}})
	h.requestReconcile()
	return nil
}

// NextRound deals the next round of a multi-round game.
func (h *Host) NextRound() error {
	h.Mu.Lock()
	defer h.Mu.Unlock()

	if err := h.table.InitializeRound(); err != nil {
		return err
	}
	if err := h.commit(true); err != nil {
		return err
	}
	h.log.WithField("game", h.ID).Infof("Round %d started", h.table.State.CurrentRound)
	h.logAction(engine.NoClient, "round_start", map[string]any{"round": h.table.State.CurrentRound})
	h.fireEvent(Event{Type: EventRoundStarted, Payload: map[string]any{"round": h.table.State.CurrentRound}})
	h.requestReconcile()
	return nil
}

// commit writes the table to the document in one transaction. With
// dropPending every filled action slot is answered as stale and cleared,
// since it was submitted against a round that no longer exists.
// Assumes Mu is held.
func (h *Host) commit(dropPending bool) error {
	err := h.transact(func(tx *doc.Tx) error {
		if dropPending {
			for id, a := range tx.PendingActions() {
				tx.ClearAction(id)
				tx.SetResult(id, doc.ActionResult{Seq: a.Seq, Outcome: doc.OutcomeRejected, Reason: "stale: a new round started"})
			}
		}
		h.writeTable(tx)
		return nil
	})
	if err != nil {
		h.log.WithError(err).Error("Failed to commit game state")
		return fmt.Errorf("commit game state: %w", err)
	}
	return nil
}

// writeTable stages the state and every seated hand. Hands that left the
// table (orphaned or removed) are cleared. Assumes Mu is held.
func (h *Host) writeTable(tx *doc.Tx) {
	tx.SetState(h.table.State)
	for id, hand := range h.table.Hands {
		tx.SetHand(id, hand)
		h.seated[id] = true
	}
	for id := range h.seated {
		if _, ok := h.table.Hands[id]; !ok {
			tx.ClearHand(id)
			delete(h.seated, id)
		}
	}
}

// fireEvent hands ev to OnEvent. Assumes Mu is held.
func (h *Host) fireEvent(ev Event) {
	if h.OnEvent != nil {
		h.OnEvent(ev)
	}
}

// endGame reports a finished game. Assumes Mu is held.
func (h *Host) endGame() {
	st := h.table.State
	h.log.WithFields(logrus.Fields{
		"game":    h.ID,
		"winner":  st.Winner,
		"endType": st.EndType,
	}).Info("Game ended")
	h.logAction(engine.NoClient, string(EventGameEnd), map[string]any{
		"winner":  st.Winner,
		"endType": st.EndType,
		"scores":  st.Scores,
	})
	h.fireEvent(Event{Type: EventGameEnd, User: st.Winner, Payload: map[string]any{"endType": st.EndType, "scores": st.Scores}})
	if h.OnGameEnd != nil {
		h.OnGameEnd(h.ID, st.Winner, st.EndType, st.Scores)
	}
}

// logAction records an action or lifecycle event through the historian
// without blocking the engine. Assumes Mu is held.
func (h *Host) logAction(actor engine.ClientID, actionType string, payload map[string]any) {
	h.actionIndex++
	if h.recorder == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	rec := historian.Record{
		GameID:      h.ID,
		ActionIndex: h.actionIndex,
		ActorID:     actor,
		ActionType:  actionType,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}

	h.records.Add(1)
	go func(rec historian.Record) {
		defer h.records.Done()
		ctx, cancel := context.WithTimeout(context.Background(), historianTimeout)
		defer cancel()
		if err := h.recorder.Record(ctx, rec); err != nil {
			h.log.WithError(err).Warnf("Failed recording action %d (%s)", rec.ActionIndex, rec.ActionType)
		}
	}(rec)
}

// LockRoster turns the visible lobby roster into the seat order for a new game.
func LockRoster(players []presence.Player) []engine.LockedPlayer {
	out := make([]engine.LockedPlayer, len(players))
	for i, p := range players {
		out[i] = engine.LockedPlayer{ClientID: p.ClientID, Name: p.Name}
	}
	return out
}
