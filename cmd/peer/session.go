package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/engine/agent"
	"github.com/jason-s-yu/webuno/internal/chat"
	"github.com/jason-s-yu/webuno/internal/config"
	"github.com/jason-s-yu/webuno/internal/doc"
	"github.com/jason-s-yu/webuno/internal/game"
	"github.com/jason-s-yu/webuno/internal/gameplay"
	"github.com/jason-s-yu/webuno/internal/historian"
	"github.com/jason-s-yu/webuno/internal/mesh"
	"github.com/jason-s-yu/webuno/internal/presence"
	"github.com/jason-s-yu/webuno/internal/relay"
	"github.com/jason-s-yu/webuno/internal/roomcode"
	"github.com/jonboulle/clockwork"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// nextRoundDelay is how long an auto-starting host waits between rounds.
const nextRoundDelay = 3 * time.Second

func newClientID(rng *rand.Rand) engine.ClientID {
	for {
		if id := engine.ClientID(rng.Uint32()); id != engine.NoClient {
			return id
		}
	}
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

func run(ctx context.Context, cfg config.Peer, base *logrus.Logger) error {
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	room := cfg.Room
	if room == "" {
		room = roomcode.Generate(rng)
	}
	self := newClientID(rng)
	log := base.WithFields(logrus.Fields{"room": room, "client": self})
	clock := clockwork.NewRealClock()

	d := doc.New(self, log)
	aw := doc.NewAwareness(self)

	var m atomic.Pointer[mesh.Mesh]
	rc, err := relay.Dial(ctx, cfg.RelayURL, relay.ClientOptions{
		Clock: clock,
		Log:   log,
		OnConnect: func() {
			if mm := m.Load(); mm != nil {
				go func() {
					if err := mm.Announce(ctx); err != nil {
						log.WithError(err).Warn("Re-announce failed")
					}
				}()
			}
		},
	})
	if err != nil {
		return err
	}
	defer rc.Close()

	mm, err := mesh.New(mesh.Config{
		Doc:        d,
		Awareness:  aw,
		Signaler:   mesh.NewRelaySignaler(rc, room),
		ICEServers: iceServers(cfg.STUN),
		Log:        log,
	})
	if err != nil {
		return err
	}
	defer mm.Close()
	m.Store(mm)

	pr := presence.New(presence.Config{Doc: d, Awareness: aw, Clock: clock, Log: log, CreatedRoom: cfg.Create})
	defer pr.Close()

	fatal := make(chan error, 1)
	pr.OnFatal(func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})
	elected := make(chan struct{})
	var once sync.Once
	pr.OnHostStatus(func(s presence.HostStatus) {
		switch s {
		case presence.HostDisconnected:
			// Nobody answered; take over if we are alone.
			go pr.ClaimHost()
		case presence.HostResolved:
			if pr.IsHost() {
				once.Do(func() { close(elected) })
			}
		}
	})

	aw.SetLocal(cfg.Name, cfg.Avatar, cfg.Create)
	if err := mm.Start(ctx); err != nil {
		return err
	}
	pr.Start()
	if cfg.Create {
		pr.ClaimHost()
	}
	log.Info("Joined room")

	ch := chat.New(chat.Config{RoomID: room, Self: self, Transport: rc, Clock: clock, Log: log})
	if err := ch.Start(ctx); err != nil {
		return err
	}
	defer ch.Stop(context.Background())
	defer aw.Observe(func(doc.AwarenessChange) { ch.SetPlayers(aw.ActiveIDs()) })()
	ch.SetPlayers(aw.ActiveIDs())
	ch.OnChange(chatLogger(log))

	gp := gameplay.New(d, log)
	defer gp.Close()
	if cfg.Autoplay {
		a := newAutoplayer(gp, agent.Greedy{}, clock, log)
		defer a.watch(d)()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fatal:
			return err
		}
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-elected:
		}
		return runHost(ctx, cfg, d, aw, pr, ch, clock, log)
	})
	return g.Wait()
}

// runHost runs the authoritative engine until ctx ends.
func runHost(ctx context.Context, cfg config.Peer, d *doc.Document, aw *doc.Awareness, pr *presence.Room, ch *chat.Chat, clock clockwork.Clock, log logrus.FieldLogger) error {
	var rec historian.Recorder
	if cfg.RedisURL != "" {
		rdb, err := historian.Dial(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("Action history disabled")
		} else {
			defer rdb.Close()
			rec = historian.NewRedis(rdb, 0)
		}
	}

	h := game.NewHost(d, game.Options{Awareness: aw, Log: log, Recorder: rec})
	if err := h.UpdateSettings(cfg.Settings); err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	h.OnEvent = func(ev game.Event) {
		log.WithFields(logrus.Fields{"event": ev.Type, "user": ev.User}).Info("Game event")
		if ev.Type == game.EventRoundEnded && cfg.StartWith > 0 {
			clock.AfterFunc(nextRoundDelay, func() {
				if err := h.NextRound(); err != nil {
					log.WithError(err).Warn("Failed to start next round")
				}
			})
		}
	}
	h.OnGameEnd = func(gameID uuid.UUID, winner engine.ClientID, endType engine.EndType, scores map[engine.ClientID]int) {
		log.WithFields(logrus.Fields{"game": gameID, "winner": winner, "end": endType}).Info("Game over")
		text := fmt.Sprintf("Game over: %s wins (%s)", playerName(d.State(), winner), endType)
		go func() {
			if _, err := ch.Send(ctx, text); err != nil {
				log.WithError(err).Debug("Failed to announce result")
			}
		}()
	}

	if cfg.StartWith > 0 {
		var mu sync.Mutex
		maybeStart := func() {
			mu.Lock()
			defer mu.Unlock()
			if h.Status() != engine.StatusLobby {
				return
			}
			roster := pr.Roster()
			if len(roster) < cfg.StartWith {
				return
			}
			if err := h.StartGame(game.LockRoster(roster)); err != nil {
				log.WithError(err).Warn("Failed to start game")
			}
		}
		defer aw.Observe(func(doc.AwarenessChange) { go maybeStart() })()
		go maybeStart()
	}

	log.Info("Hosting room")
	return h.Run(ctx)
}

func playerName(st engine.GameState, id engine.ClientID) string {
	for _, p := range st.LockedPlayers {
		if p.ClientID == id {
			return p.Name
		}
	}
	return fmt.Sprintf("player %d", id)
}

// chatLogger logs each newly shown chat message once.
func chatLogger(log logrus.FieldLogger) func([]chat.Message) {
	var mu sync.Mutex
	seen := map[string]bool{}
	return func(msgs []chat.Message) {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range msgs {
			if !seen[m.ID] {
				seen[m.ID] = true
				log.WithField("from", m.ClientID).Info("Chat: " + m.Text)
			}
		}
	}
}
