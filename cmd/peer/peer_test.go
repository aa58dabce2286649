package main

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/engine/agent"
	"github.com/jason-s-yu/webuno/internal/chat"
	"github.com/jason-s-yu/webuno/internal/doc"
	"github.com/jason-s-yu/webuno/internal/game"
	"github.com/jason-s-yu/webuno/internal/gameplay"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func link(t *testing.T, from, to *doc.Document) {
	t.Helper()
	cancel := from.OnLocalPatch(func(p doc.Patch) { to.ApplyRemote(p) })
	t.Cleanup(cancel)
}

func TestNewClientID(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	for i := 0; i < 1000; i++ {
		assert.NotEqual(t, engine.NoClient, newClientID(rng))
	}
}

func TestICEServers(t *testing.T) {
	assert.Nil(t, iceServers(nil))
	got := iceServers([]string{"stun:a:3478", "stun:b:3478"})
	require.Len(t, got, 1)
	assert.Equal(t, []string{"stun:a:3478", "stun:b:3478"}, got[0].URLs)
}

func TestPlayerName(t *testing.T) {
	st := engine.NewGameState()
	st.LockedPlayers = []engine.LockedPlayer{{ClientID: 4, Name: "Ann"}}
	assert.Equal(t, "Ann", playerName(st, 4))
	assert.Equal(t, "player 9", playerName(st, 9))
}

func TestChatLoggerLogsOnce(t *testing.T) {
	log, hook := test.NewNullLogger()
	fn := chatLogger(log)
	a := chat.Message{ID: "a", ClientID: 1, Text: "hi"}
	b := chat.Message{ID: "b", ClientID: 2, Text: "hello"}
	fn([]chat.Message{a})
	fn([]chat.Message{a, b})
	fn([]chat.Message{b})

	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "Chat: hello", hook.LastEntry().Message)
}

func TestAutoplayersFinishAGame(t *testing.T) {
	log, _ := test.NewNullLogger()
	hostDoc := doc.New(1, log)
	peerDoc := doc.New(2, log)
	link(t, hostDoc, peerDoc)
	link(t, peerDoc, hostDoc)

	host := game.NewHost(hostDoc, game.Options{Rand: rand.New(rand.NewPCG(8, 8)), Log: log})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = host.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	for _, d := range []*doc.Document{hostDoc, peerDoc} {
		gp := gameplay.New(d, log)
		t.Cleanup(gp.Close)
		a := newAutoplayer(gp, agent.Greedy{}, clockwork.NewRealClock(), log)
		t.Cleanup(a.watch(d))
	}

	require.NoError(t, host.StartGame([]engine.LockedPlayer{{ClientID: 1, Name: "Ann"}, {ClientID: 2, Name: "Bo"}}))

	require.Eventually(t, func() bool {
		return peerDoc.State().Status == engine.StatusEnded
	}, 30*time.Second, 20*time.Millisecond)
	st := peerDoc.State()
	assert.Equal(t, engine.EndWin, st.EndType)
	assert.Contains(t, []engine.ClientID{1, 2}, st.Winner)
	assert.Empty(t, peerDoc.Hand(st.Winner))
}
