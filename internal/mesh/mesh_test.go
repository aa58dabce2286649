package mesh

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/doc"
	"github.com/jason-s-yu/webuno/internal/relay"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCompression(t *testing.T) {
	small, err := encodeFrame(envelope{Kind: kindAwareness, Awareness: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, encodingRaw, small[0])

	big := bytes.Repeat([]byte("red-7 "), 2000)
	large, err := encodeFrame(envelope{Kind: kindPatch, Patch: big})
	require.NoError(t, err)
	assert.Equal(t, encodingZstd, large[0])
	assert.Less(t, len(large), len(big))

	env, err := decodeFrame(large)
	require.NoError(t, err)
	assert.Equal(t, kindPatch, env.Kind)
	assert.Equal(t, big, env.Patch)

	for _, bad := range [][]byte{nil, {encodingRaw}, {9, 1, 2}, {encodingZstd, 1, 2, 3}, {encodingRaw, 0xff}} {
		_, err := decodeFrame(bad)
		assert.ErrorIs(t, err, errBadFrame, "%v", bad)
	}
}

// loopback is a Transport where publishes reach every subscriber.
type loopback struct {
	mu   sync.Mutex
	subs map[string][]relay.Handler
}

func (l *loopback) Subscribe(_ context.Context, topic string, h relay.Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = map[string][]relay.Handler{}
	}
	l.subs[topic] = append(l.subs[topic], h)
	return nil
}

func (l *loopback) Publish(_ context.Context, topic string, payload any) error {
	b, err := relay.EncodePublish(topic, payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	hs := l.subs[topic]
	l.mu.Unlock()
	for _, h := range hs {
		h(b)
	}
	return nil
}

func TestRelaySignaler(t *testing.T) {
	tr := &loopback{}
	sig := NewRelaySignaler(tr, "brave-otter-42")

	var got []Signal
	require.NoError(t, sig.Listen(context.Background(), func(s Signal) { got = append(got, s) }))

	want := Signal{Kind: SignalOffer, From: 4000000000, To: 7, SDP: "v=0"}
	require.NoError(t, sig.Send(context.Background(), want))
	require.NoError(t, tr.Publish(context.Background(), "brave-otter-42", map[string]string{"text": "not a signal"}))
	require.NoError(t, tr.Publish(context.Background(), "other-room-10", want))

	assert.Equal(t, []Signal{want}, got)
}

func TestMemoryBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewMemoryBus()
	a, b := bus.Endpoint(), bus.Endpoint()

	var mu sync.Mutex
	var atA, atB []Signal
	require.NoError(t, a.Listen(ctx, func(s Signal) { mu.Lock(); atA = append(atA, s); mu.Unlock() }))
	require.NoError(t, b.Listen(ctx, func(s Signal) { mu.Lock(); atB = append(atB, s); mu.Unlock() }))

	for i := range 5 {
		require.NoError(t, a.Send(ctx, Signal{Kind: SignalAnnounce, From: engine.ClientID(i + 1)}))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(atB) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, atA, "no echo")
	for i, s := range atB {
		assert.Equal(t, engine.ClientID(i+1), s.From, "send order")
	}
	assert.Error(t, bus.Endpoint().Send(ctx, Signal{Kind: SignalAnnounce, From: 9}), "not listening")
}

type node struct {
	doc  *doc.Document
	aw   *doc.Awareness
	mesh *Mesh
}

func newNode(t *testing.T, bus *MemoryBus, id engine.ClientID, name string) *node {
	t.Helper()
	log, _ := test.NewNullLogger()
	n := &node{doc: doc.New(id, log), aw: doc.NewAwareness(id)}
	n.aw.SetLocal(name, "", false)
	m, err := New(Config{
		Doc:                 n.doc,
		Awareness:           n.aw,
		Signaler:            bus.Endpoint(),
		DisconnectedTimeout: time.Second,
		FailedTimeout:       2 * time.Second,
		Log:                 log,
	})
	require.NoError(t, err)
	n.mesh = m
	t.Cleanup(func() { _ = m.Close() })
	return n
}

func (n *node) start(t *testing.T) {
	t.Helper()
	require.NoError(t, n.mesh.Start(context.Background()))
}

func (n *node) setOrder(t *testing.T, ids ...engine.ClientID) {
	t.Helper()
	require.NoError(t, n.doc.Transact(func(tx *doc.Tx) error {
		tx.SetOrder(ids)
		return nil
	}))
}

func TestNewRequiresMatchingIDs(t *testing.T) {
	_, err := New(Config{Doc: doc.New(1, nil), Awareness: doc.NewAwareness(2), Signaler: NewMemoryBus().Endpoint()})
	assert.Error(t, err)
	_, err = New(Config{Doc: doc.New(1, nil)})
	assert.Error(t, err)
}

func TestMeshReplicatesDocumentAndAwareness(t *testing.T) {
	if testing.Short() {
		t.Skip("opens WebRTC connections")
	}
	bus := NewMemoryBus()
	alice := newNode(t, bus, 1, "Alice")
	bob := newNode(t, bus, 2, "Bob")

	// Written before any connection exists, so it must arrive in the snapshot.
	alice.setOrder(t, 1)
	alice.start(t)
	bob.start(t)

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]engine.ClientID{1}, bob.doc.Order())
	}, 15*time.Second, 20*time.Millisecond, "snapshot reaches bob")
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]engine.ClientID{2}, alice.mesh.Peers()) &&
			assert.ObjectsAreEqual([]engine.ClientID{1}, bob.mesh.Peers())
	}, 5*time.Second, 20*time.Millisecond)

	p, ok := bob.aw.Peer(1)
	require.True(t, ok)
	assert.Equal(t, "Alice", p.Name)

	bob.setOrder(t, 1, 2)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]engine.ClientID{1, 2}, alice.doc.Order())
	}, 5*time.Second, 20*time.Millisecond, "live patch reaches alice")

	bob.aw.SetLocal("Bobby", "fox", false)
	require.Eventually(t, func() bool {
		p, ok := alice.aw.Peer(2)
		return ok && p.Name == "Bobby"
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, bob.mesh.Close())
	assert.ErrorIs(t, bob.mesh.Close(), ErrClosed)
	require.Eventually(t, func() bool {
		_, ok := alice.aw.Peer(2)
		return !ok
	}, 15*time.Second, 50*time.Millisecond, "closed peer leaves awareness")
	assert.Empty(t, alice.mesh.Peers())
}

func TestMeshNewcomerWithSmallerID(t *testing.T) {
	if testing.Short() {
		t.Skip("opens WebRTC connections")
	}
	bus := NewMemoryBus()
	bob := newNode(t, bus, 20, "Bob")
	carol := newNode(t, bus, 30, "Carol")
	bob.start(t)
	carol.start(t)
	require.Eventually(t, func() bool { return len(bob.mesh.Peers()) == 1 }, 15*time.Second, 20*time.Millisecond)
	carol.setOrder(t, 20, 30)

	// Alice only learns of the others through their directed announces.
	alice := newNode(t, bus, 10, "Alice")
	alice.start(t)

	require.Eventually(t, func() bool {
		return len(alice.mesh.Peers()) == 2 && len(alice.aw.ActiveIDs()) == 3
	}, 15*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]engine.ClientID{20, 30}, alice.doc.Order())
	}, 5*time.Second, 20*time.Millisecond)

	alice.setOrder(t, 10, 20, 30)
	for _, n := range []*node{bob, carol} {
		require.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]engine.ClientID{10, 20, 30}, n.doc.Order())
		}, 5*time.Second, 20*time.Millisecond)
	}
}
