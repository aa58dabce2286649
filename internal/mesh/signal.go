package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/relay"
)

// Signal kinds.
const (
	SignalAnnounce = "announce"
	SignalOffer    = "offer"
	SignalAnswer   = "answer"
)

// Signal is one rendezvous message. To is NoClient for broadcasts.
type Signal struct {
	Kind string          `json:"kind"`
	From engine.ClientID `json:"from"`
	To   engine.ClientID `json:"to,omitempty"`
	SDP  string          `json:"sdp,omitempty"`
}

// Signaler carries signals between the peers of one room. Implementations
// must not echo a peer's own signals back to it, and must deliver signals
// from one sender in order.
type Signaler interface {
	Send(ctx context.Context, s Signal) error
	// Listen registers fn for every signal sent by other peers. fn must
	// not block.
	Listen(ctx context.Context, fn func(Signal)) error
}

// Transport is the part of the relay client the signaler needs.
type Transport interface {
	Subscribe(ctx context.Context, topic string, h relay.Handler) error
	Publish(ctx context.Context, topic string, payload any) error
}

// RelaySignaler signals over the relay topic named after the room.
type RelaySignaler struct {
	tr    Transport
	topic string
}

// NewRelaySignaler returns a signaler on topic roomID.
func NewRelaySignaler(tr Transport, roomID string) *RelaySignaler {
	return &RelaySignaler{tr: tr, topic: roomID}
}

func (r *RelaySignaler) Send(ctx context.Context, s Signal) error {
	return r.tr.Publish(ctx, r.topic, s)
}

func (r *RelaySignaler) Listen(ctx context.Context, fn func(Signal)) error {
	return r.tr.Subscribe(ctx, r.topic, func(frame []byte) {
		var s Signal
		if err := json.Unmarshal(frame, &s); err != nil || s.Kind == "" {
			return
		}
		fn(s)
	})
}

var errUnknownEndpoint = errors.New("endpoint is not listening")

// MemoryBus is an in-process Signaler hub. Each endpoint gets its own
// delivery goroutine so listeners see signals in send order.
type MemoryBus struct {
	mu        sync.Mutex
	endpoints map[*MemorySignaler]chan Signal
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{endpoints: make(map[*MemorySignaler]chan Signal)}
}

// Endpoint returns a new signaler attached to the bus.
func (b *MemoryBus) Endpoint() *MemorySignaler {
	return &MemorySignaler{bus: b}
}

// MemorySignaler is one peer's connection to a MemoryBus.
type MemorySignaler struct {
	bus *MemoryBus
}

func (m *MemorySignaler) Send(_ context.Context, s Signal) error {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	if _, ok := m.bus.endpoints[m]; !ok {
		return errUnknownEndpoint
	}
	for ep, ch := range m.bus.endpoints {
		if ep != m {
			ch <- s
		}
	}
	return nil
}

// Listen starts delivery to fn until ctx is done.
func (m *MemorySignaler) Listen(ctx context.Context, fn func(Signal)) error {
	ch := make(chan Signal, 256)
	m.bus.mu.Lock()
	m.bus.endpoints[m] = ch
	m.bus.mu.Unlock()
	go func() {
		for {
			select {
			case <-ctx.Done():
				m.bus.mu.Lock()
				delete(m.bus.endpoints, m)
				m.bus.mu.Unlock()
				return
			case s := <-ch:
				fn(s)
			}
		}
	}()
	return nil
}
