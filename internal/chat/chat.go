// Package chat carries room chat over the relay. Messages are not part of
// the game document: nothing is stored, duplicates are dropped by id, and
// each message is only shown for a short while.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/relay"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	// DisplayLifetime is how long a message stays visible.
	DisplayLifetime = 10 * time.Second
	// MaxLength caps a message, in runes.
	MaxLength = 500
)

var ErrEmpty = errors.New("empty chat message")

// Message is the payload published on a room's chat topic.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	ClientID  engine.ClientID `json:"clientId"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // unix ms
}

// Topic returns the relay topic for a room's chat.
func Topic(roomID string) string { return roomID + "-chat" }

// Transport is the part of the relay client chat needs.
type Transport interface {
	Subscribe(ctx context.Context, topic string, h relay.Handler) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload any) error
}

// Config configures a Chat.
type Config struct {
	RoomID    string
	Self      engine.ClientID
	Transport Transport
	Clock     clockwork.Clock
	Log       logrus.FieldLogger
}

// Chat is one peer's view of a room's chat.
type Chat struct {
	topic string
	self  engine.ClientID
	tr    Transport
	clock clockwork.Clock
	log   logrus.FieldLogger

	mu       sync.Mutex
	known    map[engine.ClientID]bool
	seen     map[string]bool
	visible  []Message
	onChange func([]Message)
}

// New returns a chat for cfg.RoomID. Call Start to begin receiving.
func New(cfg Config) *Chat {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	topic := Topic(cfg.RoomID)
	return &Chat{
		topic: topic,
		self:  cfg.Self,
		tr:    cfg.Transport,
		clock: cfg.Clock,
		log:   cfg.Log.WithField("topic", topic),
		known: map[engine.ClientID]bool{cfg.Self: true},
		seen:  make(map[string]bool),
	}
}

// Start subscribes to the room's chat topic.
func (c *Chat) Start(ctx context.Context) error {
	if err := c.tr.Subscribe(ctx, c.topic, c.receive); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	return nil
}

// Stop unsubscribes from the chat topic.
func (c *Chat) Stop(ctx context.Context) error {
	return c.tr.Unsubscribe(ctx, c.topic)
}

// OnChange registers fn to be called with the visible messages whenever
// they change.
func (c *Chat) OnChange(fn func([]Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// SetPlayers replaces the set of senders whose messages are shown. The
// local peer is always included.
func (c *Chat) SetPlayers(ids []engine.ClientID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known = map[engine.ClientID]bool{c.self: true}
	for _, id := range ids {
		c.known[id] = true
	}
}

// Send publishes text to the room and shows it locally, since the relay
// never echoes a frame to its sender.
func (c *Chat) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmpty
	}
	if r := []rune(text); len(r) > MaxLength {
		text = string(r[:MaxLength])
	}
	msg := Message{
		Type:      relay.TypePublish,
		Topic:     c.topic,
		ClientID:  c.self,
		Text:      text,
		ID:        uuid.NewString(),
		Timestamp: c.clock.Now().UnixMilli(),
	}
	if err := c.tr.Publish(ctx, c.topic, msg); err != nil {
		return Message{}, fmt.Errorf("send chat: %w", err)
	}
	c.add(msg)
	return msg, nil
}

// Visible returns the messages currently on display, oldest first.
func (c *Chat) Visible() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.visible)
}

func (c *Chat) receive(frame []byte) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.log.WithError(err).Debug("Dropping undecodable chat frame")
		return
	}
	if msg.ID == "" || strings.TrimSpace(msg.Text) == "" {
		return
	}
	c.mu.Lock()
	known := c.known[msg.ClientID]
	c.mu.Unlock()
	if !known {
		c.log.WithField("client", msg.ClientID).Debug("Dropping chat from unknown sender")
		return
	}
	c.add(msg)
}

// add shows msg unless it was seen before, and schedules its expiry.
func (c *Chat) add(msg Message) {
	c.mu.Lock()
	if c.seen[msg.ID] {
		c.mu.Unlock()
		return
	}
	c.seen[msg.ID] = true
	c.visible = append(c.visible, msg)
	snapshot, fn := slices.Clone(c.visible), c.onChange
	c.mu.Unlock()

	c.clock.AfterFunc(DisplayLifetime, func() { c.expire(msg.ID) })
	if fn != nil {
		fn(snapshot)
	}
}

func (c *Chat) expire(id string) {
	// Late duplicates are still dropped for one more lifetime.
	c.clock.AfterFunc(DisplayLifetime, func() { c.forget(id) })

	c.mu.Lock()
	i := slices.IndexFunc(c.visible, func(m Message) bool { return m.ID == id })
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.visible = slices.Delete(c.visible, i, i+1)
	snapshot, fn := slices.Clone(c.visible), c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}

func (c *Chat) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, id)
}
