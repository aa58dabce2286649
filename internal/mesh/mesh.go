// Package mesh connects the peers of a room directly over WebRTC data
// channels and keeps their documents and awareness in sync. The relay is
// only used to find peers and swap session descriptions.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	engine "github.com/jason-s-yu/webuno/engine"
	"github.com/jason-s-yu/webuno/internal/doc"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Label names the one data channel opened per peer.
const Label = "doc"

const (
	DefaultDisconnectedTimeout = 5 * time.Second
	DefaultFailedTimeout       = 10 * time.Second
	keepaliveInterval          = 2 * time.Second
	gatherTimeout              = 10 * time.Second
)

var ErrClosed = errors.New("mesh closed")

// Config configures a Mesh. Doc, Awareness and Signaler are required.
type Config struct {
	Doc        *doc.Document
	Awareness  *doc.Awareness
	Signaler   Signaler
	ICEServers []webrtc.ICEServer

	// DisconnectedTimeout and FailedTimeout control how long a silent peer
	// is kept before its connection is declared failed.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration

	Log logrus.FieldLogger
}

// Mesh is one peer's set of connections to the rest of its room. The peer
// with the smaller client id always makes the offer.
type Mesh struct {
	self engine.ClientID
	doc  *doc.Document
	aw   *doc.Awareness
	sig  Signaler
	api  *webrtc.API
	ice  []webrtc.ICEServer
	log  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	peers  map[engine.ClientID]*peer
	stops  []func()
	closed bool
}

type peer struct {
	id engine.ClientID
	pc *webrtc.PeerConnection

	mu sync.Mutex
	dc *webrtc.DataChannel // set once open
}

func (p *peer) channel() *webrtc.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dc
}

// New builds a mesh. Call Start to announce and begin connecting.
func New(cfg Config) (*Mesh, error) {
	if cfg.Doc == nil || cfg.Awareness == nil || cfg.Signaler == nil {
		return nil, errors.New("mesh: doc, awareness and signaler are required")
	}
	if cfg.Doc.ClientID() != cfg.Awareness.ClientID() {
		return nil, fmt.Errorf("mesh: doc client %d does not match awareness client %d",
			cfg.Doc.ClientID(), cfg.Awareness.ClientID())
	}
	if cfg.DisconnectedTimeout <= 0 {
		cfg.DisconnectedTimeout = DefaultDisconnectedTimeout
	}
	if cfg.FailedTimeout <= 0 {
		cfg.FailedTimeout = DefaultFailedTimeout
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}

	// Loopback candidates let peers on one machine, and tests, connect.
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, keepaliveInterval)

	self := cfg.Doc.ClientID()
	ctx, cancel := context.WithCancel(context.Background())
	return &Mesh{
		self:   self,
		doc:    cfg.Doc,
		aw:     cfg.Awareness,
		sig:    cfg.Signaler,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		ice:    cfg.ICEServers,
		log:    cfg.Log.WithField("client", self),
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[engine.ClientID]*peer),
	}, nil
}

// Start listens for signals, hooks local document and awareness updates,
// and announces this peer to the room.
func (m *Mesh) Start(ctx context.Context) error {
	if err := m.sig.Listen(m.ctx, m.onSignal); err != nil {
		return fmt.Errorf("listen for signals: %w", err)
	}
	m.mu.Lock()
	m.stops = append(m.stops,
		m.doc.OnLocalPatch(m.broadcastPatch),
		m.aw.OnLocalUpdate(m.broadcastAwareness),
	)
	m.mu.Unlock()
	return m.Announce(ctx)
}

// Announce tells the room this peer is here. Call it again after the
// signaling transport reconnects.
func (m *Mesh) Announce(ctx context.Context) error {
	if err := m.sig.Send(ctx, Signal{Kind: SignalAnnounce, From: m.self}); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	return nil
}

// Peers returns the peers whose data channel is open, by client id.
func (m *Mesh) Peers() []engine.ClientID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []engine.ClientID
	for id, p := range m.peers {
		if p.channel() != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Close tears down every connection.
func (m *Mesh) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	m.cancel()
	stops, peers := m.stops, m.peers
	m.stops, m.peers = nil, make(map[engine.ClientID]*peer)
	m.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	var errs []error
	for id, p := range peers {
		if err := p.pc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close peer %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Mesh) onSignal(s Signal) {
	if s.From == engine.NoClient || s.From == m.self {
		return
	}
	if s.To != engine.NoClient && s.To != m.self {
		return
	}
	switch s.Kind {
	case SignalAnnounce:
		if m.self < s.From {
			if p := m.register(s.From, false); p != nil {
				go m.offer(p)
			}
			return
		}
		// Only answer broadcasts, so two peers never trade announces forever.
		if s.To == engine.NoClient && !m.has(s.From) {
			go func() {
				if err := m.sig.Send(m.ctx, Signal{Kind: SignalAnnounce, From: m.self, To: s.From}); err != nil {
					m.log.WithError(err).Debug("Announce reply failed")
				}
			}()
		}
	case SignalOffer:
		if p := m.register(s.From, true); p != nil {
			go m.answer(p, s.SDP)
		}
	case SignalAnswer:
		m.finish(s)
	}
}

func (m *Mesh) has(id engine.ClientID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[id]
	return ok
}

// register creates the connection for id. An existing connection is kept
// unless replace is set, in which case it is closed.
func (m *Mesh) register(id engine.ClientID, replace bool) *peer {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	old, ok := m.peers[id]
	if ok && !replace {
		m.mu.Unlock()
		return nil
	}
	pc, err := m.api.NewPeerConnection(webrtc.Configuration{ICEServers: m.ice})
	if err != nil {
		m.mu.Unlock()
		m.log.WithError(err).Error("Failed to create peer connection")
		return nil
	}
	p := &peer{id: id, pc: pc}
	m.peers[id] = p
	m.mu.Unlock()

	if ok {
		go old.pc.Close()
	}
	log := m.log.WithField("peer", id)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.WithField("state", state.String()).Debug("Peer connection state")
		switch state {
		case webrtc.PeerConnectionStateConnected:
			log.Info("Peer connected")
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.drop(p)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == Label {
			m.attach(p, dc)
		}
	})
	return p
}

// offer opens the data channel and sends a complete offer to the peer.
func (m *Mesh) offer(p *peer) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(Label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		m.fail(p, fmt.Errorf("create data channel: %w", err))
		return
	}
	m.attach(p, dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		m.fail(p, fmt.Errorf("create offer: %w", err))
		return
	}
	sdp, err := m.gather(p, offer)
	if err != nil {
		m.fail(p, err)
		return
	}
	if err := m.sig.Send(m.ctx, Signal{Kind: SignalOffer, From: m.self, To: p.id, SDP: sdp}); err != nil {
		m.fail(p, fmt.Errorf("send offer: %w", err))
	}
}

func (m *Mesh) answer(p *peer, sdp string) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		m.fail(p, fmt.Errorf("set offer: %w", err))
		return
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		m.fail(p, fmt.Errorf("create answer: %w", err))
		return
	}
	local, err := m.gather(p, answer)
	if err != nil {
		m.fail(p, err)
		return
	}
	if err := m.sig.Send(m.ctx, Signal{Kind: SignalAnswer, From: m.self, To: p.id, SDP: local}); err != nil {
		m.fail(p, fmt.Errorf("send answer: %w", err))
	}
}

// gather sets desc as the local description and waits for every ICE
// candidate, so the returned SDP needs no trickle.
func (m *Mesh) gather(p *peer, desc webrtc.SessionDescription) (string, error) {
	done := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-done:
	case <-time.After(gatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", gatherTimeout)
	case <-m.ctx.Done():
		return "", ErrClosed
	}
	return p.pc.LocalDescription().SDP, nil
}

func (m *Mesh) finish(s Signal) {
	m.mu.Lock()
	p := m.peers[s.From]
	m.mu.Unlock()
	if p == nil || p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		m.log.WithField("peer", s.From).Debug("Ignoring unexpected answer")
		return
	}
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		m.fail(p, fmt.Errorf("set answer: %w", err))
	}
}

func (m *Mesh) fail(p *peer, err error) {
	if m.ctx.Err() == nil {
		m.log.WithField("peer", p.id).WithError(err).Warn("Peer connection setup failed")
	}
	m.drop(p)
}

// drop forgets p and its awareness record, if p is still the current
// connection for its id.
func (m *Mesh) drop(p *peer) {
	m.mu.Lock()
	if cur, ok := m.peers[p.id]; !ok || cur != p {
		m.mu.Unlock()
		return
	}
	delete(m.peers, p.id)
	m.mu.Unlock()

	go p.pc.Close()
	if m.aw.Remove(p.id) {
		m.log.WithField("peer", p.id).Info("Peer left")
	}
}

func (m *Mesh) attach(p *peer, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		p.mu.Lock()
		p.dc = dc
		p.mu.Unlock()
		m.greet(p, dc)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m.receive(p, msg.Data)
	})
	dc.OnClose(func() {
		m.drop(p)
	})
}

// greet sends a newly opened peer everything it may have missed.
func (m *Mesh) greet(p *peer, dc *webrtc.DataChannel) {
	if local := m.aw.Local(); local.Clock > 0 {
		m.sendAwareness(dc, local)
	}
	if snap := m.doc.Snapshot(); !snap.Empty() {
		m.sendPatch(dc, snap)
	}
}

func (m *Mesh) receive(p *peer, data []byte) {
	log := m.log.WithField("peer", p.id)
	env, err := decodeFrame(data)
	if err != nil {
		log.WithError(err).Warn("Dropping frame")
		return
	}
	switch env.Kind {
	case kindPatch:
		patch, err := doc.UnmarshalPatch(env.Patch)
		if err != nil {
			log.WithError(err).Warn("Dropping patch")
			return
		}
		m.doc.ApplyRemote(patch)
	case kindAwareness:
		st, err := doc.DecodePeerState(env.Awareness)
		if err != nil {
			log.WithError(err).Warn("Dropping awareness")
			return
		}
		if st.ClientID != p.id {
			log.WithField("claimed", st.ClientID).Warn("Dropping awareness for another client")
			return
		}
		m.aw.ApplyRemote(st)
	default:
		log.WithField("kind", env.Kind).Debug("Dropping frame of unknown kind")
	}
}

func (m *Mesh) broadcastPatch(p doc.Patch) {
	frame, err := patchFrame(p)
	if err != nil {
		m.log.WithError(err).Error("Failed to encode patch")
		return
	}
	m.broadcast(frame)
}

func (m *Mesh) broadcastAwareness(st doc.PeerState) {
	frame, err := awarenessFrame(st)
	if err != nil {
		m.log.WithError(err).Error("Failed to encode awareness")
		return
	}
	m.broadcast(frame)
}

func (m *Mesh) broadcast(frame []byte) {
	m.mu.Lock()
	peers := make([]*peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()
	for _, p := range peers {
		if dc := p.channel(); dc != nil {
			if err := dc.Send(frame); err != nil {
				m.log.WithField("peer", p.id).WithError(err).Debug("Send failed")
			}
		}
	}
}

func (m *Mesh) sendPatch(dc *webrtc.DataChannel, p doc.Patch) {
	frame, err := patchFrame(p)
	if err == nil {
		err = dc.Send(frame)
	}
	if err != nil {
		m.log.WithError(err).Warn("Failed to send snapshot")
	}
}

func (m *Mesh) sendAwareness(dc *webrtc.DataChannel, st doc.PeerState) {
	frame, err := awarenessFrame(st)
	if err == nil {
		err = dc.Send(frame)
	}
	if err != nil {
		m.log.WithError(err).Warn("Failed to send awareness")
	}
}

func patchFrame(p doc.Patch) ([]byte, error) {
	b, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	return encodeFrame(envelope{Kind: kindPatch, Patch: b})
}

func awarenessFrame(st doc.PeerState) ([]byte, error) {
	b, err := doc.EncodePeerState(st)
	if err != nil {
		return nil, err
	}
	return encodeFrame(envelope{Kind: kindAwareness, Awareness: b})
}
