package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPingInterval = 30 * time.Second
	sendBuffer          = 64
)

// ServerOptions configures a Server. Zero values pick defaults.
type ServerOptions struct {
	PingInterval   time.Duration
	Clock          clockwork.Clock
	Log            logrus.FieldLogger
	OriginPatterns []string // allowed browser origins; nil allows any
}

// Server relays publish frames between subscribers of the same topic.
type Server struct {
	log          logrus.FieldLogger
	clock        clockwork.Clock
	pingInterval time.Duration
	accept       *websocket.AcceptOptions

	mu     sync.Mutex
	topics map[string]map[*socket]struct{}
	socks  map[*socket]struct{}
}

// socket is one connected client.
type socket struct {
	id     uuid.UUID
	ws     *websocket.Conn
	send   chan []byte
	topics map[string]struct{} // guarded by Server.mu
	log    logrus.FieldLogger
}

// NewServer returns a relay with no connections.
func NewServer(opts ServerOptions) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	accept := &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns}
	if len(opts.OriginPatterns) == 0 {
		accept.InsecureSkipVerify = true
	}
	return &Server{
		log:          opts.Log,
		clock:        opts.Clock,
		pingInterval: opts.PingInterval,
		accept:       accept,
		topics:       make(map[string]map[*socket]struct{}),
		socks:        make(map[*socket]struct{}),
	}
}

// Handler routes /health and the WebSocket endpoint at /. Everything else
// is a 404.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/", s.ServeWS)
	r.MethodNotAllowed(http.NotFound)
	r.NotFound(http.NotFound)
	return r
}

// ServeWS upgrades the request and serves the socket until it closes.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, s.accept)
	if err != nil {
		s.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	sock := &socket{
		id:     uuid.New(),
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		topics: make(map[string]struct{}),
	}
	sock.log = s.log.WithField("socket", sock.id)

	s.mu.Lock()
	s.socks[sock] = struct{}{}
	s.mu.Unlock()
	sock.log.Debug("Socket connected")

	err = s.serve(r.Context(), sock)
	s.drop(sock)

	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		sock.log.Debug("Socket closed")
	case errors.Is(err, context.Canceled):
		sock.log.Debug("Socket closed by server")
	default:
		sock.log.WithError(err).Debug("Socket dropped")
	}
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// serve runs the reader, writer and keepalive of one socket; the first to
// fail stops the others.
func (s *Server) serve(ctx context.Context, sock *socket) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(ctx, sock) })
	g.Go(func() error { return writeLoop(ctx, sock) })
	g.Go(func() error { return s.keepalive(ctx, sock) })
	return g.Wait()
}

func (s *Server) readLoop(ctx context.Context, sock *socket) error {
	for {
		typ, b, err := sock.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		f, err := ParseFrame(b)
		if err != nil {
			sock.log.WithError(err).Debug("Dropping frame")
			continue
		}
		switch f.Type {
		case TypeSubscribe:
			s.subscribe(sock, f.Topics)
		case TypeUnsubscribe:
			s.unsubscribe(sock, f.Topics)
		case TypePublish:
			s.publish(sock, f.Topic, b)
		case TypePing:
			sock.enqueue(encodeFrame(Frame{Type: TypePong}))
		}
	}
}

func writeLoop(ctx context.Context, sock *socket) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-sock.send:
			if err := sock.ws.Write(ctx, websocket.MessageText, b); err != nil {
				return err
			}
		}
	}
}

// keepalive pings the socket every interval and gives up on the first
// unanswered ping.
func (s *Server) keepalive(ctx context.Context, sock *socket) error {
	t := s.clock.NewTicker(s.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.Chan():
			pctx, cancel := context.WithTimeout(ctx, s.pingInterval)
			err := sock.ws.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// enqueue queues b for the writer. A socket too slow to keep up loses the
// frame rather than stalling every publisher.
func (sock *socket) enqueue(b []byte) {
	select {
	case sock.send <- b:
	default:
		sock.log.Warn("Send buffer full; dropping frame")
	}
}

func (s *Server) subscribe(sock *socket, topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		if t == "" {
			continue
		}
		subs, ok := s.topics[t]
		if !ok {
			subs = make(map[*socket]struct{})
			s.topics[t] = subs
		}
		subs[sock] = struct{}{}
		sock.topics[t] = struct{}{}
	}
}

func (s *Server) unsubscribe(sock *socket, topics []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		s.leaveLocked(sock, t)
	}
}

// leaveLocked removes sock from topic and prunes the topic once empty.
// Assumes mu is held.
func (s *Server) leaveLocked(sock *socket, topic string) {
	delete(sock.topics, topic)
	subs, ok := s.topics[topic]
	if !ok {
		return
	}
	delete(subs, sock)
	if len(subs) == 0 {
		delete(s.topics, topic)
	}
}

// publish sends the frame verbatim to every other subscriber of topic.
func (s *Server) publish(from *socket, topic string, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.topics[topic] {
		if sub != from {
			sub.enqueue(b)
		}
	}
}

// drop forgets a closed socket and all its memberships.
func (s *Server) drop(sock *socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for t := range sock.topics {
		s.leaveLocked(sock, t)
	}
	delete(s.socks, sock)
}

// Topics returns the number of topics with at least one subscriber.
func (s *Server) Topics() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}

// Subscribers returns the number of sockets subscribed to topic.
func (s *Server) Subscribers(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics[topic])
}

// CloseConnections closes every open socket with StatusGoingAway. Used on
// shutdown since http.Server.Shutdown does not wait for hijacked
// connections.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	socks := make([]*socket, 0, len(s.socks))
	for sock := range s.socks {
		socks = append(socks, sock)
	}
	s.mu.Unlock()
	for _, sock := range socks {
		_ = sock.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
