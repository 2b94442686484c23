package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cimonitor/cimonitor/internal/api"
)

const (
	writeTimeout = 10 * time.Second

	// idleTimeout drops a subscriber that answers no ping for this long.
	idleTimeout = time.Minute
	pingEvery   = idleTimeout * 9 / 10

	// renderTimeout bounds the history reads behind one dashboard message.
	renderTimeout = 5 * time.Second

	// backlog is how many unsent dashboards a subscriber may fall behind
	// before it is dropped.
	backlog = 8
)

// EventDashboard is the event name of every message.
const EventDashboard = "dashboard"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 8192,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Message is the JSON envelope sent to subscribers.
type Message struct {
	Event string                `json:"event"`
	Data  api.DashboardResponse `json:"data"`
}

// Hub keeps the set of dashboard subscribers.
type Hub struct {
	src      *api.Source
	interval time.Duration

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// New returns a Hub that renders src and pushes it every interval.
func New(src *api.Source, interval time.Duration) *Hub {
	return &Hub{
		src:      src,
		interval: interval,
		subs:     make(map[*subscriber]struct{}),
	}
}

// Run pushes the dashboard on every tick. When ctx ends every subscriber
// is told to go away.
func (h *Hub) Run(ctx context.Context) {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			h.Broadcast()
		case <-ctx.Done():
			for _, s := range h.detachAll() {
				s.stop()
			}
			return
		}
	}
}

// ServeHTTP upgrades the request and streams dashboards to it until either
// side hangs up.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied with an HTTP error
	}
	s := &subscriber{
		conn:  conn,
		queue: make(chan []byte, backlog),
		gone:  make(chan struct{}),
	}
	h.attach(s)
	defer h.detach(s)

	if msg, err := h.render(); err == nil {
		s.offer(msg)
	}
	go s.drain()
	s.pump()
}

// Count returns the number of attached subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Broadcast pushes the current dashboard to every subscriber now.
func (h *Hub) Broadcast() {
	subs := h.snapshot()
	if len(subs) == 0 {
		return
	}
	msg, err := h.render()
	if err != nil {
		return
	}
	for _, s := range subs {
		if !s.offer(msg) {
			slog.Warn("ws: subscriber fell behind, dropping", "remote", s.conn.RemoteAddr().String())
			h.detach(s)
			s.stop()
		}
	}
}

func (h *Hub) render() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), renderTimeout)
	defer cancel()

	d, err := api.BuildDashboard(ctx, h.src)
	if err != nil {
		slog.Error("ws: build dashboard", "err", err)
		return nil, err
	}
	return json.Marshal(Message{Event: EventDashboard, Data: d})
}

func (h *Hub) attach(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) detach(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		out = append(out, s)
	}
	return out
}

func (h *Hub) detachAll() []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		out = append(out, s)
		delete(h.subs, s)
	}
	return out
}

// subscriber is one websocket connection. queue is never closed; gone is
// closed once, by whoever decides the connection is finished.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	gone  chan struct{}
	once  sync.Once
}

// offer queues msg without blocking and reports whether there was room.
func (s *subscriber) offer(msg []byte) bool {
	select {
	case s.queue <- msg:
		return true
	default:
		return false
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.gone) })
}

// pump writes queued messages and keepalive pings until the subscriber is
// stopped or a write fails. It owns all writes to conn.
func (s *subscriber) pump() {
	ping := time.NewTicker(pingEvery)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
		return s.conn.WriteMessage(kind, data)
	}
	for {
		var err error
		select {
		case msg := <-s.queue:
			err = write(websocket.TextMessage, msg)
		case <-ping.C:
			err = write(websocket.PingMessage, nil)
		case <-s.gone:
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck
			return
		}
		if err != nil {
			return
		}
	}
}

// drain reads control frames so pongs and the peer's close are seen, and
// stops the subscriber when the connection dies.
func (s *subscriber) drain() {
	defer s.stop()
	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(idleTimeout)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
