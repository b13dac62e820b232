package sinks

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/progress"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxClientRead  = 512
	clientSendSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Broadcaster streams progress events to websocket subscribers. Subscribers
// may filter by job ID; an empty filter receives every event. Slow clients
// are dropped rather than allowed to stall the hub.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
	logger  *zap.Logger
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan progress.Event
	jobID string
	once  sync.Once
}

// NewBroadcaster builds an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		clients: make(map[*wsClient]struct{}),
		logger:  logger.Named("events"),
	}
}

// ServeHTTP upgrades the request and subscribes the connection. The optional
// job_id query parameter filters the stream.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{
		conn:  conn,
		send:  make(chan progress.Event, clientSendSize),
		jobID: r.URL.Query().Get("job_id"),
	}
	if !b.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	go b.writePump(c)
	go b.readPump(c)
}

// Subscribers reports the number of connected clients.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Consume implements progress.Sink.
func (b *Broadcaster) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.RLock()
	var slow []*wsClient
	for c := range b.clients {
		for _, evt := range batch {
			if c.jobID != "" && c.jobID != evt.JobID {
				continue
			}
			select {
			case c.send <- evt:
			default:
				slow = append(slow, c)
			}
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("dropping slow websocket client", zap.String("job_filter", c.jobID))
		b.unregister(c)
	}
	return nil
}

// Close disconnects every client.
func (b *Broadcaster) Close(context.Context) error {
	b.mu.Lock()
	b.closed = true
	clients := make([]*wsClient, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()
	for _, c := range clients {
		b.unregister(c)
	}
	return nil
}

func (b *Broadcaster) register(c *wsClient) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.clients[c] = struct{}{}
	return true
}

func (b *Broadcaster) unregister(c *wsClient) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
	c.once.Do(func() { close(c.send) })
}

// readPump discards client frames and keeps the read deadline moving with pongs.
func (b *Broadcaster) readPump(c *wsClient) {
	defer func() {
		b.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxClientRead)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case evt, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				b.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
