package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/metrics"
	"github.com/gymhub/chat/internal/model"
)

// Options are per-connection transport limits.
type Options struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	SendBufSize    int
}

func DefaultOptions() Options {
	return Options{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 16384,
		SendBufSize:    256,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.SendBufSize <= 0 {
		o.SendBufSize = d.SendBufSize
	}
	return o
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client represents a single authenticated WebSocket connection in one
// channel-space.
// Lifecycle: NewClient -> Start -> [ReadPump, WritePump] -> Close -> Wait.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan OutgoingMessage
	participant model.Participant
	opts        Options

	// joined is the set of rooms this connection is subscribed to.
	joinedMu sync.Mutex
	joined   map[string]struct{}

	// done is used as a non-blocking guard in enqueue.
	done chan struct{}
	// ctx bounds the pumps. Both fields are set in NewClient and never
	// reassigned, so Close may run from any goroutine before Start.
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, p model.Participant) *Client {
	opts := hub.opts
	// Соединение живёт дольше HTTP-запроса: контекст не наследуется от него.
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ctx:         ctx,
		cancel:      cancel,
		hub:         hub,
		conn:        conn,
		send:        make(chan OutgoingMessage, opts.SendBufSize),
		participant: p,
		opts:        opts,
		joined:      make(map[string]struct{}),
		done:        make(chan struct{}),
	}
}

func (c *Client) Participant() model.Participant { return c.participant }

// Start launches ReadPump and WritePump goroutines. Pumps stop on Close.
func (c *Client) Start() {
	c.wg.Add(2)
	go c.writePump(c.ctx)
	go c.readPump(c.ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		// Force both pumps to unblock (ReadMessage / WriteMessage will error).
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// enqueue queues msg without blocking. Frames for a closed connection are
// dropped; a full buffer closes the slow client.
func (c *Client) enqueue(msg OutgoingMessage) bool {
	if c.closed() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		metrics.DroppedSends.Inc()
		logger.Errorf("ws send buffer full, closing slow client %s", c.participant.Key())
		c.Close()
		return false
	}
}

// Rooms returns the conversation ids this connection has joined.
func (c *Client) Rooms() []string {
	c.joinedMu.Lock()
	defer c.joinedMu.Unlock()
	out := make([]string, 0, len(c.joined))
	for id := range c.joined {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (c *Client) InRoom(id string) bool {
	c.joinedMu.Lock()
	defer c.joinedMu.Unlock()
	_, ok := c.joined[id]
	return ok
}

func (c *Client) markJoined(id string) {
	c.joinedMu.Lock()
	c.joined[id] = struct{}{}
	c.joinedMu.Unlock()
}

func (c *Client) markLeft(id string) {
	c.joinedMu.Lock()
	delete(c.joined, id)
	c.joinedMu.Unlock()
}

// readPump reads messages from the WebSocket connection.
// Exits on read error (triggered by conn.Close from Close() or WritePump exit).
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline %s: %v", c.participant.Key(), err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error %s: %v", c.participant.Key(), err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Errorf("ws unmarshal error %s: %v", c.participant.Key(), err)
			c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{Message: "malformed event", Code: "validation"}})
			continue
		}

		c.hub.HandleMessage(ctx, c, msg)
	}
}

// writePump writes messages to the WebSocket connection.
// Exits on ctx cancellation, write error, or connection close.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline %s: %v", c.participant.Key(), err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			enc := json.NewEncoder(buf)
			if err := enc.Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error %s: %v", c.participant.Key(), err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline %s: %v", c.participant.Key(), err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
