package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"physsync/backend/internal/core/port/in/worldmanagement"
	"physsync/backend/internal/logging"
)

// frameBuffer is how many frames may wait for a slow client before new
// ones are dropped for it.
const frameBuffer = 8

// HandlerFunc handles one decoded client message.
type HandlerFunc func(ctx context.Context, conn *SafeWriter, raw []byte) error

// client is one connection. Frames go through a buffered queue so a slow
// client never blocks the syncing goroutine.
type client struct {
	writer *SafeWriter
	frames chan FrameMessage
	done   chan struct{}
	once   sync.Once
}

func (c *client) stop() {
	c.once.Do(func() {
		close(c.done)
		_ = c.writer.Close()
	})
}

// WSAdapter streams frames to websocket clients and turns their messages
// into world operations.
type WSAdapter struct {
	upgrader  websocket.Upgrader
	handlers  map[string]HandlerFunc
	worldPort worldmanagement.WorldManagementPort
	log       logging.Logger

	clientsMu sync.Mutex
	clients   map[*SafeWriter]*client
	closed    bool
	dropped   uint64
}

func NewWSAdapter(worldPort worldmanagement.WorldManagementPort, log logging.Logger) *WSAdapter {
	if log == nil {
		log = logging.Noop()
	}
	return &WSAdapter{
		worldPort: worldPort,
		log:       log.With(logging.Component("ws")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		handlers: make(map[string]HandlerFunc),
		clients:  make(map[*SafeWriter]*client),
	}
}

// RegisterHandlers installs the message handlers and subscribes to frames.
func (a *WSAdapter) RegisterHandlers() {
	a.handlers[MessageTypeImpulse] = a.handleImpulse
	a.handlers[MessageTypePing] = a.handlePing
	a.handlers[MessageTypePause] = func(_ context.Context, conn *SafeWriter, _ []byte) error {
		a.worldPort.SetRunning(false)
		return conn.WriteJSON(NewAckMessage(MessageTypePause, ""))
	}
	a.handlers[MessageTypeResume] = func(_ context.Context, conn *SafeWriter, _ []byte) error {
		a.worldPort.SetRunning(true)
		return conn.WriteJSON(NewAckMessage(MessageTypeResume, ""))
	}
	a.worldPort.Subscribe(a.Broadcast)
}

// Handle registers fn for messages of type typ, replacing any previous one.
func (a *WSAdapter) Handle(typ string, fn HandlerFunc) {
	a.handlers[typ] = fn
}

func (a *WSAdapter) handleImpulse(ctx context.Context, conn *SafeWriter, raw []byte) error {
	var msg ImpulseMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode impulse: %w", err)
	}
	if msg.Name == "" {
		return errors.New("impulse without a body name")
	}
	impulse := mgl64.Vec3{finite(msg.Impulse[0]), finite(msg.Impulse[1]), finite(msg.Impulse[2])}
	if err := a.worldPort.ApplyImpulse(ctx, msg.Name, impulse); err != nil {
		return err
	}
	return conn.WriteJSON(NewAckMessage(MessageTypeImpulseAck, msg.Name))
}

func (a *WSAdapter) handlePing(_ context.Context, conn *SafeWriter, raw []byte) error {
	var msg PingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode ping: %w", err)
	}
	return conn.WriteJSON(NewPongMessage(msg.ClientTime))
}

// Broadcast queues a frame for every connected client.
func (a *WSAdapter) Broadcast(f worldmanagement.FrameSnapshot) {
	msg := NewFrameMessage(f)

	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()
	for _, c := range a.clients {
		select {
		case c.frames <- msg:
		default:
			a.dropped++
		}
	}
}

// ClientCount returns the number of connected clients.
func (a *WSAdapter) ClientCount() int {
	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()
	return len(a.clients)
}

// Dropped returns how many frames were skipped for slow clients.
func (a *WSAdapter) Dropped() uint64 {
	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()
	return a.dropped
}

// Routes serves the websocket endpoint at /ws.
func (a *WSAdapter) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", a.HandleWS)
	return mux
}

// HandleWS upgrades the request and serves the connection until it closes.
func (a *WSAdapter) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	ctx := r.Context()

	c := &client{
		writer: NewSafeWriter(conn),
		frames: make(chan FrameMessage, frameBuffer),
		done:   make(chan struct{}),
	}
	if !a.addClient(c) {
		_ = c.writer.WriteJSON(NewInfoMessage(MessageTypeError, "server shutting down"))
		c.stop()
		return
	}
	defer a.removeClient(c)
	a.log.Info(ctx, "client connected", logging.String("remote", r.RemoteAddr))

	go a.streamFrames(ctx, c)

	if err := c.writer.WriteJSON(NewInfoMessage(MessageTypeInfo, "connected")); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.log.Warn(ctx, "websocket read failed", logging.Err(err))
			}
			a.log.Info(ctx, "client disconnected", logging.String("remote", r.RemoteAddr))
			return
		}
		a.dispatch(ctx, c.writer, raw)
	}
}

func (a *WSAdapter) dispatch(ctx context.Context, conn *SafeWriter, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.reply(ctx, conn, fmt.Sprintf("malformed message: %v", err))
		return
	}
	handler, ok := a.handlers[env.Type]
	if !ok {
		a.reply(ctx, conn, fmt.Sprintf("unknown message type %q", env.Type))
		return
	}
	if err := handler(ctx, conn, raw); err != nil {
		a.log.Warn(ctx, "message handler failed",
			logging.String("type", env.Type),
			logging.Err(err),
		)
		a.reply(ctx, conn, err.Error())
	}
}

func (a *WSAdapter) reply(ctx context.Context, conn *SafeWriter, text string) {
	if err := conn.WriteJSON(NewInfoMessage(MessageTypeError, text)); err != nil {
		a.log.Debug(ctx, "error reply failed", logging.Err(err))
	}
}

func (a *WSAdapter) streamFrames(ctx context.Context, c *client) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.frames:
			if err := c.writer.WriteJSON(msg); err != nil {
				a.log.Debug(ctx, "frame write failed", logging.Err(err))
				c.stop()
				return
			}
		}
	}
}

func (a *WSAdapter) addClient(c *client) bool {
	a.clientsMu.Lock()
	defer a.clientsMu.Unlock()
	if a.closed {
		return false
	}
	a.clients[c.writer] = c
	return true
}

func (a *WSAdapter) removeClient(c *client) {
	a.clientsMu.Lock()
	delete(a.clients, c.writer)
	a.clientsMu.Unlock()
	c.stop()
}

// Close disconnects every client and refuses new ones.
func (a *WSAdapter) Close() {
	a.clientsMu.Lock()
	a.closed = true
	clients := make([]*client, 0, len(a.clients))
	for w, c := range a.clients {
		clients = append(clients, c)
		delete(a.clients, w)
	}
	a.clientsMu.Unlock()
	for _, c := range clients {
		c.stop()
	}
}
