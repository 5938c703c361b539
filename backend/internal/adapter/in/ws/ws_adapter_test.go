package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"physsync/backend/internal/core/port/in/worldmanagement"
	"physsync/backend/internal/logging"
)

type impulseCall struct {
	name    string
	impulse mgl64.Vec3
}

type fakePort struct {
	mu       sync.Mutex
	bodies   map[string]bool // name -> dynamic
	impulses []impulseCall
	running  bool
	listener func(worldmanagement.FrameSnapshot)
}

func (p *fakePort) ApplyImpulse(_ context.Context, name string, impulse mgl64.Vec3) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	dynamic, ok := p.bodies[name]
	if !ok {
		return fmt.Errorf("apply impulse to %q: %w", name, worldmanagement.ErrUnknownBody)
	}
	if !dynamic {
		return fmt.Errorf("apply impulse to %q: %w", name, worldmanagement.ErrNotDynamic)
	}
	p.impulses = append(p.impulses, impulseCall{name: name, impulse: impulse})
	return nil
}

func (p *fakePort) SetRunning(running bool) {
	p.mu.Lock()
	p.running = running
	p.mu.Unlock()
}

func (p *fakePort) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakePort) Subscribe(fn func(worldmanagement.FrameSnapshot)) { p.listener = fn }

type wsHarness struct {
	t       *testing.T
	port    *fakePort
	adapter *WSAdapter
	log     *logging.Recorder
	server  *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	port := &fakePort{bodies: map[string]bool{"box": true, "floor": false}, running: true}
	log := logging.NewRecorder()
	adapter := NewWSAdapter(port, log)
	adapter.RegisterHandlers()
	server := httptest.NewServer(adapter.Routes())
	t.Cleanup(func() {
		adapter.Close()
		server.Close()
	})
	return &wsHarness{t: t, port: port, adapter: adapter, log: log, server: server}
}

// dial connects a client and consumes the greeting, after which the client
// is registered.
func (h *wsHarness) dial() *websocket.Conn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		h.t.Fatalf("dial: %v", err)
	}
	h.t.Cleanup(func() { conn.Close() })
	if got := readType(h.t, conn, MessageTypeInfo); got["message"] != "connected" {
		h.t.Fatalf("greeting = %v", got)
	}
	return conn
}

// readType reads until a message of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestFramesBroadcastToEveryClient(t *testing.T) {
	h := newWSHarness(t)
	a, b := h.dial(), h.dial()
	if h.adapter.ClientCount() != 2 {
		t.Fatalf("clients = %d, want 2", h.adapter.ClientCount())
	}

	h.port.listener(worldmanagement.FrameSnapshot{
		Index:    7,
		Timestep: 16.667,
		Bodies: []worldmanagement.BodySnapshot{{
			Name:     "box",
			Kind:     "dynamic",
			Position: mgl64.Vec3{1, 2, 3},
			Rotation: mgl64.QuatIdent(),
		}},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatal(err)
		}
		var msg FrameMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if msg.Type != MessageTypeFrame || msg.Frame != 7 || msg.TimestepMS != 16.667 {
			t.Fatalf("frame header = %+v", msg)
		}
		if len(msg.Bodies) != 1 {
			t.Fatalf("bodies = %+v", msg.Bodies)
		}
		body := msg.Bodies[0]
		if body.Name != "box" || body.Kind != "dynamic" || body.Position != [3]float64{1, 2, 3} || body.Rotation != [4]float64{0, 0, 0, 1} {
			t.Fatalf("body = %+v", body)
		}
	}
}

func TestFrameMessageDropsNonFiniteValues(t *testing.T) {
	msg := NewFrameMessage(worldmanagement.FrameSnapshot{
		Timestep: math.NaN(),
		Bodies: []worldmanagement.BodySnapshot{{
			Position: mgl64.Vec3{math.NaN(), 1, math.Inf(-1)},
			Rotation: mgl64.Quat{W: math.NaN()},
		}},
	})
	if _, err := json.Marshal(msg); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if msg.TimestepMS != 0 || msg.Bodies[0].Position != [3]float64{0, 1, 0} || msg.Bodies[0].Rotation[3] != 0 {
		t.Fatalf("non-finite values kept: %+v", msg)
	}
}

func TestImpulseReachesWorld(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial()

	send(t, conn, ImpulseMessage{Type: MessageTypeImpulse, Name: "box", Impulse: [3]float64{0, 500, 0}})
	ack := readType(t, conn, MessageTypeImpulseAck)
	if ack["name"] != "box" {
		t.Fatalf("ack = %v", ack)
	}

	h.port.mu.Lock()
	defer h.port.mu.Unlock()
	if len(h.port.impulses) != 1 || h.port.impulses[0] != (impulseCall{name: "box", impulse: mgl64.Vec3{0, 500, 0}}) {
		t.Fatalf("impulses = %+v", h.port.impulses)
	}
}

func TestImpulseErrorsAreReported(t *testing.T) {
	cases := []struct {
		name string
		msg  any
		want string
	}{
		{name: "unknown body", msg: ImpulseMessage{Type: MessageTypeImpulse, Name: "ghost"}, want: "unknown body"},
		{name: "static body", msg: ImpulseMessage{Type: MessageTypeImpulse, Name: "floor"}, want: "not dynamic"},
		{name: "missing name", msg: ImpulseMessage{Type: MessageTypeImpulse}, want: "without a body name"},
		{name: "unknown type", msg: map[string]any{"type": "teleport"}, want: "unknown message type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newWSHarness(t)
			conn := h.dial()
			send(t, conn, tc.msg)
			reply := readType(t, conn, MessageTypeError)
			if text, _ := reply["message"].(string); !strings.Contains(text, tc.want) {
				t.Fatalf("error reply = %q, want %q", text, tc.want)
			}
		})
	}
}

func TestPingPong(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial()
	send(t, conn, PingMessage{Type: MessageTypePing, ClientTime: 1234.5})
	pong := readType(t, conn, MessageTypePong)
	if pong["client_time"] != 1234.5 {
		t.Fatalf("pong = %v", pong)
	}
	if st, _ := pong["server_time"].(float64); st <= 0 {
		t.Fatalf("pong without server time: %v", pong)
	}
}

func TestPauseAndResume(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial()

	send(t, conn, map[string]any{"type": MessageTypePause})
	readType(t, conn, MessageTypePause)
	if h.port.Running() {
		t.Fatal("world still running after pause")
	}
	send(t, conn, map[string]any{"type": MessageTypeResume})
	readType(t, conn, MessageTypeResume)
	if !h.port.Running() {
		t.Fatal("world not running after resume")
	}
}

func TestSlowClientDropsFrames(t *testing.T) {
	h := newWSHarness(t)
	h.dial()

	// Nobody reads, so once the socket buffers fill the queue overflows.
	frame := worldmanagement.FrameSnapshot{Bodies: make([]worldmanagement.BodySnapshot, 512)}
	deadline := time.Now().Add(5 * time.Second)
	for h.adapter.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no frames dropped for a client that never reads")
		}
		h.port.listener(frame)
	}
}

func TestClosedAdapterRefusesClients(t *testing.T) {
	h := newWSHarness(t)
	h.dial()
	h.adapter.Close()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readType(t, conn, MessageTypeError)
	if n := h.adapter.ClientCount(); n != 0 {
		t.Fatalf("clients = %d after close", n)
	}
}
