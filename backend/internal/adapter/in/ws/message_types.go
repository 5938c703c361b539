package ws

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"physsync/backend/internal/core/port/in/worldmanagement"
)

const (
	MessageTypeFrame      = "frame"
	MessageTypeImpulse    = "impulse"
	MessageTypeImpulseAck = "impulse_ack"
	MessageTypePause      = "pause"
	MessageTypeResume     = "resume"
	MessageTypePing       = "ping"
	MessageTypePong       = "pong"
	MessageTypeInfo       = "info"
	MessageTypeError      = "error"
)

// envelope is decoded first to pick a handler.
type envelope struct {
	Type string `json:"type"`
}

// FrameMessage is broadcast after every sync.
type FrameMessage struct {
	Type       string        `json:"type"`
	Frame      uint64        `json:"frame"`
	TimestepMS float64       `json:"timestep_ms"`
	Bodies     []BodyMessage `json:"bodies"`
}

type BodyMessage struct {
	Name     string     `json:"name"`
	Kind     string     `json:"kind"`
	Position [3]float64 `json:"position"`
	Rotation [4]float64 `json:"rotation"` // x, y, z, w
}

// ImpulseMessage asks for a central impulse on a named dynamic body.
type ImpulseMessage struct {
	Type    string     `json:"type"`
	Name    string     `json:"name"`
	Impulse [3]float64 `json:"impulse"`
}

type AckMessage struct {
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	ServerTime int64  `json:"server_time"`
}

type PingMessage struct {
	Type       string  `json:"type"`
	ClientTime float64 `json:"client_time"`
}

type PongMessage struct {
	Type       string  `json:"type"`
	ClientTime float64 `json:"client_time"`
	ServerTime int64   `json:"server_time"`
}

type InfoMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GetCurrentServerTime returns the server time in milliseconds.
func GetCurrentServerTime() int64 {
	return time.Now().UnixMilli()
}

// NewFrameMessage converts a frame snapshot, replacing non-finite
// coordinates with 0.
func NewFrameMessage(f worldmanagement.FrameSnapshot) FrameMessage {
	msg := FrameMessage{
		Type:       MessageTypeFrame,
		Frame:      f.Index,
		TimestepMS: finite(f.Timestep),
		Bodies:     make([]BodyMessage, len(f.Bodies)),
	}
	for i, b := range f.Bodies {
		msg.Bodies[i] = BodyMessage{
			Name:     b.Name,
			Kind:     b.Kind,
			Position: vec(b.Position),
			Rotation: [4]float64{finite(b.Rotation.V[0]), finite(b.Rotation.V[1]), finite(b.Rotation.V[2]), finite(b.Rotation.W)},
		}
	}
	return msg
}

func vec(v mgl64.Vec3) [3]float64 {
	return [3]float64{finite(v[0]), finite(v[1]), finite(v[2])}
}

func NewPongMessage(clientTime float64) PongMessage {
	return PongMessage{Type: MessageTypePong, ClientTime: clientTime, ServerTime: GetCurrentServerTime()}
}

func NewAckMessage(typ, name string) AckMessage {
	return AckMessage{Type: typ, Name: name, ServerTime: GetCurrentServerTime()}
}

func NewInfoMessage(typ, message string) InfoMessage {
	return InfoMessage{Type: typ, Message: message}
}
