package ws

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = time.Second

// SafeWriter serializes writes to one websocket connection.
type SafeWriter struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

func NewSafeWriter(conn *websocket.Conn) *SafeWriter {
	return &SafeWriter{conn: conn}
}

// WriteJSON marshals v and sends it as one text message. Generic maps that
// fail to marshal because of NaN values are retried with NaN replaced by 0.
func (w *SafeWriter) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return err
		}
		sanitizeMapValues(m)
		if data, err = json.Marshal(m); err != nil {
			return err
		}
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *SafeWriter) Close() error {
	return w.conn.Close()
}

func sanitizeMapValues(data map[string]any) {
	for k, v := range data {
		switch val := v.(type) {
		case float64:
			data[k] = finite(val)
		case map[string]any:
			sanitizeMapValues(val)
		case []any:
			for i, item := range val {
				switch it := item.(type) {
				case map[string]any:
					sanitizeMapValues(it)
				case float64:
					val[i] = finite(it)
				}
			}
		}
	}
}

// finite replaces values JSON cannot carry with 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
