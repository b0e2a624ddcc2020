package gateway

import (
	"strconv"
	"time"
)

// Broadcast wraps an analysis payload in an envelope, records it for replay
// and sends it to every client. Clients whose queue is full miss it.
func (h *Hub) Broadcast(data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	buf := buildEnvelope(data, now, h.seq)
	h.replay.Push(h.seq, buf)

	for client := range h.clients {
		select {
		case client.send <- buf:
		default:
			if h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
}

// buildEnvelope hand-crafts {"type":"analysis","seq":N,"ts":"...","data":...}.
// data must already be valid JSON.
func buildEnvelope(data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(data)+96)
	buf = append(buf, `{"type":"analysis","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}
