package http

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StageEvent is one pipeline stage completion pushed to stream subscribers.
type StageEvent struct {
	Stage      string    `json:"stage"`
	Result     string    `json:"result"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// StreamHub fans pipeline stage completions out to WebSocket subscribers.
// Slow subscribers drop events rather than stall the pipeline.
type StreamHub struct {
	mu   sync.RWMutex
	subs map[chan StageEvent]struct{}
}

// NewStreamHub creates an empty hub.
func NewStreamHub() *StreamHub {
	return &StreamHub{subs: make(map[chan StageEvent]struct{})}
}

// StageCompleted broadcasts a stage completion to every subscriber.
func (h *StreamHub) StageCompleted(stage, result string, elapsed time.Duration) {
	ev := StageEvent{
		Stage:      stage,
		Result:     result,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *StreamHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *StreamHub) subscribe() chan StageEvent {
	ch := make(chan StageEvent, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *StreamHub) unsubscribe(ch chan StageEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

const (
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
	},
}

// handleStageStream upgrades the connection and pushes stage events until the
// client disconnects.
func (s *Server) handleStageStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := s.stream.subscribe()
	defer s.stream.unsubscribe(ch)
	log.Debug().Int("subscribers", s.stream.Subscribers()).Msg("stage stream subscriber connected")

	// Reader only watches for the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
