package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/refreshd/internal/refresh"
)

// Send buffer size per stream client.
const streamBufferSize = 16

// streamEvent is the payload of one "refresh" event.
type streamEvent struct {
	Data     any              `json:"data"`
	Metadata refresh.Metadata `json:"metadata"`
}

// streamHub tracks connected SSE clients.
type streamHub struct {
	logger   *zap.Logger
	sequence atomic.Uint64

	mu      sync.RWMutex
	clients map[*streamClient]bool
}

// streamClient is one connected SSE subscriber backed by an engine
// subscription.
type streamClient struct {
	dataType string
	dataCh   chan []byte
	dropped  atomic.Uint64
}

func newStreamHub(logger *zap.Logger) *streamHub {
	return &streamHub{
		logger:  logger,
		clients: make(map[*streamClient]bool),
	}
}

func (sh *streamHub) add(c *streamClient) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.clients[c] = true
}

func (sh *streamHub) remove(c *streamClient) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.clients, c)
}

func (sh *streamHub) count() int {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.clients)
}

// formatEvent renders one SSE frame with a hub-wide sequence id.
func (sh *streamHub) formatEvent(eventType string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	seq := sh.sequence.Add(1)
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, jsonData)), nil
}

// Subscribe streams deliveries for a data type as server-sent events. The
// engine subscription lives as long as the connection.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	dataType := chi.URLParam(r, "dataType")
	q := r.URL.Query()
	opts := refresh.SubscribeOptions{
		Priority:       refresh.Priority(q.Get("priority")),
		TransformRules: splitRules(q.Get("rules")),
		UserID:         q.Get("userId"),
		SessionID:      q.Get("sessionId"),
	}

	client := &streamClient{
		dataType: dataType,
		dataCh:   make(chan []byte, streamBufferSize),
	}

	// The callback never blocks the engine: a slow client loses events.
	id, err := h.engine.Subscribe(dataType, func(data any, md refresh.Metadata) {
		eventData, err := h.streams.formatEvent("refresh", streamEvent{Data: data, Metadata: md})
		if err != nil {
			h.logger.Warn("failed to encode stream event", zap.String("dataType", dataType), zap.Error(err))
			return
		}
		select {
		case client.dataCh <- eventData:
		default:
			client.dropped.Add(1)
			h.logger.Debug("stream client channel full, dropping event",
				zap.String("dataType", dataType),
			)
		}
	}, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.streams.add(client)
	defer func() {
		h.streams.remove(client)
		if err := h.engine.Unsubscribe(id); err != nil {
			h.logger.Debug("stream subscription already gone", zap.String("subscription", id), zap.Error(err))
		}
		h.logger.Info("stream client disconnected",
			zap.String("subscription", id),
			zap.Uint64("dropped", client.dropped.Load()),
		)
	}()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.logger.Info("stream client connected",
		zap.String("subscription", id),
		zap.String("dataType", dataType),
		zap.String("remote_addr", r.RemoteAddr),
	)

	hello, err := h.streams.formatEvent("subscribed", map[string]any{
		"subscriptionId": id,
		"dataType":       dataType,
		"subscribedAt":   time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if _, err := w.Write(hello); err != nil {
		return
	}
	flusher.Flush()

	// Stream events
	for {
		select {
		case <-r.Context().Done():
			return
		case eventData := <-client.dataCh:
			if _, err := w.Write(eventData); err != nil {
				h.logger.Debug("failed to write to stream client", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func splitRules(raw string) []string {
	if raw == "" {
		return nil
	}
	var rules []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rules = append(rules, r)
		}
	}
	return rules
}
