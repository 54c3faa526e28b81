package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	alarmapp "greenhouse-brain/internal/alarms/application"
	"greenhouse-brain/internal/auth"
)

type subscriber struct {
	plantID string
	allowed func(plantID string) bool
}

// SSEBroker fans out anomaly events to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]subscriber
	logger  logrus.FieldLogger
}

// NewSSEBroker constructs a broker.
func NewSSEBroker(logger logrus.FieldLogger) *SSEBroker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SSEBroker{clients: make(map[chan []byte]subscriber), logger: logger}
}

// Notify implements AnomalyNotifier.
func (b *SSEBroker) Notify(_ context.Context, event alarmapp.AnomalyEvent) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.WithError(err).Warn("encode anomaly event failed")
		return
	}
	b.broadcast(event.PlantID, payload)
}

// Subscribe registers a new client channel. An empty plantID receives every
// plant the allowed func accepts; a nil allowed func accepts all plants.
func (b *SSEBroker) Subscribe(plantID string, allowed func(string) bool) chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = subscriber{plantID: plantID, allowed: allowed}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *SSEBroker) broadcast(plantID string, payload []byte) {
	b.mu.Lock()
	clients := make([]chan []byte, 0, len(b.clients))
	for ch, sub := range b.clients {
		if sub.plantID != "" && sub.plantID != plantID {
			continue
		}
		if sub.allowed != nil && !sub.allowed(plantID) {
			continue
		}
		clients = append(clients, ch)
	}
	b.mu.Unlock()
	for _, ch := range clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// StreamHandler serves the SSE anomaly stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/anomalies/stream[?plant_id=].
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	plantID := r.URL.Query().Get("plant_id")
	if err := auth.EnsurePlantAccess(r.Context(), plantID); err != nil {
		auth.RespondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	ch := h.broker.Subscribe(plantID, func(plant string) bool {
		return auth.PlantAllowed(ctx, plant)
	})
	if ch == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := ctx.Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: anomaly\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
