package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/onetwothreethreetwoone/FeedSpace/internal/models"
)

// Broadcaster fans graph snapshots out to Server-Sent Events clients.
// It implements graph.Publisher. A slow client only ever holds the latest snapshot;
// older undelivered snapshots are dropped.
type Broadcaster struct {
	snapshot func() models.GraphData
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	closed  bool
	done    chan struct{}
}

// NewBroadcaster creates a broadcaster. snapshot supplies the first event of each new stream.
func NewBroadcaster(snapshot func() models.GraphData, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		snapshot: snapshot,
		logger:   logger,
		clients:  make(map[chan []byte]struct{}),
		done:     make(chan struct{}),
	}
}

// Publish encodes data once and offers it to every client without blocking.
func (b *Broadcaster) Publish(data models.GraphData) {
	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Error("Failed to encode graph snapshot", zap.Error(err))
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		offer(ch, payload)
	}
}

func offer(ch chan []byte, payload []byte) {
	select {
	case ch <- payload:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- payload:
	default:
	}
}

// Clients returns the number of connected streams.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) subscribe() (chan []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	ch := make(chan []byte, 1)
	b.clients[ch] = struct{}{}
	return ch, true
}

func (b *Broadcaster) unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, ch)
}

// Close ends every open stream.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// ServeHTTP streams one "graph" event with the current snapshot, then one per publish,
// until the client goes away or the broadcaster is closed.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, ok := b.subscribe()
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer b.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	initial, err := json.Marshal(b.snapshot())
	if err != nil {
		b.logger.Error("Failed to encode graph snapshot", zap.Error(err))
		return
	}
	if err := writeEvent(w, initial); err != nil {
		return
	}
	flusher.Flush()
	b.logger.Debug("Stream client connected", zap.String("remote", r.RemoteAddr))

	for {
		select {
		case <-r.Context().Done():
			return
		case <-b.done:
			return
		case payload := <-ch:
			if err := writeEvent(w, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, payload []byte) error {
	_, err := fmt.Fprintf(w, "event: graph\ndata: %s\n\n", payload)
	return err
}
