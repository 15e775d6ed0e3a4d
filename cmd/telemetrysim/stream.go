package main

import (
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// Broadcaster fans payloads out to every connected SSE client
type Broadcaster struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		logger:  logger,
		clients: make(map[chan []byte]struct{}),
	}
}

// Publish delivers data to all clients, skipping clients whose buffer is full
func (b *Broadcaster) Publish(data []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for ch := range b.clients {
		select {
		case ch <- data:
			delivered++
		default:
		}
	}
	return delivered
}

func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// ServeHTTP streams payloads as unnamed SSE events until the client leaves
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	b.logger.Info("SSE client connected", zap.String("remote", r.RemoteAddr))

	defer func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		b.logger.Info("SSE client disconnected", zap.String("remote", r.RemoteAddr))
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
