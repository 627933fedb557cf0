// Package sse implements a Server-Sent Events broker that fans save and
// execution status out to the presentation layer.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type saveEventReq struct {
	notebookID string
	status     string
}

type cellEventReq struct {
	notebookID string
	cellID     string
	status     string
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns the
// mutable state (clients + notebook-event throttle timestamps). Public
// methods communicate with this loop through channels, so no mutexes
// are required.
type Broker struct {
	notebookMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	saveEventCh   chan saveEventReq
	cellEventCh   chan cellEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. notebookThrottle bounds how often the
// aggregate notebook.updated event is emitted per notebook.
func NewBroker(notebookThrottle time.Duration) *Broker {
	if notebookThrottle <= 0 {
		notebookThrottle = 2 * time.Second
	}

	b := &Broker{
		notebookMin:   notebookThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		saveEventCh:   make(chan saveEventReq, 256),
		cellEventCh:   make(chan cellEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	lastNotebook := make(map[string]time.Time)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking the loop.
			}
		}
	}

	notebookUpdated := func(notebookID string) {
		now := time.Now()
		if now.Sub(lastNotebook[notebookID]) < b.notebookMin {
			return
		}
		lastNotebook[notebookID] = now
		broadcast(Event{Type: "notebook.updated", Data: map[string]string{"notebook": notebookID}})
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.saveEventCh:
			broadcast(Event{Type: "save." + req.status, Data: map[string]string{
				"notebook": req.notebookID,
			}})
			notebookUpdated(req.notebookID)

		case req := <-b.cellEventCh:
			broadcast(Event{Type: "cell." + req.status, Data: map[string]string{
				"notebook": req.notebookID,
				"cell":     req.cellID,
			}})

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops the broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an arbitrary event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishSaveStatus publishes a save-status transition (saving, saved,
// error) plus a throttled notebook.updated event.
func (b *Broker) PublishSaveStatus(notebookID, status string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.saveEventCh <- saveEventReq{notebookID: notebookID, status: status}:
	case <-b.stopped:
	}
}

// PublishCellStatus publishes a per-cell execution status transition
// (idle, running, success, error).
func (b *Broker) PublishCellStatus(notebookID, cellID, status string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.cellEventCh <- cellEventReq{notebookID: notebookID, cellID: cellID, status: status}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
