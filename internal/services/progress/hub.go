// Package progress fans run progress out to websocket clients.
//
// Workers Publish events; each websocket connection Subscribes to one run.
// Publishing never blocks: a subscriber that falls behind misses
// intermediate events, but always gets the final one because the hub
// remembers the latest event of every run for a while after it finishes.
package progress

import (
	"sync"
	"time"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
)

const (
	subscriberBuffer = 32
	// finishedRetention is how long the last event of a finished run is
	// kept for clients that subscribe late.
	finishedRetention = time.Minute
)

// Hub routes progress events by run ID. The zero value is not usable; call NewHub.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan models.ProgressEvent]struct{}
	latest map[string]models.ProgressEvent
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[chan models.ProgressEvent]struct{}),
		latest: make(map[string]models.ProgressEvent),
	}
}

// Subscribe returns a channel of events for runID and a function that
// unsubscribes. If the run already published, the latest event is
// delivered first. The channel is closed after the run's final event or on
// unsubscribe.
func (h *Hub) Subscribe(runID string) (<-chan models.ProgressEvent, func()) {
	ch := make(chan models.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	last, seen := h.latest[runID]
	if seen && last.Status.Finished() {
		h.mu.Unlock()
		ch <- last
		close(ch)
		return ch, func() {}
	}
	if seen {
		ch <- last
	}
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan models.ProgressEvent]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[runID][ch]; ok {
				delete(h.subs[runID], ch)
				close(ch)
				if len(h.subs[runID]) == 0 {
					delete(h.subs, runID)
				}
			}
		})
	}
}

// Publish delivers ev to every subscriber of ev.RunID.
func (h *Hub) Publish(ev models.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[ev.RunID] = ev
	finished := ev.Status.Finished()

	for ch := range h.subs[ev.RunID] {
		if finished {
			// Make room so the final event is never dropped.
			for sent := false; !sent; {
				select {
				case ch <- ev:
					sent = true
				default:
					select {
					case <-ch:
					default:
					}
				}
			}
			close(ch)
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}

	if finished {
		delete(h.subs, ev.RunID)
		time.AfterFunc(finishedRetention, func() { h.forget(ev.RunID, ev) })
	}
}

// Subscribers returns the number of open subscriptions for runID.
func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

func (h *Hub) forget(runID string, ev models.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest[runID] == ev {
		delete(h.latest, runID)
	}
}
