// Package progress fans job snapshots out to subscribers. Publishing
// never blocks: each subscriber holds only the latest snapshot, so a
// slow listener sees fewer intermediate states, never stale ones.
package progress

import (
	"sync"
	"time"

	"github.com/loupehq/loupe/internal/store"
)

// Snapshot is one point-in-time view of a job.
type Snapshot struct {
	JobID          int64
	Status         store.JobStatus
	Progress       float64 // 0..1
	ProcessedFiles int
	TotalFiles     int
	ErrorCount     int
	Message        string
	Timestamp      time.Time
}

// Terminal reports whether this snapshot ends the stream.
func (s Snapshot) Terminal() bool {
	return s.Status.Terminal()
}

// Subscription is one listener on one job.
type Subscription struct {
	jobID int64
	ch    chan Snapshot

	mu     sync.Mutex
	closed bool
}

// C is the snapshot stream. It closes after a terminal snapshot is
// delivered or the subscription is removed.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// push delivers keep-latest: a full buffer is drained first so the new
// snapshot replaces the stale one.
func (s *Subscription) push(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- snap
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Hub routes snapshots from job runners to subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[int64][]*Subscription
	// last remembers the most recent snapshot per job so late
	// subscribers start with current state.
	last map[int64]Snapshot
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[int64][]*Subscription),
		last: make(map[int64]Snapshot),
	}
}

// Subscribe registers a listener for jobID. If the job already published
// a snapshot, it is delivered immediately; if that snapshot was
// terminal, the channel closes right after it.
func (h *Hub) Subscribe(jobID int64) *Subscription {
	sub := &Subscription{jobID: jobID, ch: make(chan Snapshot, 1)}

	h.mu.Lock()
	lastSnap, hasLast := h.last[jobID]
	if !hasLast || !lastSnap.Terminal() {
		h.subs[jobID] = append(h.subs[jobID], sub)
	}
	h.mu.Unlock()

	if hasLast {
		sub.push(lastSnap)
		if lastSnap.Terminal() {
			sub.close()
		}
	}
	return sub
}

// Unsubscribe removes the listener and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	subs := h.subs[sub.jobID]
	for i, s := range subs {
		if s == sub {
			h.subs[sub.jobID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish fans the snapshot out to every subscriber of the job without
// blocking. A terminal snapshot closes and removes all subscriptions
// for the job.
func (h *Hub) Publish(jobID int64, snap Snapshot) {
	snap.JobID = jobID
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.last[jobID] = snap
	subs := make([]*Subscription, len(h.subs[jobID]))
	copy(subs, h.subs[jobID])
	if snap.Terminal() {
		delete(h.subs, jobID)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.push(snap)
		if snap.Terminal() {
			sub.close()
		}
	}
}

// Forget drops the remembered snapshot of a finished job.
func (h *Hub) Forget(jobID int64) {
	h.mu.Lock()
	delete(h.last, jobID)
	h.mu.Unlock()
}
