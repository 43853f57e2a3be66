// Package debounce coalesces photo bursts. Patients routinely send four or
// five photos within seconds; analyzing each one would produce a pile of
// overlapping AI replies. Each photo re-arms a per-lead trailing timer, and
// exactly one analysis fires once the burst goes quiet.
package debounce

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"clinic_funnel_backend/platform/logger"
)

// FireFunc receives the coalesced burst once the window closes: the lead,
// its conversation, the last message of the burst and how many photos landed.
type FireFunc func(leadID, conversationID, lastMessageID uuid.UUID, count int)

type burst struct {
	conversationID uuid.UUID
	lastMessageID  uuid.UUID
	count          int
	timer          *time.Timer
	lastSeen       time.Time
}

type Registry struct {
	mu     sync.Mutex
	window time.Duration
	bursts map[uuid.UUID]*burst
	fire   FireFunc
	log    *logger.Logger
}

func NewRegistry(window time.Duration, fire FireFunc, log *logger.Logger) *Registry {
	return &Registry{
		window: window,
		bursts: make(map[uuid.UUID]*burst),
		fire:   fire,
		log:    log,
	}
}

// OnPhoto records one photo message and re-arms the lead's window.
func (r *Registry) OnPhoto(leadID, conversationID, messageID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.bursts[leadID]
	if !exists {
		b = &burst{}
		r.bursts[leadID] = b
	}
	b.conversationID = conversationID
	b.lastMessageID = messageID
	b.count++
	b.lastSeen = time.Now().UTC()

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(r.window, func() {
		r.flush(leadID)
	})

	if r.log != nil {
		r.log.Debug("photo debounce: re-armed window",
			"leadId", leadID,
			"count", b.count,
			"window", r.window.String(),
		)
	}
}

// Pending reports whether a lead has an open burst. Text arriving mid-burst
// still triggers its own analysis; this exists for introspection and tests.
func (r *Registry) Pending(leadID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bursts[leadID]
	return ok
}

func (r *Registry) flush(leadID uuid.UUID) {
	r.mu.Lock()
	b, ok := r.bursts[leadID]
	if !ok {
		r.mu.Unlock()
		return
	}

	// A photo may have landed between the timer firing and this lock.
	quietFor := time.Now().UTC().Sub(b.lastSeen)
	if quietFor < r.window {
		if b.timer != nil {
			b.timer.Stop()
		}
		b.timer = time.AfterFunc(r.window-quietFor, func() {
			r.flush(leadID)
		})
		r.mu.Unlock()
		return
	}

	conversationID := b.conversationID
	lastMessageID := b.lastMessageID
	count := b.count
	delete(r.bursts, leadID)
	r.mu.Unlock()

	if r.log != nil {
		r.log.Debug("photo debounce: flushing burst", "leadId", leadID, "count", count)
	}
	r.fire(leadID, conversationID, lastMessageID, count)
}

// Stop cancels all pending windows without firing them.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for leadID, b := range r.bursts {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(r.bursts, leadID)
	}
}
