package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"clinic_funnel_backend/platform/logger"
)

type capture struct {
	mu    sync.Mutex
	fires []fired
}

type fired struct {
	leadID        uuid.UUID
	lastMessageID uuid.UUID
	count         int
}

func (c *capture) fire(leadID, conversationID, lastMessageID uuid.UUID, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fires = append(c.fires, fired{leadID: leadID, lastMessageID: lastMessageID, count: count})
}

func (c *capture) snapshot() []fired {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fired, len(c.fires))
	copy(out, c.fires)
	return out
}

func waitForFires(t *testing.T, c *capture, want int, timeout time.Duration) []fired {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fires := c.snapshot(); len(fires) >= want {
			return fires
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d fires, got %d", want, len(c.snapshot()))
	return nil
}

func TestBurstCoalescesToSingleFire(t *testing.T) {
	c := &capture{}
	r := NewRegistry(50*time.Millisecond, c.fire, logger.New("test"))
	defer r.Stop()

	leadID := uuid.New()
	convID := uuid.New()
	var last uuid.UUID
	for i := 0; i < 5; i++ {
		last = uuid.New()
		r.OnPhoto(leadID, convID, last)
		time.Sleep(10 * time.Millisecond)
	}

	fires := waitForFires(t, c, 1, time.Second)
	if len(fires) != 1 {
		t.Fatalf("expected exactly 1 fire, got %d", len(fires))
	}
	if fires[0].count != 5 {
		t.Errorf("expected count 5, got %d", fires[0].count)
	}
	if fires[0].lastMessageID != last {
		t.Errorf("expected last message id %s, got %s", last, fires[0].lastMessageID)
	}

	// Nothing else fires after the burst is flushed.
	time.Sleep(100 * time.Millisecond)
	if got := len(c.snapshot()); got != 1 {
		t.Errorf("expected no further fires, got %d total", got)
	}
	if r.Pending(leadID) {
		t.Error("expected no pending burst after flush")
	}
}

func TestEachPhotoReArmsWindow(t *testing.T) {
	c := &capture{}
	r := NewRegistry(60*time.Millisecond, c.fire, logger.New("test"))
	defer r.Stop()

	leadID := uuid.New()
	convID := uuid.New()

	// Keep sending just inside the window; no fire should happen yet.
	for i := 0; i < 4; i++ {
		r.OnPhoto(leadID, convID, uuid.New())
		time.Sleep(30 * time.Millisecond)
	}
	if got := len(c.snapshot()); got != 0 {
		t.Fatalf("window should have been re-armed, got %d fires", got)
	}

	waitForFires(t, c, 1, time.Second)
}

func TestIndependentLeadsFireSeparately(t *testing.T) {
	c := &capture{}
	r := NewRegistry(40*time.Millisecond, c.fire, logger.New("test"))
	defer r.Stop()

	leadA := uuid.New()
	leadB := uuid.New()
	convID := uuid.New()

	r.OnPhoto(leadA, convID, uuid.New())
	r.OnPhoto(leadB, convID, uuid.New())
	r.OnPhoto(leadA, convID, uuid.New())

	fires := waitForFires(t, c, 2, time.Second)

	counts := map[uuid.UUID]int{}
	for _, f := range fires {
		counts[f.leadID] = f.count
	}
	if counts[leadA] != 2 {
		t.Errorf("lead A: expected count 2, got %d", counts[leadA])
	}
	if counts[leadB] != 1 {
		t.Errorf("lead B: expected count 1, got %d", counts[leadB])
	}
}

func TestStopCancelsPendingWindows(t *testing.T) {
	c := &capture{}
	r := NewRegistry(30*time.Millisecond, c.fire, logger.New("test"))

	r.OnPhoto(uuid.New(), uuid.New(), uuid.New())
	r.Stop()

	time.Sleep(80 * time.Millisecond)
	if got := len(c.snapshot()); got != 0 {
		t.Errorf("expected no fires after Stop, got %d", got)
	}
}
