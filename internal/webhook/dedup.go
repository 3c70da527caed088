package webhook

import (
	"sync"
	"time"
)

type dedupEntry struct {
	at          time.Time
	sessionCode string
}

// Deduper suppresses redelivered events. Storage providers retry webhooks
// on slow responses, so the same upload can arrive more than once within a
// short window. The session code created for the first delivery is kept so
// duplicates can answer with it.
type Deduper struct {
	mu     sync.Mutex
	seen   map[string]dedupEntry
	window time.Duration
	now    func() time.Time
}

// NewDeduper creates a dedup window. Entries older than the window are
// forgotten lazily.
func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Deduper{
		seen:   make(map[string]dedupEntry),
		window: window,
		now:    time.Now,
	}
}

func dedupKey(bucket, path, etag string) string {
	return bucket + "|" + path + "|" + etag
}

// Seen reports whether the (bucket, path, etag) triple was already
// delivered within the window, and the session code recorded for it.
func (d *Deduper) Seen(bucket, path, etag string) (string, bool) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.seen[dedupKey(bucket, path, etag)]
	if !ok || now.Sub(entry.at) >= d.window {
		return "", false
	}
	return entry.sessionCode, true
}

// Record remembers the session code created for a delivery. Called only
// after intake succeeds, so a failed delivery can be retried.
func (d *Deduper) Record(bucket, path, etag, sessionCode string) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen[dedupKey(bucket, path, etag)] = dedupEntry{at: now, sessionCode: sessionCode}

	if len(d.seen) > 4096 {
		for k, e := range d.seen {
			if now.Sub(e.at) >= d.window {
				delete(d.seen, k)
			}
		}
	}
}
