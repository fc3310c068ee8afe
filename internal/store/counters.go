package store

import "sync"

// CountersSnapshot is a point-in-time copy of the global counters, safe to
// hand to an Observer or print in the shutdown statistics.
type CountersSnapshot struct {
	CurrentFiles        int64
	CurrentBytes        int64
	MaxFiles            int64
	MaxBytes            int64
	EvictionInvocations int64
	MaxConnectedClients int64
}

// Observer is notified after every counters mutation. internal/stats
// implements this to mirror the counters into Prometheus gauges without the
// store package depending on Prometheus.
type Observer interface {
	Observe(CountersSnapshot)
}

// counters holds the global, independently-mutexed statistics: current and
// peak file count, current and peak byte usage, eviction count, and peak
// connected-client count.
// This mutex sits at the top of the lock order (counters < store < per-file
// < waiters): code holding the store or per-file mutex must never
// attempt to acquire it. Operations that must hold it across a composite
// sequence (capacity-miss eviction plus the append that triggered it) lock
// it directly and use the xxxLocked helpers below instead of the locking
// wrappers.
type counters struct {
	mu                  sync.Mutex
	currentFiles        int64
	currentBytes        int64
	maxFiles            int64
	maxBytes            int64
	evictionInvocations int64
	maxConnectedClients int64

	observer Observer
}

func (c *counters) snapshotLocked() CountersSnapshot {
	return CountersSnapshot{
		CurrentFiles:        c.currentFiles,
		CurrentBytes:        c.currentBytes,
		MaxFiles:            c.maxFiles,
		MaxBytes:            c.maxBytes,
		EvictionInvocations: c.evictionInvocations,
		MaxConnectedClients: c.maxConnectedClients,
	}
}

func (c *counters) notifyLocked() {
	if c.observer != nil {
		c.observer.Observe(c.snapshotLocked())
	}
}

func (c *counters) Snapshot() CountersSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// addFileLocked applies one new file's accounting: +1 file, +size bytes,
// and compare-assign maxima within the same critical section.
// Caller must hold c.mu.
func (c *counters) addFileLocked(size int64) {
	c.currentFiles++
	c.currentBytes += size
	if c.currentFiles > c.maxFiles {
		c.maxFiles = c.currentFiles
	}
	if c.currentBytes > c.maxBytes {
		c.maxBytes = c.currentBytes
	}
	c.notifyLocked()
}

// removeFileLocked reverses addFileLocked's accounting. Caller must hold
// c.mu.
func (c *counters) removeFileLocked(size int64) {
	c.currentFiles--
	c.currentBytes -= size
	c.notifyLocked()
}

// growFileLocked records bytes appended to an existing file (no file-count
// change). Caller must hold c.mu.
func (c *counters) growFileLocked(delta int64) {
	c.currentBytes += delta
	if c.currentBytes > c.maxBytes {
		c.maxBytes = c.currentBytes
	}
	c.notifyLocked()
}

func (c *counters) incEvictionsLocked() {
	c.evictionInvocations++
	c.notifyLocked()
}

func (c *counters) addFile(size int64) {
	c.mu.Lock()
	c.addFileLocked(size)
	c.mu.Unlock()
}

func (c *counters) removeFile(size int64) {
	c.mu.Lock()
	c.removeFileLocked(size)
	c.mu.Unlock()
}

// observeConnectedClients compare-assigns the max-connected-clients high
// watermark. Sessions are not store state, so the dispatcher calls this
// through Store.ObserveConnectedClients rather than store mutating it
// itself.
func (c *counters) observeConnectedClients(n int64) {
	c.mu.Lock()
	if n > c.maxConnectedClients {
		c.maxConnectedClients = n
	}
	c.notifyLocked()
	c.mu.Unlock()
}

func (c *counters) setObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}
