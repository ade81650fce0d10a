package sentinel

import (
	"sync"
	"time"
)

// WorkerHandle is the Sentinel's in-memory record of a connected worker
// (spec §3.3). It is owned exclusively by WorkerTable; callers must not
// retain pointers across table operations.
type WorkerHandle struct {
	WorkerID          string
	TransportIdentity string
	Capabilities      []string
	LastHeartbeat     time.Time
	CurrentJobID      *uint64
	Status            string

	// send is how the I/O thread pushes frames to this worker's
	// connection without handler goroutines touching the net.Conn
	// directly, per spec §5's "Worker table: in-memory, owned by the
	// Sentinel's I/O thread; handlers mutate via channel messages, not
	// direct access."
	send chan<- outboundFrame
}

func (w WorkerHandle) hasCapability(pluginName string) bool {
	for _, c := range w.Capabilities {
		if c == "*" || c == pluginName {
			return true
		}
	}
	return false
}

// WorkerTable is the Sentinel's single in-memory worker registry.
// Grounded on the teacher's Registry (internal/jobs/runtime/registry.go)
// RWMutex-guarded-map shape, generalized from a static handler registry to
// a live, mutating connection table.
type WorkerTable struct {
	mu      sync.RWMutex
	workers map[string]*WorkerHandle
}

// NewWorkerTable builds an empty table.
func NewWorkerTable() *WorkerTable {
	return &WorkerTable{workers: make(map[string]*WorkerHandle)}
}

// Register adds or replaces a worker's live handle on IDENTIFY.
func (t *WorkerTable) Register(h *WorkerHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.workers[h.WorkerID] = h
}

// Unregister removes a worker, on disconnect, explicit shutdown, or
// stale-reclamation per spec §3.3.
func (t *WorkerTable) Unregister(workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.workers, workerID)
}

// Get returns a copy of the named worker's handle (send channel included),
// for use outside the lock.
func (t *WorkerTable) Get(workerID string) (WorkerHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.workers[workerID]
	if !ok {
		return WorkerHandle{}, false
	}
	return *h, true
}

// GetByTransportIdentity returns a copy of the handle whose TransportIdentity
// matches, for callers that only hold the connection identity a Job's
// worker_host column was stamped with (see internal/store.ClaimNextQueued),
// not the worker_id a worker may have chosen independently on IDENTIFY
// (spec §3.3).
func (t *WorkerTable) GetByTransportIdentity(transportIdentity string) (WorkerHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, h := range t.workers {
		if h.TransportIdentity == transportIdentity {
			return *h, true
		}
	}
	return WorkerHandle{}, false
}

// Touch updates last_heartbeat for any inbound frame from workerID, per
// spec §4.2: "any inbound frame counts."
func (t *WorkerTable) Touch(workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.workers[workerID]; ok {
		h.LastHeartbeat = time.Now()
	}
}

// FindIdleFor returns the worker_id of one IDLE worker whose
// capabilities match pluginName (exact match or `*` wildcard), or ok=false
// if none is available.
func (t *WorkerTable) FindIdleFor(pluginName string) (workerID string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, h := range t.workers {
		if h.Status == statusIdle && h.hasCapability(pluginName) {
			return id, true
		}
	}
	return "", false
}

// MarkBusy transitions a worker to BUSY with the given job bound, on
// successful dispatch.
func (t *WorkerTable) MarkBusy(workerID string, jobID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.workers[workerID]; ok {
		h.Status = statusBusy
		h.CurrentJobID = &jobID
	}
}

// MarkIdle transitions a worker back to IDLE, on CONCLUDE/ERR for its
// current job.
func (t *WorkerTable) MarkIdle(workerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.workers[workerID]; ok {
		h.Status = statusIdle
		h.CurrentJobID = nil
	}
}

// Stale returns the handles of workers silent past deadline.
func (t *WorkerTable) Stale(deadline time.Duration) []WorkerHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cutoff := time.Now().Add(-deadline)
	var out []WorkerHandle
	for _, h := range t.workers {
		if h.LastHeartbeat.Before(cutoff) {
			out = append(out, *h)
		}
	}
	return out
}

// Len reports the number of connected workers.
func (t *WorkerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.workers)
}

const (
	statusIdle     = "IDLE"
	statusBusy     = "BUSY"
	statusDraining = "DRAINING"
)
