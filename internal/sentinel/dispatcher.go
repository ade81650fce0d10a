// Package sentinel implements the Sentinel Dispatcher of spec §2/§4.2/§5:
// worker registration, job claim, dispatch fan-out, heartbeat tracking,
// stale reclamation, and cancellation, fronted by a TCP transport speaking
// internal/protocol.
package sentinel

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/casparianflow/sentinel/internal/config"
	"github.com/casparianflow/sentinel/internal/logger"
	"github.com/casparianflow/sentinel/internal/protocol"
	"github.com/casparianflow/sentinel/internal/store"
	"github.com/casparianflow/sentinel/internal/telemetry"
)

// maxInflightHandlers bounds the handler-goroutine pool of spec §5: "every
// inbound frame is classified by opcode and dispatched to a bounded
// worker-pool of handler threads."
const maxInflightHandlers = 64

// Dispatcher is the claim-and-dispatch loop plus worker lifecycle tracking
// described in spec §4.2 and §5. Grounded on the teacher's
// internal/jobs.Worker ticker loop and the other_examples Dispatcher's
// Start(ctx)/processNextJob split, generalized from an in-process handler
// registry to a wire-dispatched, capability-matched worker pool.
type Dispatcher struct {
	store   *store.Store
	workers *WorkerTable
	codec   *protocol.Codec
	cfg     config.SentinelConfig
	log     *logger.Logger

	wake chan struct{}
	sem  *semaphore.Weighted
}

// New builds a Dispatcher over an already-opened Store.
func New(s *store.Store, cfg config.SentinelConfig, appLog *logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:   s,
		workers: NewWorkerTable(),
		codec:   protocol.NewCodec(cfg.MaxFrameBytes),
		cfg:     cfg,
		log:     appLog.With("component", "Dispatcher"),
		wake:    make(chan struct{}, 1),
		sem:     semaphore.NewWeighted(maxInflightHandlers),
	}
}

// Wake signals the claim loop to run immediately instead of waiting for
// its next tick, per spec §5's "wakes on: (a) a new job enqueued; (b) a
// worker becomes IDLE."
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// RunClaimLoop is the dedicated claim-and-dispatch thread of spec §5: it
// wakes on enqueue/idle signals or a safety tick (<=1s), and on each wake
// claims and dispatches as many ready (job, idle worker) pairs as exist.
func (d *Dispatcher) RunClaimLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainClaims(ctx)
		case <-d.wake:
			d.drainClaims(ctx)
		}
	}
}

// drainClaims attempts claims until no (idle worker, matching job) pair
// remains, mirroring "don't crash the loop on individual job errors" from
// the other_examples dispatcher: a single claim/dispatch failure is logged
// and the loop continues.
func (d *Dispatcher) drainClaims(ctx context.Context) {
	for {
		claimed, err := d.claimOne(ctx)
		if err != nil {
			d.log.Warn("claim attempt failed", "error", err)
			return
		}
		if !claimed {
			return
		}
	}
}

// claimOne finds one IDLE worker, runs the Claim transaction scoped to its
// capabilities, and dispatches on success. Returns claimed=false when
// either no worker is idle or no matching job is queued.
func (d *Dispatcher) claimOne(ctx context.Context) (bool, error) {
	// Without a specific plugin_name to match we must pick an idle worker
	// first, then let ClaimNextQueued filter by its capability set; a
	// dispatcher with no idle workers can't usefully claim at all, per
	// spec §5's "will not claim a new job until an IDLE worker exists
	// whose capabilities match a queued job."
	idleWorkerID, ok := d.pickAnyIdleWorker()
	if !ok {
		return false, nil
	}
	handle, ok := d.workers.Get(idleWorkerID)
	if !ok {
		return false, nil
	}

	job, err := d.store.ClaimNextQueued(ctx, handle.Capabilities, handle.TransportIdentity, 0)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	if err := d.dispatch(ctx, handle, *job); err != nil {
		d.log.Error("dispatch failed after claim", "job_id", job.ID, "worker_id", handle.WorkerID, "error", err)
		if _, rerr := d.store.Cancel(ctx, job.ID); rerr != nil {
			d.log.Error("failed to abort undispatchable job", "job_id", job.ID, "error", rerr)
		}
		return true, nil
	}
	return true, nil
}

func (d *Dispatcher) pickAnyIdleWorker() (string, bool) {
	// FindIdleFor("*") only matches wildcard-capability workers, so the
	// general idle-scan is done by the caller's store-side capability
	// filter instead; here we just need *an* idle worker to know whether
	// claiming is worth attempting at all.
	for _, pluginName := range allKnownCapabilities(d.workers) {
		if id, ok := d.workers.FindIdleFor(pluginName); ok {
			return id, true
		}
	}
	return "", false
}

func allKnownCapabilities(t *WorkerTable) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, h := range t.workers {
		for _, c := range h.Capabilities {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	return out
}

// dispatch builds and sends a DISPATCH frame for job to the chosen worker
// and marks it BUSY in the in-memory table, per spec §4.2's dispatch step.
func (d *Dispatcher) dispatch(ctx context.Context, handle WorkerHandle, job store.Job) error {
	ctx, span := telemetry.StartDispatchSpan(ctx, job.ID, job.PluginName)
	defer span.End()

	cmd, err := buildDispatchCommand(job)
	if err != nil {
		return err
	}
	select {
	case handle.send <- outboundFrame{opcode: protocol.OpDispatch, jobID: job.ID, payload: cmd}:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.workers.MarkBusy(handle.WorkerID, job.ID)
	d.log.Info("dispatched job", "job_id", job.ID, "worker_id", handle.WorkerID, "plugin_name", job.PluginName)
	return nil
}

// RunStaleSweep periodically reclaims jobs owned by workers silent past
// the heartbeat deadline, per spec §4.2/§3.3.
func (d *Dispatcher) RunStaleSweep(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range d.workers.Stale(d.cfg.HeartbeatDeadline) {
				d.log.Warn("worker stale, reclaiming", "worker_id", h.WorkerID, "last_heartbeat", h.LastHeartbeat)
				n, err := d.store.ReclaimStale(ctx, h.TransportIdentity)
				if err != nil {
					d.log.Error("reclaim failed", "worker_id", h.WorkerID, "error", err)
					continue
				}
				if n > 0 {
					d.log.Info("reclaimed stale jobs", "worker_id", h.WorkerID, "count", n)
					d.Wake()
				}
				d.workers.Unregister(h.WorkerID)
				if err := d.store.DeleteWorkerNode(ctx, h.WorkerID); err != nil {
					d.log.Error("failed to delete stale worker node mirror", "worker_id", h.WorkerID, "error", err)
				}
			}
		}
	}
}

// Cancel applies spec §4.2's cancel rule: QUEUED jobs are aborted directly
// in the State Store; CLAIMED/RUNNING jobs additionally get an ABORT frame
// sent to their owning worker.
func (d *Dispatcher) Cancel(ctx context.Context, jobID uint64) error {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	prior, err := d.store.Cancel(ctx, jobID)
	if err != nil {
		return err
	}
	if prior != store.JobClaimed && prior != store.JobRunning {
		return nil
	}
	if job.WorkerHost == nil {
		return nil
	}
	// job.WorkerHost holds the TransportIdentity ClaimNextQueued stamped
	// onto the row, not worker_id; the table is keyed by worker_id, which
	// a worker may set independently on IDENTIFY (spec §3.3), so this must
	// look up by transport identity rather than WorkerTable.Get.
	handle, ok := d.workers.GetByTransportIdentity(*job.WorkerHost)
	if !ok {
		return nil
	}
	select {
	case handle.send <- outboundFrame{opcode: protocol.OpAbort, jobID: jobID}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func buildDispatchCommand(job store.Job) (protocol.DispatchCommand, error) {
	schemaHashes, err := decodeStringMap(job.SchemaHashes)
	if err != nil {
		return protocol.DispatchCommand{}, err
	}
	sinks, err := decodeSinks(job.Sinks)
	if err != nil {
		return protocol.DispatchCommand{}, err
	}
	return protocol.DispatchCommand{
		PluginName:    job.PluginName,
		ParserVersion: job.PluginVersion,
		FileID:        job.FileID,
		FilePath:      job.FilePath,
		RuntimeKind:   protocol.RuntimeKind(job.RuntimeKind),
		Entrypoint:    job.Entrypoint,
		EnvHash:       job.EnvHash,
		ArtifactHash:  job.SourceHash,
		SchemaHashes:  schemaHashes,
		Sinks:         sinks,
	}, nil
}
