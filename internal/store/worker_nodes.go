package store

import (
	"context"
	"encoding/json"
	"time"
)

// UpsertWorkerNode writes the crash-visibility mirror of a live worker
// connection, per spec §4.5. The Sentinel's in-memory table
// (internal/sentinel) remains authoritative while the worker is connected.
func (s *Store) UpsertWorkerNode(ctx context.Context, w WorkerNode) error {
	w.LastHeartbeat = time.Now()
	return s.db.WithContext(ctx).Save(&w).Error
}

// DeleteWorkerNode removes the mirror row on clean disconnect or explicit
// shutdown, per spec §3.3's lifecycle.
func (s *Store) DeleteWorkerNode(ctx context.Context, workerID string) error {
	return s.db.WithContext(ctx).Where("worker_id = ?", workerID).Delete(&WorkerNode{}).Error
}

// TouchWorkerHeartbeat updates last_heartbeat for an inbound message from
// an already-registered worker.
func (s *Store) TouchWorkerHeartbeat(ctx context.Context, workerID string) error {
	return s.db.WithContext(ctx).Model(&WorkerNode{}).
		Where("worker_id = ?", workerID).
		Update("last_heartbeat", time.Now()).Error
}

// StaleWorkerNodes returns mirror rows whose last_heartbeat predates the
// deadline, for the stale-reclamation sweep.
func (s *Store) StaleWorkerNodes(ctx context.Context, deadline time.Duration) ([]WorkerNode, error) {
	cutoff := time.Now().Add(-deadline)
	var out []WorkerNode
	if err := s.db.WithContext(ctx).Where("last_heartbeat < ?", cutoff).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalCapabilities is a small helper so callers building a WorkerNode
// don't each re-derive the JSON column shape.
func MarshalCapabilities(caps []string) ([]byte, error) {
	return json.Marshal(caps)
}
