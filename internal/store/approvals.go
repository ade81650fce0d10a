package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CreateApproval inserts a new Pending approval row.
func (s *Store) CreateApproval(ctx context.Context, a *Approval) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// GetApproval fetches one approval by id.
func (s *Store) GetApproval(ctx context.Context, approvalID string) (*Approval, error) {
	var a Approval
	if err := s.db.WithContext(ctx).Where("approval_id = ?", approvalID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListApprovals returns all approvals, optionally filtered by status, most
// recent first.
func (s *Store) ListApprovals(ctx context.Context, status string) ([]Approval, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []Approval
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// TransitionApproval moves an approval from Pending to a terminal status,
// applying the idempotence rule of spec §4.4: a second call against an
// already-terminal row is a no-op that returns ok=false.
func (s *Store) TransitionApproval(ctx context.Context, approvalID, toStatus string, statusPayload []byte) (ok bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a Approval
		if e := tx.Where("approval_id = ?", approvalID).First(&a).Error; e != nil {
			return e
		}
		if a.Status != ApprovalPending {
			ok = false
			return nil
		}
		uErr := tx.Model(&Approval{}).Where("approval_id = ? AND status = ?", approvalID, ApprovalPending).
			Updates(map[string]interface{}{
				"status":             toStatus,
				"status_payload_json": statusPayload,
			}).Error
		if uErr != nil {
			return uErr
		}
		ok = true
		return nil
	})
	return ok, err
}

// BindJobID attaches a created Job's id to an Approved approval. Per spec
// §4.4, binding is a separate step from approval itself; leaving job_id
// null on failure is the caller's responsibility to retry.
func (s *Store) BindJobID(ctx context.Context, approvalID string, jobID uint64) error {
	return s.db.WithContext(ctx).Model(&Approval{}).
		Where("approval_id = ?", approvalID).
		Update("job_id", jobID).Error
}

// ExpireOverdue scans Pending approvals whose expires_at has passed and
// moves them to Expired, per spec §3.4's invariant that this must happen
// "on next scan".
func (s *Store) ExpireOverdue(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Approval{}).
		Where("status = ? AND expires_at < ?", ApprovalPending, time.Now()).
		Update("status", ApprovalExpired)
	return res.RowsAffected, res.Error
}

// CleanupOld deletes terminal approvals older than the given age, the way
// original_source's ApprovalManager.cleanup_old_approvals bounds
// unbounded growth of a long-running process's approval table.
func (s *Store) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []string{ApprovalApproved, ApprovalRejected, ApprovalExpired}, cutoff).
		Delete(&Approval{})
	return res.RowsAffected, res.Error
}
