package store

import (
	"context"
	"time"
)

// UpsertSession creates or advances a session row. The core enforces only
// the property in spec §3.5: callers must supply payload bytes that
// already embed any bound approval/job id the target state requires;
// enforcing *which* states require a bound id is a collaborator concern,
// not the State Store's.
func (s *Store) UpsertSession(ctx context.Context, sessionID, state string, payload []byte) error {
	sess := Session{
		SessionID: sessionID,
		State:     state,
		Payload:   payload,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Save(&sess).Error
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}
