package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/stashdav/stashdav/internal/logger"
	"github.com/stashdav/stashdav/pkg/store"
)

// LimitExceededError reports a principal at their concurrent session cap.
type LimitExceededError struct {
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("session limit of %d reached", e.Limit)
}

// Manager enforces the per-principal concurrent session cap and reaps
// sessions that have gone quiet.
type Manager struct {
	store   *store.Store
	limit   int
	timeout time.Duration
	log     zerolog.Logger
}

func New(s *store.Store, limit int, timeout time.Duration) *Manager {
	return &Manager{
		store:   s,
		limit:   limit,
		timeout: timeout,
		log:     logger.New("session"),
	}
}

func newSessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Create registers a new session. Stale sessions are reaped first; the count
// check and the insert share one transaction so concurrent creates cannot
// slip past the cap.
func (m *Manager) Create(ctx context.Context, ownerID uint, ip, userAgent string) (*store.Session, error) {
	if len(userAgent) > 255 {
		userAgent = userAgent[:255]
	}
	now := time.Now().UTC()
	sess := &store.Session{
		SessionID:    newSessionID(),
		OwnerID:      ownerID,
		IP:           ip,
		UserAgent:    userAgent,
		StartedAt:    now,
		LastActivity: now,
	}
	err := m.store.Transaction(ctx, func(tx *gorm.DB) error {
		cutoff := now.Add(-m.timeout)
		if err := tx.Where("last_activity < ?", cutoff).Delete(&store.Session{}).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&store.Session{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(m.limit) {
			return &LimitExceededError{Limit: m.limit}
		}
		return tx.Create(sess).Error
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Heartbeat bumps a session's last activity; reports whether it existed.
func (m *Manager) Heartbeat(ctx context.Context, sessionID string) (bool, error) {
	res := m.store.DB().WithContext(ctx).Model(&store.Session{}).
		Where("session_id = ?", sessionID).
		Update("last_activity", time.Now().UTC())
	return res.RowsAffected > 0, res.Error
}

// End deletes a session; reports whether it existed.
func (m *Manager) End(ctx context.Context, sessionID string) (bool, error) {
	res := m.store.DB().WithContext(ctx).
		Where("session_id = ?", sessionID).Delete(&store.Session{})
	return res.RowsAffected > 0, res.Error
}

// ReapStale deletes sessions idle past the timeout and returns the count.
func (m *Manager) ReapStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-m.timeout)
	res := m.store.DB().WithContext(ctx).
		Where("last_activity < ?", cutoff).Delete(&store.Session{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		m.log.Debug().Int64("count", res.RowsAffected).Msg("reaped stale sessions")
	}
	return int(res.RowsAffected), nil
}

// List returns a principal's sessions, newest first.
func (m *Manager) List(ctx context.Context, ownerID uint) ([]store.Session, error) {
	var sessions []store.Session
	err := m.store.DB().WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("started_at DESC").Find(&sessions).Error
	return sessions, err
}

func (m *Manager) Get(ctx context.Context, sessionID string) (*store.Session, error) {
	var sess store.Session
	err := m.store.DB().WithContext(ctx).
		First(&sess, "session_id = ?", sessionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// Touch finds the session matching (owner, ip, ua) and heartbeats it, or
// creates one. WebDAV clients do not carry cookies, so this tuple is the
// session identity.
func (m *Manager) Touch(ctx context.Context, ownerID uint, ip, userAgent string) (*store.Session, error) {
	if len(userAgent) > 255 {
		userAgent = userAgent[:255]
	}
	var sess store.Session
	err := m.store.DB().WithContext(ctx).
		Where("owner_id = ? AND ip = ? AND user_agent = ?", ownerID, ip, userAgent).
		Order("last_activity DESC").First(&sess).Error
	if err == nil {
		_, err = m.Heartbeat(ctx, sess.SessionID)
		return &sess, err
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return m.Create(ctx, ownerID, ip, userAgent)
}
