package visit

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLockTTL is how long an interactive edit session owns a visit
// before the lock is considered abandoned.
const DefaultLockTTL = 5 * time.Minute

// EditLock is the short-lived exclusive edit lock embedded on a visit. It
// serializes interactive editing only; completion relies on the optimistic
// version counter instead.
type EditLock struct {
	HolderID   *uuid.UUID `gorm:"column:lock_holder_id;type:uuid"`
	AcquiredAt *time.Time `gorm:"column:lock_acquired_at"`
	ExpiresAt  *time.Time `gorm:"column:lock_expires_at;index"`
}

type LockInfo struct {
	HolderID  uuid.UUID `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Held reports whether the lock is currently held by anyone.
func (l *EditLock) Held(now time.Time) bool {
	return l.HolderID != nil && l.ExpiresAt != nil && now.Before(*l.ExpiresAt)
}

// HeldByOther returns the live lock info when someone other than requester
// holds the lock, nil otherwise.
func (l *EditLock) HeldByOther(requester uuid.UUID, now time.Time) *LockInfo {
	if !l.Held(now) || *l.HolderID == requester {
		return nil
	}
	return &LockInfo{HolderID: *l.HolderID, ExpiresAt: *l.ExpiresAt}
}

// Acquire takes the lock when it is free, expired, or already held by the
// same requester (re-entrant). Returns false when another holder owns it.
func (l *EditLock) Acquire(holder uuid.UUID, ttl time.Duration, now time.Time) bool {
	if l.HeldByOther(holder, now) != nil {
		return false
	}
	expires := now.Add(ttl)
	l.HolderID = &holder
	l.AcquiredAt = &now
	l.ExpiresAt = &expires
	return true
}

// Extend pushes the expiry forward. Fails silently for non-holders.
func (l *EditLock) Extend(holder uuid.UUID, ttl time.Duration, now time.Time) bool {
	if !l.Held(now) || *l.HolderID != holder {
		return false
	}
	expires := now.Add(ttl)
	l.ExpiresAt = &expires
	return true
}

// Release clears the lock. Fails silently for non-holders; an expired lock
// counts as released already.
func (l *EditLock) Release(holder uuid.UUID, now time.Time) bool {
	if !l.Held(now) || *l.HolderID != holder {
		return false
	}
	l.clear()
	return true
}

func (l *EditLock) clear() {
	l.HolderID = nil
	l.AcquiredAt = nil
	l.ExpiresAt = nil
}
