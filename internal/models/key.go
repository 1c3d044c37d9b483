package models

import (
	"sort"
	"time"
)

// WarningLedger is the set of lead times, in hours, for which an expiration
// warning has already been sent for a key. Entries are only ever appended.
type WarningLedger []int

// Has reports whether the lead time was already notified.
func (l WarningLedger) Has(hours int) bool {
	for _, h := range l {
		if h == hours {
			return true
		}
	}
	return false
}

// With returns a sorted copy of the ledger including hours.
func (l WarningLedger) With(hours int) WarningLedger {
	if l.Has(hours) {
		return l
	}
	out := append(WarningLedger(nil), l...)
	out = append(out, hours)
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// ClientAccessKey is a time limited credential issued to a client.
type ClientAccessKey struct {
	ID            string        `json:"id"`
	ClientID      string        `json:"clientId"`
	KeyValue      string        `json:"-"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiresAt     time.Time     `json:"expiresAt"`
	Permissions   []string      `json:"permissions,omitempty"`
	Active        bool          `json:"active"`
	DeactivatedAt *time.Time    `json:"deactivatedAt,omitempty"`
	WarningLedger WarningLedger `json:"warningLedger,omitempty"`
}

// Remaining returns the time left before the key expires.
func (k ClientAccessKey) Remaining(now time.Time) time.Duration {
	return k.ExpiresAt.Sub(now)
}

// Expired reports whether the key has reached its expiration time.
func (k ClientAccessKey) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// ClientContact is the contact view of a client used to address
// notifications.
type ClientContact struct {
	ClientID string `json:"clientId" db:"client_id"`
	Name     string `json:"name" db:"name"`
	Email    string `json:"email" db:"email"`
	Phone    string `json:"phone" db:"phone"`
}
