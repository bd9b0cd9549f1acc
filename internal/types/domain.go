package types

import "time"

// ------------------------------
// Core Domain Entities
// ------------------------------

// RecordKind tags the concrete payload carried by a QueuedRecord.
type RecordKind string

const (
	KindCheckIn     RecordKind = "checkIn"
	KindChatMessage RecordKind = "chatMessage"
)

// CheckIn is one mood check-in captured on the device.
type CheckIn struct {
	Mood      string    `json:"mood"`
	Intensity int       `json:"intensity,omitempty"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is one user chat message captured on the device.
type ChatMessage struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// QueuedRecord is a locally persisted user action awaiting confirmed remote
// submission. Exactly one of CheckIn / ChatMessage is set, matching Kind.
//
// ID is generated locally, never reused, and doubles as the idempotency key
// for at-least-once delivery. Synced transitions false → true exactly once.
type QueuedRecord struct {
	ID         string       `json:"id"`
	Kind       RecordKind   `json:"kind"`
	CheckIn    *CheckIn     `json:"checkIn,omitempty"`
	Chat       *ChatMessage `json:"chatMessage,omitempty"`
	Synced     bool         `json:"synced"`
	Attempts   int          `json:"attempts"`
	EnqueuedAt time.Time    `json:"enqueuedAt"`
}

// ------------------------------
// Sync status surface
// ------------------------------

// Status is broadcast to sync-status subscribers. Message is last-write-wins
// and intended for display only.
type Status struct {
	IsSyncing bool
	Message   string
}

// Summary reports the outcome of one sync run.
type Summary struct {
	Success        bool
	CheckInsSynced int
	MessagesSynced int
	Errors         []string
}

// PendingStatus exposes queue depth to the UI without leaking records.
type PendingStatus struct {
	PendingCheckIns int
	PendingMessages int
}

// HasPending reports whether anything is waiting to be synced.
func (p PendingStatus) HasPending() bool {
	return p.PendingCheckIns > 0 || p.PendingMessages > 0
}
