package types

import "time"

// ------------------------------
// Request Types
// ------------------------------

// CheckInRequest is the wire payload for POST /api/check-in. Local-only
// fields (id, synced, attempts) are deliberately absent.
type CheckInRequest struct {
	Mood      string    `json:"mood"`
	Intensity int       `json:"intensity,omitempty"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessageRequest is the wire payload for POST /api/chat.
type ChatMessageRequest struct {
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckInRequestFrom strips local bookkeeping from a queued check-in.
func CheckInRequestFrom(rec QueuedRecord) CheckInRequest {
	c := rec.CheckIn
	return CheckInRequest{
		Mood:      c.Mood,
		Intensity: c.Intensity,
		Note:      c.Note,
		Timestamp: c.Timestamp,
	}
}

// ChatMessageRequestFrom strips local bookkeeping from a queued message.
func ChatMessageRequestFrom(rec QueuedRecord) ChatMessageRequest {
	m := rec.Chat
	return ChatMessageRequest{
		Text:      m.Text,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
	}
}
