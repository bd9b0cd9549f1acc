package types

import "fmt"

// ------------------------------
// Validation helpers
// ------------------------------

// ValidateRecord checks the structural invariant of a queued record: a
// non-empty id and exactly one payload variant matching Kind.
func ValidateRecord(rec QueuedRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}
	switch rec.Kind {
	case KindCheckIn:
		if rec.CheckIn == nil || rec.Chat != nil {
			return fmt.Errorf("record %s: kind %q requires exactly a check-in payload", rec.ID, rec.Kind)
		}
	case KindChatMessage:
		if rec.Chat == nil || rec.CheckIn != nil {
			return fmt.Errorf("record %s: kind %q requires exactly a chat payload", rec.ID, rec.Kind)
		}
	default:
		return fmt.Errorf("record %s: unknown kind %q", rec.ID, rec.Kind)
	}
	return nil
}

// ValidateCollection rejects empty collection names before they reach storage.
func ValidateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("collection name must not be empty")
	}
	return nil
}
