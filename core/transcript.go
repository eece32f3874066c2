package voicesession

import (
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// Role distinguishes the speaker of a transcript entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TranscriptEntry is one finalized utterance in the conversation.
type TranscriptEntry struct {
	ID   uuid.UUID
	Role Role
	Text string
	At   time.Time
}

// recordTranscript appends a finalized utterance to the in-memory log.
// Interim transcriptions are delivered to callbacks but never stored.
func (s *Session) recordTranscript(role Role, text string, final bool) {
	if !final || text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, TranscriptEntry{
		ID:   uuid.New(),
		Role: role,
		Text: text,
		At:   time.Now(),
	})
}

// Transcript returns a deep copy of the conversation so far, oldest
// first. The copy is safe to retain across further session activity.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := []TranscriptEntry{}
	if err := copier.CopyWithOption(&entries, &s.transcript, copier.Option{DeepCopy: true}); err != nil {
		logger.Warn("failed to copy transcript", "error", err)
		return nil
	}
	return entries
}
