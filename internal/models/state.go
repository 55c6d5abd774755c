package models

import (
	"time"

	"github.com/google/uuid"
)

type ChatStateKind string

const (
	StateIdle                 ChatStateKind = "idle"
	StateWaitingVoiceApproval ChatStateKind = "waiting_voice_approval"
	StateWaitingTaskDelete    ChatStateKind = "waiting_task_delete_confirmation"
	StateWaitingPersonDelete  ChatStateKind = "waiting_delete_confirmation"
	StateWaitingEventDelete   ChatStateKind = "waiting_event_delete_confirmation"
	StateWaitingPassword      ChatStateKind = "waiting_password"
)

// Candidate is one row offered to the user when a text match is ambiguous.
type Candidate struct {
	ID    uuid.UUID `json:"id"`
	Label string    `json:"label"`
}

// ChatState is the per-user multi-turn chat flow. Only the fields relevant to
// Current are populated; ThreadID survives resets.
type ChatState struct {
	UserID      uuid.UUID     `json:"user_id"`
	Current     ChatStateKind `json:"current_state"`
	ThreadID    string        `json:"thread_id,omitempty"`
	Transcript  string        `json:"pending_voice_transcription,omitempty"`
	TargetID    *uuid.UUID    `json:"target_id,omitempty"`
	TargetLabel string        `json:"target_label,omitempty"`
	Candidates  []Candidate   `json:"candidates,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (s ChatState) Kind() ChatStateKind {
	if s.Current == "" {
		return StateIdle
	}
	return s.Current
}

func (s ChatState) Waiting() bool {
	return s.Kind() != StateIdle
}

// Idle returns the terminal state for s, keeping the assistant thread.
func (s ChatState) Idle() ChatState {
	return ChatState{UserID: s.UserID, Current: StateIdle, ThreadID: s.ThreadID, UpdatedAt: time.Now()}
}

// WaitingVoice returns the state that holds a transcript until approval.
func (s ChatState) WaitingVoice(transcript string) ChatState {
	next := s.Idle()
	next.Current = StateWaitingVoiceApproval
	next.Transcript = transcript
	return next
}

// WaitingDelete returns a confirmation state for kind. With one candidate the
// target is preselected.
func (s ChatState) WaitingDelete(kind ChatStateKind, candidates []Candidate) ChatState {
	next := s.Idle()
	next.Current = kind
	if len(candidates) == 1 {
		id := candidates[0].ID
		next.TargetID = &id
		next.TargetLabel = candidates[0].Label
		return next
	}
	next.Candidates = candidates
	return next
}

// Select picks candidate n (1-based). It returns false when n is out of range.
func (s ChatState) Select(n int) (ChatState, bool) {
	if n < 1 || n > len(s.Candidates) {
		return s, false
	}
	c := s.Candidates[n-1]
	next := s
	next.TargetID = &c.ID
	next.TargetLabel = c.Label
	next.Candidates = nil
	next.UpdatedAt = time.Now()
	return next, true
}
