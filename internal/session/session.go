// Package session owns the exam state machine: what question the
// candidate is on, what they have said, and what happens next. Every
// other component reports into the controller here, which serializes
// all event sources behind one lock.
package session

import (
	"context"

	"github.com/stemsi/voxexam-client/internal/api"
	"github.com/stemsi/voxexam-client/internal/apperr"
	"github.com/stemsi/voxexam-client/internal/playback"
)

// Phase is the controller's top-level state.
type Phase string

const (
	PhaseLoading         Phase = "loading"
	PhaseActive          Phase = "active"
	PhaseRecording       Phase = "recording"
	PhaseConfirming      Phase = "awaiting-confirmation"
	PhaseReanswerChoice  Phase = "awaiting-reanswer-choice"
	PhaseAdvancing       Phase = "advancing"
	PhaseCompleted       Phase = "completed"
	PhaseConnectionError Phase = "connection-error"
	PhaseFatal           Phase = "fatal"
)

// ConfirmMode tags how the pending confirmation is answered.
type ConfirmMode string

const (
	ConfirmVoice  ConfirmMode = "voice"
	ConfirmManual ConfirmMode = "manual"
)

// Confirmation is the pending confirmation round. Preserved carries the
// answer transcript captured when the round began, so the short
// confirmation utterance can never overwrite the real answer.
type Confirmation struct {
	Mode      ConfirmMode
	Preserved string
	// Utterance accumulates the candidate's spoken reply during a
	// voice round. Kept apart from the answer buffers.
	Utterance string
}

// AnswerStatus tracks the per-question answer lifecycle.
type AnswerStatus string

const (
	AnswerNone      AnswerStatus = "none"
	AnswerRecording AnswerStatus = "recording"
	AnswerPending   AnswerStatus = "pending-confirmation"
	AnswerSubmitted AnswerStatus = "submitted"
)

// Answer mirrors the server-authoritative answer for the current
// question.
type Answer struct {
	Transcript string // accumulated finalized text
	Interim    string // unconfirmed live text
	Status     AnswerStatus
	Attempt    int
}

// Question is one exam prompt, immutable once loaded.
type Question struct {
	ID   int // 1-based ordinal
	Text string
}

// Socket is the outbound half of the exam channel, implemented by the
// protocol client.
type Socket interface {
	StartTest() error
	Navigate(index int) error
	StartRecording() error
	StopRecording() error
	SubmitAnswer(index int, transcript string) error
	Reanswer() error
	StartSTT() error
}

// AudioPipeline is the capture pipeline's lifecycle surface. The
// controller never touches raw audio, only start/stop.
type AudioPipeline interface {
	Start(ctx context.Context) error
	Stop() error
}

// Prompter plays a spoken prompt and invokes after once it has fully
// ended. Implemented by the playback coordinator.
type Prompter interface {
	Play(ctx context.Context, src playback.Source, after func()) bool
}

// TestAPI is the subset of the REST accessor the controller uses.
type TestAPI interface {
	GetTest(ctx context.Context, testID string) (*api.Test, error)
	PrefetchQuestionAudio(ctx context.Context, testID string, n int)
	QuestionAudioURL(testID string, n int) string
}

// Notifier surfaces user-facing notices. A UI layer shows toasts; tests
// capture them.
type Notifier interface {
	Notify(severity apperr.Severity, message string)
}

// Snapshot is a read-only copy of the controller state for rendering
// and assertions.
type Snapshot struct {
	Phase        Phase
	Title        string
	Questions    []Question
	CurrentIndex int
	Completed    bool
	Answer       Answer
	Confirmation *Confirmation
	Summary      map[int]string
}
