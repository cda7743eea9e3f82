package apperr

import (
	"errors"
	"fmt"
)

// Code is a typed error code enum for consistent error identification
// across the client engine.
type Code string

const (
	// ─── Session-fatal ─────────────────────────────────────────────────
	CodeTestNotFound      Code = "TEST_NOT_FOUND"
	CodeNoTestID          Code = "NO_TEST_ID"
	CodeConnectionFailed  Code = "CONNECTION_FAILED"
	CodeSessionExpired    Code = "SESSION_EXPIRED"

	// ─── Recoverable ───────────────────────────────────────────────────
	CodePermissionDenied Code = "MIC_PERMISSION_DENIED"
	CodeNetworkBlip      Code = "NETWORK_ERROR"
	CodeAudioLoadFailed  Code = "AUDIO_LOAD_FAILED"
	CodePoseRejected     Code = "POSE_REJECTED"
	CodeImageUnclear     Code = "IMAGE_UNCLEAR"

	// ─── Recording-fatal (current recording only) ──────────────────────
	CodeSpeechEngineLost Code = "SPEECH_ENGINE_DISCONNECTED"
	CodeSocketClosed     Code = "SOCKET_CLOSED"

	// ─── Validation ────────────────────────────────────────────────────
	CodeEmptyTranscript Code = "EMPTY_TRANSCRIPT"
	CodeInvalidQuestion Code = "INVALID_QUESTION_INDEX"

	CodeInternal Code = "INTERNAL_ERROR"
)

// Severity classifies how an error affects the running session.
type Severity int

const (
	// SeverityRecoverable errors surface as a dismissible notice; the
	// user may retry the specific action.
	SeverityRecoverable Severity = iota
	// SeverityRecording errors kill the in-flight recording but leave
	// the session usable; recording may be restarted.
	SeverityRecording
	// SeverityFatal errors end the session; the only exits are a full
	// reload or clearing local state.
	SeverityFatal
)

// Error is the engine-wide error type. ServerMessage, when present, is
// preferred over the generic code message when rendering to the user.
type Error struct {
	Code          Code
	ServerMessage string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given code wrapping an underlying cause.
func New(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// WithServerMessage attaches a server-supplied human-readable message.
func (e *Error) WithServerMessage(msg string) *Error {
	e.ServerMessage = msg
	return e
}

// CodeOf extracts the Code from any error, or CodeInternal if the error
// is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// SeverityOf maps a code to its session impact.
func SeverityOf(code Code) Severity {
	switch code {
	case CodeTestNotFound, CodeNoTestID, CodeConnectionFailed, CodeSessionExpired:
		return SeverityFatal
	case CodeSpeechEngineLost, CodeSocketClosed:
		return SeverityRecording
	default:
		return SeverityRecoverable
	}
}

// Message returns the text to show the user: the server-supplied message
// when one exists, otherwise the generic message for the code.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.ServerMessage != "" {
			return e.ServerMessage
		}
		return genericMessage(e.Code)
	}
	return genericMessage(CodeInternal)
}

func genericMessage(code Code) string {
	switch code {
	// ─── Session-fatal ─────────────────────────────────────────────────
	case CodeTestNotFound:
		return "The requested test could not be found."
	case CodeNoTestID:
		return "No active test. Please open the exam from your assignments."
	case CodeConnectionFailed:
		return "Could not reach the exam server. Check your connection and reload."
	case CodeSessionExpired:
		return "Your session has expired. Please sign in again."

	// ─── Recoverable ───────────────────────────────────────────────────
	case CodePermissionDenied:
		return "Microphone access was denied. Allow access and try again."
	case CodeNetworkBlip:
		return "A network error occurred. Please try again."
	case CodeAudioLoadFailed:
		return "Question audio failed to load."
	case CodePoseRejected:
		return "Face position check failed. Please adjust and retry."
	case CodeImageUnclear:
		return "The captured image is too blurry. Please retry."

	// ─── Recording-fatal ───────────────────────────────────────────────
	case CodeSpeechEngineLost:
		return "The speech service disconnected. Please restart recording."
	case CodeSocketClosed:
		return "The exam connection dropped. Recording was stopped."

	// ─── Validation ────────────────────────────────────────────────────
	case CodeEmptyTranscript:
		return "Your answer is empty. Record an answer before submitting."
	case CodeInvalidQuestion:
		return "Invalid question number."

	default:
		return "An unexpected error occurred."
	}
}
