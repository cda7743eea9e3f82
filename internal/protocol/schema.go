package protocol

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStartTest      Action = "start-test"
	ActionNavigate       Action = "navigate-to-question"
	ActionStartRecording Action = "start-recording"
	ActionStopRecording  Action = "stop-recording"
	ActionSubmitAnswer   Action = "submit-answer"
	ActionReanswer       Action = "reanswer"
	ActionStartSTT       Action = "start-stt"
)

// Request is the JSON envelope for client → server messages. Binary
// audio-data frames bypass this envelope entirely (raw PCM on a binary
// WebSocket message).
type Request struct {
	Action        Action `json:"action"`
	QuestionIndex int    `json:"question_index,omitempty"`
	Answer        string `json:"answer,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventQuestionLoaded      Event = "question-loaded"
	EventSTTReady            Event = "stt-ready"
	EventLiveTranscription   Event = "live-transcription"
	EventRecordingStarted    Event = "recording-started"
	EventRecordingStopped    Event = "recording-stopped"
	EventEngineDisconnected  Event = "deepgram-disconnected"
	EventPlayTTSConfirmation Event = "play-tts-confirmation"
	EventTTS                 Event = "tts"
	EventAIConversation      Event = "ai-conversation"
	EventAwaitingReanswer    Event = "awaiting-reanswer-choice"
	EventConfirmationNeeded  Event = "answer-confirmation-needed"
	EventTestCompleted       Event = "test-completed"
	EventError               Event = "error"
)

// Envelope is used to peek at the event name before payload-specific
// parsing.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// QuestionLoadedPayload announces the active question. ExistingAnswer is
// non-empty when the server already holds a submitted answer for it.
// AllowEmpty marks a question the server accepts an empty transcript
// for; the client's empty-submission block is lifted only then.
type QuestionLoadedPayload struct {
	QuestionIndex  int    `json:"question_index"`
	QuestionText   string `json:"question_text"`
	ExistingAnswer string `json:"existing_answer,omitempty"`
	AudioURL       string `json:"audio_url,omitempty"`
	AllowEmpty     bool   `json:"allow_empty,omitempty"`
}

// TranscriptionPayload carries one STT fragment. Final fragments are
// stable and safe to accumulate; non-final ones replace the interim
// buffer.
type TranscriptionPayload struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

// TTSPayload carries a prompt to speak. Exactly one of AudioB64 and Text
// is expected; Text falls back to client-side synthesis.
type TTSPayload struct {
	AudioB64 string `json:"audio,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ConversationIntent is the server-inferred intent of an AI
// confirmation turn.
type ConversationIntent string

const (
	IntentSubmit        ConversationIntent = "submit"
	IntentReanswer      ConversationIntent = "reanswer"
	IntentConfirmSubmit ConversationIntent = "confirm-submit"
	IntentNone          ConversationIntent = "none"
)

// ConversationPayload is one AI-mode confirmation exchange. Consumed
// immediately to drive playback and a state transition; never persisted.
type ConversationPayload struct {
	Message  string             `json:"message"`
	Intent   ConversationIntent `json:"intent"`
	AudioB64 string             `json:"audio,omitempty"`
}

// CompletionPayload summarizes a finished attempt.
type CompletionPayload struct {
	Message string         `json:"message"`
	Answers map[int]string `json:"answers"`
}

// ErrorPayload carries a server-side failure notice.
type ErrorPayload struct {
	Message string `json:"message"`
}
