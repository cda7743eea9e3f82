package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/stemsi/voxexam-client/internal/apperr"
	"github.com/stemsi/voxexam-client/internal/playback"
	"github.com/stemsi/voxexam-client/internal/protocol"
)

// Bind registers the controller's handlers on the socket client's
// dispatch table. The handlers decode payloads and delegate to the typed
// Handle* methods, which keeps the state machine testable without a
// transport.
func (c *Controller) Bind(client *protocol.Client) {
	client.On(protocol.EventQuestionLoaded, func(data json.RawMessage) {
		var p protocol.QuestionLoadedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			c.log.Warn().Err(err).Msg("Bad question-loaded payload")
			return
		}
		c.HandleQuestionLoaded(p)
	})
	client.On(protocol.EventSTTReady, func(json.RawMessage) { c.HandleSTTReady() })
	client.On(protocol.EventLiveTranscription, func(data json.RawMessage) {
		var p protocol.TranscriptionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		c.HandleTranscription(p)
	})
	client.On(protocol.EventRecordingStarted, func(json.RawMessage) { c.HandleRecordingStarted() })
	client.On(protocol.EventRecordingStopped, func(json.RawMessage) { c.HandleRecordingStopped() })
	client.On(protocol.EventEngineDisconnected, func(json.RawMessage) { c.HandleEngineDisconnected() })
	client.On(protocol.EventPlayTTSConfirmation, func(data json.RawMessage) {
		var p protocol.TTSPayload
		_ = json.Unmarshal(data, &p)
		c.HandleTTSConfirmation(p)
	})
	client.On(protocol.EventTTS, func(data json.RawMessage) {
		var p protocol.TTSPayload
		_ = json.Unmarshal(data, &p)
		c.HandleTTS(p)
	})
	client.On(protocol.EventAIConversation, func(data json.RawMessage) {
		var p protocol.ConversationPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		c.HandleAIConversation(p)
	})
	client.On(protocol.EventAwaitingReanswer, func(json.RawMessage) { c.HandleAwaitingReanswerChoice() })
	client.On(protocol.EventConfirmationNeeded, func(json.RawMessage) { c.HandleConfirmationNeeded() })
	client.On(protocol.EventTestCompleted, func(data json.RawMessage) {
		var p protocol.CompletionPayload
		_ = json.Unmarshal(data, &p)
		c.HandleTestCompleted(p)
	})
	client.On(protocol.EventError, func(data json.RawMessage) {
		var p protocol.ErrorPayload
		_ = json.Unmarshal(data, &p)
		c.HandleServerError(p)
	})
	client.OnDisconnect(c.HandleDisconnect)
}

// HandleQuestionLoaded stops any in-flight capture and resets all
// per-question transient state, then populates the new question and any
// existing server-held answer, and narrates the question. Reset happens
// before population so nothing from the previous question leaks in.
func (c *Controller) HandleQuestionLoaded(p protocol.QuestionLoadedPayload) {
	c.mu.Lock()

	c.stopCaptureLocked()
	c.resetTransientLocked()
	c.allowEmptySubmit = p.AllowEmpty

	if p.QuestionIndex >= 0 && p.QuestionIndex < len(c.questions) {
		c.current = p.QuestionIndex
	}
	if p.QuestionText != "" && c.current < len(c.questions) {
		c.questions[c.current].Text = p.QuestionText
	}
	if p.ExistingAnswer != "" {
		c.answer.Transcript = p.ExistingAnswer
		c.answer.Status = AnswerSubmitted
	}
	c.voiceActive = true
	c.phase = PhaseActive

	text := ""
	if c.current < len(c.questions) {
		text = c.questions[c.current].Text
	}
	audioURL := p.AudioURL
	if audioURL == "" && c.testID != "" {
		audioURL = c.api.QuestionAudioURL(c.testID, c.current+1)
	}
	questionNum := c.current + 1
	testID := c.testID
	c.mu.Unlock()

	c.log.Info().Int("question", questionNum).Msg("Question loaded")

	// Warm the narration cache for the following question.
	go c.api.PrefetchQuestionAudio(c.backgroundCtx(), testID, questionNum+1)

	c.playPrompt(playback.Source{URL: audioURL, Text: text}, func() {
		c.signalStartSTT()
	})
}

// HandleSTTReady begins audio capture immediately: the server-side
// speech session is up and waiting.
func (c *Controller) HandleSTTReady() {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return
	}
	if c.answer.Status == AnswerNone {
		c.answer.Attempt++
	}
	c.answer.Status = AnswerRecording
	if c.confirmation == nil {
		c.phase = PhaseRecording
	}
	c.mu.Unlock()

	if err := c.pipeline.Start(c.backgroundCtx()); err != nil {
		c.notifier.Notify(apperr.SeverityRecoverable, apperr.Message(err))
	}
	if err := c.socketOrNil().StartRecording(); err != nil {
		c.notifier.Notify(apperr.SeverityRecording, apperr.Message(err))
	}
}

// HandleTranscription routes one STT fragment. During a voice
// confirmation round the fragment is the candidate's confirmation reply
// and accumulates separately; the preserved answer transcript is never
// touched.
func (c *Controller) HandleTranscription(p protocol.TranscriptionPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fragment := strings.TrimSpace(p.Transcript)
	if fragment == "" {
		return
	}

	if c.confirmation != nil && c.confirmation.Mode == ConfirmVoice {
		if p.IsFinal {
			c.confirmation.Utterance = mergeFinal(c.confirmation.Utterance, fragment)
		}
		return
	}

	if !p.IsFinal {
		c.answer.Interim = p.Transcript
		return
	}
	c.answer.Transcript = mergeFinal(c.answer.Transcript, fragment)
	c.answer.Interim = ""
}

// mergeFinal appends a finalized fragment, skipping a duplicate trailing
// repeat (speech engines occasionally re-emit the last final segment).
func mergeFinal(acc, fragment string) string {
	if acc == "" {
		return fragment
	}
	if strings.HasSuffix(acc, fragment) {
		return acc
	}
	return acc + " " + fragment
}

// HandleRecordingStarted updates the recording indicator. The audio
// window itself is opened in the protocol layer before this runs.
func (c *Controller) HandleRecordingStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.answer.Status = AnswerRecording
	if c.confirmation == nil {
		c.phase = PhaseRecording
	}
}

// HandleRecordingStopped clears the recording indicator.
func (c *Controller) HandleRecordingStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseRecording {
		c.phase = PhaseActive
	}
}

// HandleEngineDisconnected force-stops local capture: the upstream
// speech session is gone and audio must not keep flowing into it. Fatal
// to the current recording only — the candidate can restart.
func (c *Controller) HandleEngineDisconnected() {
	if err := c.pipeline.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("Capture stop failed after engine disconnect")
	}

	c.mu.Lock()
	if c.phase == PhaseRecording {
		c.phase = PhaseActive
	}
	if c.answer.Status == AnswerRecording {
		c.answer.Status = AnswerNone
	}
	c.mu.Unlock()

	c.notifier.Notify(apperr.SeverityRecording, apperr.Message(apperr.New(apperr.CodeSpeechEngineLost, nil)))
}

// HandleTTSConfirmation opens a voice confirmation round: the current
// answer transcript is preserved before the prompt plays, then the
// server is signalled to listen for the verbal reply.
func (c *Controller) HandleTTSConfirmation(p protocol.TTSPayload) {
	c.mu.Lock()
	c.enterConfirmationLocked(ConfirmVoice)
	c.mu.Unlock()

	c.playPrompt(promptSource(p), func() {
		c.signalStartSTT()
	})
}

// HandleTTS plays a server prompt and signals the server to resume
// listening once it ends.
func (c *Controller) HandleTTS(p protocol.TTSPayload) {
	c.playPrompt(promptSource(p), func() {
		c.signalStartSTT()
	})
}

// HandleAIConversation plays one AI confirmation turn and then acts on
// its inferred intent: auto-submit, auto-reanswer, or open a
// voice-confirmation listening window.
func (c *Controller) HandleAIConversation(p protocol.ConversationPayload) {
	src := playback.Source{Text: p.Message}
	if p.AudioB64 != "" {
		if audio, err := base64.StdEncoding.DecodeString(p.AudioB64); err == nil {
			src.Audio = audio
		}
	}

	c.playPrompt(src, func() {
		switch p.Intent {
		case protocol.IntentSubmit, protocol.IntentConfirmSubmit:
			if err := c.SubmitAnswer(); err != nil {
				c.notifier.Notify(apperr.SeverityRecoverable, apperr.Message(err))
			}
		case protocol.IntentReanswer:
			if err := c.RequestReanswer(); err != nil {
				c.notifier.Notify(apperr.SeverityRecoverable, apperr.Message(err))
			}
		default:
			c.mu.Lock()
			c.enterConfirmationLocked(ConfirmVoice)
			c.mu.Unlock()
			c.signalStartSTT()
		}
	})
}

// HandleAwaitingReanswerChoice enters the binary "reanswer or next"
// choice state.
func (c *Controller) HandleAwaitingReanswerChoice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.enterConfirmationLocked(ConfirmVoice)
	c.phase = PhaseReanswerChoice
}

// HandleConfirmationNeeded enters the manual (button-based) confirmation
// fallback used when voice confirmation is unavailable.
func (c *Controller) HandleConfirmationNeeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.enterConfirmationLocked(ConfirmManual)
}

// enterConfirmationLocked preserves the answer transcript and switches
// to the confirmation phase. Re-entry keeps the existing preserved text.
func (c *Controller) enterConfirmationLocked(mode ConfirmMode) {
	if c.confirmation == nil {
		c.confirmation = &Confirmation{Preserved: c.bestTranscriptLocked()}
	}
	c.confirmation.Mode = mode
	c.answer.Status = AnswerPending
	c.phase = PhaseConfirming
}

// HandleTestCompleted transitions to the terminal completed state.
// Recording and navigation controls are disabled from here on.
func (c *Controller) HandleTestCompleted(p protocol.CompletionPayload) {
	if err := c.pipeline.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("Capture stop failed at completion")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = true
	c.phase = PhaseCompleted
	c.confirmation = nil
	for k, v := range p.Answers {
		c.summary[k] = v
	}
	c.log.Info().Int("answers", len(p.Answers)).Msg("Test completed")
}

// HandleServerError surfaces a non-fatal server notice. No silent
// auto-retry.
func (c *Controller) HandleServerError(p protocol.ErrorPayload) {
	err := apperr.New(apperr.CodeNetworkBlip, nil).WithServerMessage(p.Message)
	c.notifier.Notify(apperr.SeverityRecoverable, apperr.Message(err))
}

// HandleDisconnect reacts to the socket session dying. A disconnect
// mid-recording releases the microphone immediately rather than letting
// capture continue into a dead channel.
func (c *Controller) HandleDisconnect(err error) {
	if stopErr := c.pipeline.Stop(); stopErr != nil {
		c.log.Warn().Err(stopErr).Msg("Capture stop failed on disconnect")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.voiceActive = false
	c.socket = nil
	if c.completed {
		return
	}
	if c.answer.Status == AnswerRecording {
		c.answer.Status = AnswerNone
	}
	c.phase = PhaseConnectionError
	c.notifier.Notify(apperr.SeverityRecording, apperr.Message(apperr.New(apperr.CodeSocketClosed, err)))
}

// ─── Helpers ────────────────────────────────────────────────────────

func promptSource(p protocol.TTSPayload) playback.Source {
	src := playback.Source{Text: p.Text}
	if p.AudioB64 != "" {
		if audio, err := base64.StdEncoding.DecodeString(p.AudioB64); err == nil {
			src.Audio = audio
		}
	}
	return src
}

// playPrompt runs the prompter off the socket read loop so a long
// narration cannot starve inbound event handling.
func (c *Controller) playPrompt(src playback.Source, after func()) {
	go c.prompter.Play(c.backgroundCtx(), src, after)
}

func (c *Controller) signalStartSTT() {
	if err := c.socketOrNil().StartSTT(); err != nil {
		c.notifier.Notify(apperr.SeverityRecording, apperr.Message(err))
	}
}

func (c *Controller) backgroundCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

// socketOrNil returns the live socket or a no-op stand-in, so handlers
// racing a teardown do not dereference nil.
func (c *Controller) socketOrNil() Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != nil {
		return c.socket
	}
	return noopSocket{}
}

type noopSocket struct{}

func (noopSocket) StartTest() error               { return nil }
func (noopSocket) Navigate(int) error             { return nil }
func (noopSocket) StartRecording() error          { return nil }
func (noopSocket) StopRecording() error           { return nil }
func (noopSocket) SubmitAnswer(int, string) error { return nil }
func (noopSocket) Reanswer() error                { return nil }
func (noopSocket) StartSTT() error                { return nil }
