package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/voxexam-client/internal/apperr"
)

// fallbackQuestions is the fixed demo set used when the requested test
// cannot be found. The session still runs; the candidate sees a warning.
var fallbackQuestions = []Question{
	{ID: 1, Text: "Tell me about yourself and your background."},
	{ID: 2, Text: "Describe a challenging problem you solved recently."},
	{ID: 3, Text: "What interests you most about this role?"},
	{ID: 4, Text: "How do you approach learning something new?"},
	{ID: 5, Text: "Where do you see yourself in five years?"},
}

// Controller is the exam session state machine.
type Controller struct {
	api      TestAPI
	pipeline AudioPipeline
	prompter Prompter
	notifier Notifier
	log      zerolog.Logger

	mu     sync.Mutex
	socket Socket
	ctx    context.Context

	testID    string
	userID    string
	title     string
	questions []Question
	current   int
	completed bool

	phase        Phase
	answer       Answer
	confirmation *Confirmation
	summary      map[int]string

	// voiceActive is true once the socket session has delivered its
	// first question; navigation then defers to the server.
	voiceActive bool
	// allowEmptySubmit is a server-side allowance for submitting an
	// empty transcript (e.g. pure skip-with-submit flows).
	allowEmptySubmit bool
}

// NewController creates a Controller in the loading phase.
func NewController(testAPI TestAPI, pipeline AudioPipeline, prompter Prompter, notifier Notifier, log zerolog.Logger) *Controller {
	return &Controller{
		api:      testAPI,
		pipeline: pipeline,
		prompter: prompter,
		notifier: notifier,
		log:      log.With().Str("component", "session").Logger(),
		phase:    PhaseLoading,
		summary:  make(map[int]string),
	}
}

// LoadExam fetches the question list and test metadata. A missing test
// falls back to the fixed demo questions with a non-fatal warning; a
// network failure is session-fatal.
func (c *Controller) LoadExam(ctx context.Context, testID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ctx = ctx
	c.testID = testID
	c.userID = userID

	if strings.TrimSpace(testID) == "" {
		c.phase = PhaseFatal
		err := apperr.New(apperr.CodeNoTestID, errors.New("no test id"))
		c.notifier.Notify(apperr.SeverityFatal, apperr.Message(err))
		return err
	}

	test, err := c.api.GetTest(ctx, testID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeTestNotFound {
			c.log.Warn().Str("test_id", testID).Msg("Test not found, using demo questions")
			c.title = "Practice Interview"
			c.questions = append([]Question(nil), fallbackQuestions...)
			c.current = 0
			c.phase = PhaseActive
			c.notifier.Notify(apperr.SeverityRecoverable, apperr.Message(err))
			return nil
		}
		c.phase = PhaseFatal
		c.notifier.Notify(apperr.SeverityFatal, apperr.Message(err))
		return err
	}

	c.title = test.Title
	c.questions = make([]Question, len(test.Questions))
	for i, q := range test.Questions {
		c.questions[i] = Question{ID: i + 1, Text: q.Text}
	}
	c.current = 0
	c.phase = PhaseActive

	c.log.Info().Str("test_id", testID).Int("questions", len(c.questions)).Msg("Exam loaded")
	return nil
}

// AttachSocket binds the controller to an active socket session and asks
// the server to start the test.
func (c *Controller) AttachSocket(socket Socket) error {
	c.mu.Lock()
	c.socket = socket
	c.mu.Unlock()
	return socket.StartTest()
}

// SelectQuestion navigates to the question at index. While a voice
// session is active, navigation is delegated to the server so existing
// per-question answers stay authoritative; otherwise the index moves
// locally. Transient recording/confirmation state is reset either way so
// nothing leaks between questions.
func (c *Controller) SelectQuestion(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed {
		return apperr.New(apperr.CodeInvalidQuestion, errors.New("session completed"))
	}
	if index < 0 || index >= len(c.questions) {
		return apperr.New(apperr.CodeInvalidQuestion, errors.New("index out of range"))
	}

	c.stopCaptureLocked()
	c.resetTransientLocked()

	if c.voiceActive && c.socket != nil {
		return c.socket.Navigate(index)
	}

	c.current = index
	c.phase = PhaseActive
	return nil
}

// SubmitAnswer sends the best available transcript for the current
// question: the transcript preserved at the start of a confirmation
// round, else the accumulated final transcript, else the live interim
// text. Empty submissions are blocked client-side unless the server has
// allowed them. The pending confirmation UI is hidden optimistically.
func (c *Controller) SubmitAnswer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitLocked()
}

func (c *Controller) submitLocked() error {
	if c.completed {
		return apperr.New(apperr.CodeInvalidQuestion, errors.New("session completed"))
	}
	if c.socket == nil {
		return apperr.New(apperr.CodeSocketClosed, errors.New("no active socket session"))
	}

	best := c.bestTranscriptLocked()
	if strings.TrimSpace(best) == "" && !c.allowEmptySubmit {
		return apperr.New(apperr.CodeEmptyTranscript, errors.New("empty transcript"))
	}

	index := c.current
	c.confirmation = nil
	c.answer.Status = AnswerSubmitted
	c.phase = PhaseAdvancing

	if err := c.socket.SubmitAnswer(index, best); err != nil {
		c.phase = PhaseConnectionError
		c.notifier.Notify(apperr.SeverityRecording, apperr.Message(err))
		return err
	}
	c.log.Info().Int("question", index).Msg("Answer submitted")
	return nil
}

// bestTranscriptLocked implements the preserved > final > interim
// preference order.
func (c *Controller) bestTranscriptLocked() string {
	if c.confirmation != nil && strings.TrimSpace(c.confirmation.Preserved) != "" {
		return c.confirmation.Preserved
	}
	if strings.TrimSpace(c.answer.Transcript) != "" {
		return c.answer.Transcript
	}
	return c.answer.Interim
}

// RequestReanswer asks the server to discard the current draft and
// re-open the recording slot for the same question. All local transcript
// buffers are cleared.
func (c *Controller) RequestReanswer() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reanswerLocked()
}

func (c *Controller) reanswerLocked() error {
	if c.socket == nil {
		return apperr.New(apperr.CodeSocketClosed, errors.New("no active socket session"))
	}

	attempt := c.answer.Attempt
	c.resetTransientLocked()
	c.answer.Attempt = attempt + 1
	c.phase = PhaseActive

	if err := c.socket.Reanswer(); err != nil {
		c.phase = PhaseConnectionError
		c.notifier.Notify(apperr.SeverityRecording, apperr.Message(err))
		return err
	}
	c.log.Info().Int("question", c.current).Int("attempt", c.answer.Attempt).Msg("Reanswer requested")
	return nil
}

// Skip advances to the next question without requiring a submission.
// No-op at the last question.
func (c *Controller) Skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.completed || c.current >= len(c.questions)-1 {
		return nil
	}

	next := c.current + 1
	c.stopCaptureLocked()
	c.resetTransientLocked()

	if c.voiceActive && c.socket != nil {
		return c.socket.Navigate(next)
	}
	c.current = next
	c.phase = PhaseActive
	return nil
}

// StopRecording releases the microphone and asks the server to close the
// recording window.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()

	if err := c.pipeline.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("Capture stop failed")
	}
	if socket != nil {
		return socket.StopRecording()
	}
	return nil
}

// Shutdown releases every held resource: microphone, audio graph, and
// transient state. Mandatory on all exit paths.
func (c *Controller) Shutdown() {
	if err := c.pipeline.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("Capture stop failed during shutdown")
	}
	c.mu.Lock()
	c.resetTransientLocked()
	c.socket = nil
	c.voiceActive = false
	c.mu.Unlock()
}

// stopCaptureLocked halts any in-flight recording: the microphone is
// released and, when a recording was active, the server is told to close
// its window (which also shuts the local audio guard). Mandatory on
// every path that leaves the current question.
func (c *Controller) stopCaptureLocked() {
	wasRecording := c.answer.Status == AnswerRecording || c.phase == PhaseRecording
	if err := c.pipeline.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("Capture stop failed")
	}
	if wasRecording && c.socket != nil {
		if err := c.socket.StopRecording(); err != nil {
			c.log.Warn().Err(err).Msg("Stop recording failed")
		}
	}
}

// resetTransientLocked clears everything question-scoped: transcript
// buffers, confirmation state, recording flags. Must run before a new
// question's state is populated.
func (c *Controller) resetTransientLocked() {
	c.answer = Answer{Status: AnswerNone}
	c.confirmation = nil
}

// Snapshot returns a copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Phase:        c.phase,
		Title:        c.title,
		Questions:    append([]Question(nil), c.questions...),
		CurrentIndex: c.current,
		Completed:    c.completed,
		Answer:       c.answer,
	}
	if c.confirmation != nil {
		conf := *c.confirmation
		snap.Confirmation = &conf
	}
	if len(c.summary) > 0 {
		snap.Summary = make(map[int]string, len(c.summary))
		for k, v := range c.summary {
			snap.Summary[k] = v
		}
	}
	return snap
}
