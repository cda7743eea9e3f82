package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/voxexam-client/internal/api"
	"github.com/stemsi/voxexam-client/internal/apperr"
	"github.com/stemsi/voxexam-client/internal/playback"
	"github.com/stemsi/voxexam-client/internal/protocol"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeAPI struct {
	test *api.Test
	err  error
}

func (f *fakeAPI) GetTest(ctx context.Context, testID string) (*api.Test, error) {
	return f.test, f.err
}

func (f *fakeAPI) PrefetchQuestionAudio(ctx context.Context, testID string, n int) {}

func (f *fakeAPI) QuestionAudioURL(testID string, n int) string { return "" }

type fakePipeline struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (f *fakePipeline) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakePipeline) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakePipeline) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// fakePrompter runs the after callback synchronously and signals each
// completed playback on done.
type fakePrompter struct {
	mu      sync.Mutex
	sources []playback.Source
	done    chan struct{}
}

func newFakePrompter() *fakePrompter {
	return &fakePrompter{done: make(chan struct{}, 16)}
}

func (f *fakePrompter) Play(ctx context.Context, src playback.Source, after func()) bool {
	f.mu.Lock()
	f.sources = append(f.sources, src)
	f.mu.Unlock()
	if after != nil {
		after()
	}
	f.done <- struct{}{}
	return true
}

func (f *fakePrompter) waitPlayed(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never played")
	}
}

type fakeSocket struct {
	mu          sync.Mutex
	started     bool
	navigated   []int
	recordings  int
	stops       int
	submissions map[int]string
	reanswers   int
	sttSignals  int
	err         error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{submissions: make(map[int]string)}
}

func (f *fakeSocket) StartTest() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return f.err
}

func (f *fakeSocket) Navigate(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, index)
	return f.err
}

func (f *fakeSocket) StartRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings++
	return f.err
}

func (f *fakeSocket) StopRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.err
}

func (f *fakeSocket) SubmitAnswer(index int, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[index] = transcript
	return f.err
}

func (f *fakeSocket) Reanswer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reanswers++
	return f.err
}

func (f *fakeSocket) StartSTT() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sttSignals++
	return f.err
}

func (f *fakeSocket) submitted(index int) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.submissions[index]
	return v, ok
}

type notice struct {
	severity apperr.Severity
	message  string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (f *fakeNotifier) Notify(severity apperr.Severity, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notice{severity, message})
}

func (f *fakeNotifier) worst() apperr.Severity {
	f.mu.Lock()
	defer f.mu.Unlock()
	worst := apperr.SeverityRecoverable
	for _, n := range f.notices {
		if n.severity > worst {
			worst = n.severity
		}
	}
	return worst
}

// ─── Harness ────────────────────────────────────────────────────────

type harness struct {
	controller *Controller
	api        *fakeAPI
	pipeline   *fakePipeline
	prompter   *fakePrompter
	socket     *fakeSocket
	notifier   *fakeNotifier
}

func threeQuestionTest() *api.Test {
	return &api.Test{
		ID:    "t1",
		Title: "Sample",
		Questions: []api.Question{
			{Text: "Q1"}, {Text: "Q2"}, {Text: "Q3"},
		},
	}
}

func newHarness(t *testing.T, test *api.Test, apiErr error) *harness {
	t.Helper()
	h := &harness{
		api:      &fakeAPI{test: test, err: apiErr},
		pipeline: &fakePipeline{},
		prompter: newFakePrompter(),
		socket:   newFakeSocket(),
		notifier: &fakeNotifier{},
	}
	h.controller = NewController(h.api, h.pipeline, h.prompter, h.notifier, zerolog.Nop())
	return h
}

func (h *harness) loadAndAttach(t *testing.T) {
	t.Helper()
	if err := h.controller.LoadExam(context.Background(), "t1", "u1"); err != nil {
		t.Fatalf("LoadExam: %v", err)
	}
	if err := h.controller.AttachSocket(h.socket); err != nil {
		t.Fatalf("AttachSocket: %v", err)
	}
}

// ─── Loading ────────────────────────────────────────────────────────

func TestLoadExamRoundTrip(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)

	if err := h.controller.LoadExam(context.Background(), "t1", "u1"); err != nil {
		t.Fatalf("LoadExam: %v", err)
	}
	if err := h.controller.SelectQuestion(2); err != nil {
		t.Fatalf("SelectQuestion: %v", err)
	}

	snap := h.controller.Snapshot()
	if snap.CurrentIndex != 2 {
		t.Errorf("CurrentIndex = %d, want 2", snap.CurrentIndex)
	}
	if snap.Questions[2].Text != "Q3" {
		t.Errorf("Questions[2].Text = %q, want Q3", snap.Questions[2].Text)
	}
}

func TestLoadExamNotFoundFallsBackToDemoQuestions(t *testing.T) {
	h := newHarness(t, nil, apperr.New(apperr.CodeTestNotFound, errors.New("404")))

	if err := h.controller.LoadExam(context.Background(), "missing", "u1"); err != nil {
		t.Fatalf("LoadExam should absorb not-found: %v", err)
	}

	snap := h.controller.Snapshot()
	if len(snap.Questions) != 5 {
		t.Errorf("fallback questions = %d, want exactly 5", len(snap.Questions))
	}
	if snap.Phase != PhaseActive {
		t.Errorf("phase = %s, want active", snap.Phase)
	}
	if h.notifier.worst() != apperr.SeverityRecoverable {
		t.Error("not-found must surface as a non-fatal warning")
	}
}

func TestLoadExamNetworkErrorIsFatal(t *testing.T) {
	h := newHarness(t, nil, apperr.New(apperr.CodeConnectionFailed, errors.New("refused")))

	if err := h.controller.LoadExam(context.Background(), "t1", "u1"); err == nil {
		t.Fatal("expected error")
	}
	if snap := h.controller.Snapshot(); snap.Phase != PhaseFatal {
		t.Errorf("phase = %s, want fatal", snap.Phase)
	}
}

func TestLoadExamWithoutTestIDIsFatal(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)

	if err := h.controller.LoadExam(context.Background(), "  ", "u1"); err == nil {
		t.Fatal("expected error")
	}
	if snap := h.controller.Snapshot(); snap.Phase != PhaseFatal {
		t.Errorf("phase = %s, want fatal", snap.Phase)
	}
}

// ─── Navigation ─────────────────────────────────────────────────────

func TestSelectQuestionOutOfRange(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.controller.LoadExam(context.Background(), "t1", "u1")

	for _, idx := range []int{-1, 3, 100} {
		if err := h.controller.SelectQuestion(idx); err == nil {
			t.Errorf("SelectQuestion(%d) should fail", idx)
		}
	}
}

func TestSelectQuestionDelegatesToServerWhenVoiceActive(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleQuestionLoaded(protocol.QuestionLoadedPayload{QuestionIndex: 0, QuestionText: "Q1"})
	h.prompter.waitPlayed(t)

	if err := h.controller.SelectQuestion(1); err != nil {
		t.Fatalf("SelectQuestion: %v", err)
	}

	h.socket.mu.Lock()
	navigated := append([]int(nil), h.socket.navigated...)
	h.socket.mu.Unlock()
	if len(navigated) != 1 || navigated[0] != 1 {
		t.Errorf("navigated = %v, want [1]", navigated)
	}
	// Local index moves only when the server confirms via
	// question-loaded.
	if snap := h.controller.Snapshot(); snap.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d, want 0 until server confirms", snap.CurrentIndex)
	}
}

func TestSelectQuestionStopsInFlightCapture(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleSTTReady()
	h.controller.HandleRecordingStarted()

	if err := h.controller.SelectQuestion(1); err != nil {
		t.Fatalf("SelectQuestion: %v", err)
	}

	if h.pipeline.stopCount() == 0 {
		t.Error("navigating away must release the microphone")
	}
	h.socket.mu.Lock()
	stops := h.socket.stops
	h.socket.mu.Unlock()
	if stops == 0 {
		t.Error("navigating away must ask the server to close the recording window")
	}
}

func TestSkipStopsInFlightCapture(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleSTTReady()
	h.controller.HandleRecordingStarted()

	if err := h.controller.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if h.pipeline.stopCount() == 0 {
		t.Error("skipping must release the microphone")
	}
}

func TestQuestionLoadedStopsInFlightCapture(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleSTTReady()
	h.controller.HandleRecordingStarted()

	h.controller.HandleQuestionLoaded(protocol.QuestionLoadedPayload{QuestionIndex: 1, QuestionText: "Q2"})
	h.prompter.waitPlayed(t)

	if h.pipeline.stopCount() == 0 {
		t.Error("a server-driven question change must release the microphone")
	}
}

func TestSkipIsNoopAtLastQuestion(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.controller.LoadExam(context.Background(), "t1", "u1")
	h.controller.SelectQuestion(2)

	if err := h.controller.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if snap := h.controller.Snapshot(); snap.CurrentIndex != 2 {
		t.Errorf("CurrentIndex = %d, want 2", snap.CurrentIndex)
	}
}

// ─── Transcription ──────────────────────────────────────────────────

func TestTranscriptAccumulation(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.controller.LoadExam(context.Background(), "t1", "u1")

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "my name", IsFinal: false})
	if snap := h.controller.Snapshot(); snap.Answer.Interim != "my name" {
		t.Errorf("interim = %q", snap.Answer.Interim)
	}

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "my name is Ada", IsFinal: true})
	snap := h.controller.Snapshot()
	if snap.Answer.Transcript != "my name is Ada" {
		t.Errorf("transcript = %q", snap.Answer.Transcript)
	}
	if snap.Answer.Interim != "" {
		t.Error("interim must clear on final")
	}

	// A re-emitted trailing final must not duplicate.
	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "my name is Ada", IsFinal: true})
	if snap := h.controller.Snapshot(); snap.Answer.Transcript != "my name is Ada" {
		t.Errorf("transcript after duplicate final = %q", snap.Answer.Transcript)
	}

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "and I like Go", IsFinal: true})
	if snap := h.controller.Snapshot(); snap.Answer.Transcript != "my name is Ada and I like Go" {
		t.Errorf("transcript = %q", snap.Answer.Transcript)
	}
}

func TestTranscriptPreservedDuringConfirmationRound(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	const answer = "the answer is forty two"
	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: answer, IsFinal: true})

	h.controller.HandleTTSConfirmation(protocol.TTSPayload{Text: "Submit or retry?"})
	h.prompter.waitPlayed(t)

	snap := h.controller.Snapshot()
	if snap.Confirmation == nil || snap.Confirmation.Preserved != answer {
		t.Fatalf("preserved transcript missing: %+v", snap.Confirmation)
	}

	// The spoken confirmation reply lands as a transcription but must
	// not replace the answer.
	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "yes submit it", IsFinal: true})
	snap = h.controller.Snapshot()
	if snap.Answer.Transcript != answer {
		t.Errorf("answer transcript = %q, want %q", snap.Answer.Transcript, answer)
	}

	if err := h.controller.SubmitAnswer(); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if got, _ := h.socket.submitted(0); got != answer {
		t.Errorf("submitted = %q, want %q", got, answer)
	}
}

// ─── State reset ────────────────────────────────────────────────────

func TestQuestionLoadedResetsTransientState(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "leftover", IsFinal: true})
	h.controller.HandleConfirmationNeeded()

	h.controller.HandleQuestionLoaded(protocol.QuestionLoadedPayload{QuestionIndex: 1, QuestionText: "Q2"})
	h.prompter.waitPlayed(t)

	snap := h.controller.Snapshot()
	if snap.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", snap.CurrentIndex)
	}
	if snap.Answer.Transcript != "" || snap.Answer.Interim != "" {
		t.Errorf("buffers not reset: %+v", snap.Answer)
	}
	if snap.Confirmation != nil {
		t.Error("confirmation flag leaked into new question")
	}
	if snap.Answer.Status != AnswerNone {
		t.Errorf("status = %s, want none", snap.Answer.Status)
	}
}

func TestQuestionLoadedPopulatesExistingAnswer(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleQuestionLoaded(protocol.QuestionLoadedPayload{
		QuestionIndex:  1,
		QuestionText:   "Q2",
		ExistingAnswer: "previously submitted",
	})
	h.prompter.waitPlayed(t)

	snap := h.controller.Snapshot()
	if snap.Answer.Transcript != "previously submitted" {
		t.Errorf("transcript = %q", snap.Answer.Transcript)
	}
	if snap.Answer.Status != AnswerSubmitted {
		t.Errorf("status = %s, want submitted", snap.Answer.Status)
	}
}

// ─── Submission ─────────────────────────────────────────────────────

func TestSubmitEmptyTranscriptBlocked(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	err := h.controller.SubmitAnswer()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if apperr.CodeOf(err) != apperr.CodeEmptyTranscript {
		t.Errorf("code = %s, want EMPTY_TRANSCRIPT", apperr.CodeOf(err))
	}
	if _, ok := h.socket.submitted(0); ok {
		t.Error("nothing must be sent for an empty transcript")
	}
}

func TestEmptySubmitAllowedWhenServerPermits(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleQuestionLoaded(protocol.QuestionLoadedPayload{
		QuestionIndex: 0,
		QuestionText:  "Q1",
		AllowEmpty:    true,
	})
	h.prompter.waitPlayed(t)

	if err := h.controller.SubmitAnswer(); err != nil {
		t.Fatalf("SubmitAnswer with server allowance: %v", err)
	}
	if got, ok := h.socket.submitted(0); !ok || got != "" {
		t.Errorf("submitted = %q (%v), want empty transcript", got, ok)
	}

	// The allowance is question-scoped: the next question restores the
	// client-side block.
	h.controller.HandleQuestionLoaded(protocol.QuestionLoadedPayload{QuestionIndex: 1, QuestionText: "Q2"})
	h.prompter.waitPlayed(t)
	if err := h.controller.SubmitAnswer(); err == nil {
		t.Error("empty submission must be blocked again without the allowance")
	}
}

func TestSubmitPrefersInterimWhenNoFinal(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "live words", IsFinal: false})
	if err := h.controller.SubmitAnswer(); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if got, _ := h.socket.submitted(0); got != "live words" {
		t.Errorf("submitted = %q, want interim text", got)
	}
}

func TestSubmitHidesConfirmationOptimistically(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "done", IsFinal: true})
	h.controller.HandleConfirmationNeeded()

	if err := h.controller.SubmitAnswer(); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if snap := h.controller.Snapshot(); snap.Confirmation != nil {
		t.Error("confirmation UI must hide immediately on submit")
	}
}

func TestReanswerClearsBuffers(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "first try", IsFinal: true})
	h.controller.HandleConfirmationNeeded()

	if err := h.controller.RequestReanswer(); err != nil {
		t.Fatalf("RequestReanswer: %v", err)
	}

	snap := h.controller.Snapshot()
	if snap.Answer.Transcript != "" || snap.Answer.Interim != "" {
		t.Errorf("buffers not cleared: %+v", snap.Answer)
	}
	if snap.Answer.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", snap.Answer.Attempt)
	}
	h.socket.mu.Lock()
	reanswers := h.socket.reanswers
	h.socket.mu.Unlock()
	if reanswers != 1 {
		t.Errorf("reanswers = %d, want 1", reanswers)
	}
}

// ─── AI conversation ────────────────────────────────────────────────

func TestAIConversationSubmitIntent(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	const answer = "my final answer"
	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: answer, IsFinal: true})

	h.controller.HandleAIConversation(protocol.ConversationPayload{
		Message: "Great, submitting that.",
		Intent:  protocol.IntentSubmit,
	})
	h.prompter.waitPlayed(t)

	if got, _ := h.socket.submitted(0); got != answer {
		t.Errorf("submitted = %q, want %q", got, answer)
	}
}

func TestAIConversationReanswerIntent(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "messy answer", IsFinal: true})
	h.controller.HandleAIConversation(protocol.ConversationPayload{
		Message: "Let's try that again.",
		Intent:  protocol.IntentReanswer,
	})
	h.prompter.waitPlayed(t)

	snap := h.controller.Snapshot()
	if snap.Answer.Transcript != "" {
		t.Errorf("transcript = %q, want cleared", snap.Answer.Transcript)
	}
}

func TestAIConversationNoneOpensVoiceConfirmation(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "an answer", IsFinal: true})
	h.controller.HandleAIConversation(protocol.ConversationPayload{
		Message: "Did you want to submit that?",
		Intent:  protocol.IntentNone,
	})
	h.prompter.waitPlayed(t)

	snap := h.controller.Snapshot()
	if snap.Confirmation == nil || snap.Confirmation.Mode != ConfirmVoice {
		t.Fatalf("expected voice confirmation, got %+v", snap.Confirmation)
	}
	if snap.Confirmation.Preserved != "an answer" {
		t.Errorf("preserved = %q", snap.Confirmation.Preserved)
	}
}

func TestAwaitingReanswerChoicePreservesTranscript(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleTranscription(protocol.TranscriptionPayload{Transcript: "my draft answer", IsFinal: true})
	h.controller.HandleAwaitingReanswerChoice()

	snap := h.controller.Snapshot()
	if snap.Phase != PhaseReanswerChoice {
		t.Errorf("phase = %s, want awaiting-reanswer-choice", snap.Phase)
	}
	if snap.Confirmation == nil || snap.Confirmation.Mode != ConfirmVoice {
		t.Fatalf("expected voice confirmation, got %+v", snap.Confirmation)
	}
	if snap.Confirmation.Preserved != "my draft answer" {
		t.Errorf("preserved = %q, want the draft transcript", snap.Confirmation.Preserved)
	}
}

// ─── Failure handling ───────────────────────────────────────────────

func TestEngineDisconnectForceStopsCapture(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleSTTReady()
	h.controller.HandleRecordingStarted()

	h.controller.HandleEngineDisconnected()

	if h.pipeline.stopCount() == 0 {
		t.Error("capture must be force-stopped on engine disconnect")
	}
	snap := h.controller.Snapshot()
	if snap.Phase == PhaseRecording {
		t.Error("must leave recording phase")
	}
	if snap.Answer.Status == AnswerRecording {
		t.Error("answer must not stay in recording status")
	}
	if h.notifier.worst() < apperr.SeverityRecording {
		t.Error("a retryable recording error must surface")
	}
}

func TestDisconnectWhileRecordingReleasesResources(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleSTTReady()
	h.controller.HandleRecordingStarted()

	h.controller.HandleDisconnect(errors.New("connection reset"))

	if h.pipeline.stopCount() == 0 {
		t.Error("microphone must be released on disconnect")
	}
	if snap := h.controller.Snapshot(); snap.Phase != PhaseConnectionError {
		t.Errorf("phase = %s, want connection-error", snap.Phase)
	}
}

// ─── Completion ─────────────────────────────────────────────────────

func TestCompletionIsTerminal(t *testing.T) {
	h := newHarness(t, threeQuestionTest(), nil)
	h.loadAndAttach(t)

	h.controller.HandleTestCompleted(protocol.CompletionPayload{
		Message: "done",
		Answers: map[int]string{0: "a", 1: "b", 2: "c"},
	})

	snap := h.controller.Snapshot()
	if !snap.Completed || snap.Phase != PhaseCompleted {
		t.Fatalf("not completed: phase=%s completed=%v", snap.Phase, snap.Completed)
	}
	if len(snap.Summary) != 3 {
		t.Errorf("summary entries = %d, want 3", len(snap.Summary))
	}

	if err := h.controller.SelectQuestion(0); err == nil {
		t.Error("navigation must be disabled after completion")
	}
	if err := h.controller.SubmitAnswer(); err == nil {
		t.Error("submission must be disabled after completion")
	}
	if h.pipeline.stopCount() == 0 {
		t.Error("capture must be stopped at completion")
	}
}
