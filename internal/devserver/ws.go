package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/voxexam-client/internal/protocol"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// handleExamStream upgrades to WebSocket and serves one scripted exam
// session: real protocol, fake speech pipeline.
func (s *Server) handleExamStream(c *gin.Context) {
	claims := claimsFrom(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	testID := c.Query("test_id")
	if testID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "test_id required"})
		return
	}

	test, err := s.storage.GetTest(c.Request.Context(), testID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "test not found"})
		return
	}

	upgrader := buildUpgrader(s.cfg.AllowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := &examSession{
		conn:    conn,
		storage: s.storage,
		test:    test,
		userID:  claims.UserID,
		aiMode:  c.Query("mode") == "ai",
		log: s.log.With().
			Str("test_id", testID).
			Str("user_id", claims.UserID).
			Logger(),
	}

	sess.log.Info().Msg("Candidate connected")
	sess.run()
}

// examSession is one candidate's scripted exam run.
type examSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	storage *Storage
	test    *StoredTest
	userID  string
	aiMode  bool
	log     zerolog.Logger

	current    int
	recording  bool
	audioBytes int
}

func (e *examSession) run() {
	ctx := context.Background()

	for {
		e.conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		msgType, data, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				e.log.Debug().Msg("Connection closed")
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			e.handleAudio(data)
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			e.writeEvent(protocol.EventError, protocol.ErrorPayload{Message: "malformed request"})
			continue
		}

		switch req.Action {
		case protocol.ActionStartTest:
			e.loadQuestion(ctx, 0)
		case protocol.ActionNavigate:
			if req.QuestionIndex < 0 || req.QuestionIndex >= len(e.test.Questions) {
				e.writeEvent(protocol.EventError, protocol.ErrorPayload{Message: "question index out of range"})
				continue
			}
			e.loadQuestion(ctx, req.QuestionIndex)
		case protocol.ActionStartSTT:
			e.writeEvent(protocol.EventSTTReady, gin.H{})
		case protocol.ActionStartRecording:
			e.recording = true
			e.audioBytes = 0
			e.writeEvent(protocol.EventRecordingStarted, gin.H{})
		case protocol.ActionStopRecording:
			e.finishRecording()
		case protocol.ActionSubmitAnswer:
			e.handleSubmit(ctx, req)
		case protocol.ActionReanswer:
			e.handleReanswer(ctx)
		default:
			e.log.Warn().Str("action", string(req.Action)).Msg("Unknown action")
			e.writeEvent(protocol.EventError, protocol.ErrorPayload{Message: "unknown action: " + string(req.Action)})
		}
	}
}

// handleAudio consumes one PCM frame. Frames outside a recording window
// indicate a client-side guard bug and are logged loudly.
func (e *examSession) handleAudio(data []byte) {
	if !e.recording {
		e.log.Warn().Int("bytes", len(data)).Msg("Audio frame outside recording window")
		return
	}

	prev := e.audioBytes
	e.audioBytes += len(data)

	// Emit an interim fragment roughly every 64 KiB of speech.
	const interimEvery = 64 * 1024
	if prev/interimEvery != e.audioBytes/interimEvery {
		e.writeEvent(protocol.EventLiveTranscription, protocol.TranscriptionPayload{
			Transcript: e.scriptedTranscript() + "…",
			IsFinal:    false,
		})
	}
}

// finishRecording closes the window and emits the scripted final
// transcript plus the confirmation prompt for the configured mode.
func (e *examSession) finishRecording() {
	if !e.recording {
		return
	}
	e.recording = false
	e.writeEvent(protocol.EventRecordingStopped, gin.H{})

	if e.audioBytes == 0 {
		e.writeEvent(protocol.EventError, protocol.ErrorPayload{Message: "no audio received"})
		return
	}

	e.writeEvent(protocol.EventLiveTranscription, protocol.TranscriptionPayload{
		Transcript: e.scriptedTranscript(),
		IsFinal:    true,
	})

	if e.aiMode {
		e.writeEvent(protocol.EventAIConversation, protocol.ConversationPayload{
			Message: "Thanks — I will record that answer and move on.",
			Intent:  protocol.IntentSubmit,
		})
		return
	}
	e.writeEvent(protocol.EventConfirmationNeeded, gin.H{})
}

func (e *examSession) scriptedTranscript() string {
	return fmt.Sprintf("Scripted answer for question %d", e.current+1)
}

func (e *examSession) handleSubmit(ctx context.Context, req protocol.Request) {
	if err := e.storage.SaveAnswer(ctx, e.test.ID, e.userID, req.QuestionIndex, req.Answer); err != nil {
		e.log.Error().Err(err).Msg("Answer save failed")
		e.writeEvent(protocol.EventError, protocol.ErrorPayload{Message: "answer save failed"})
		return
	}
	e.log.Info().Int("question", req.QuestionIndex).Msg("Answer submitted")

	if req.QuestionIndex >= len(e.test.Questions)-1 {
		e.complete(ctx)
		return
	}
	e.loadQuestion(ctx, req.QuestionIndex+1)
}

func (e *examSession) handleReanswer(ctx context.Context) {
	if err := e.storage.DeleteAnswer(ctx, e.test.ID, e.userID, e.current); err != nil {
		e.log.Error().Err(err).Msg("Answer delete failed")
	}
	e.audioBytes = 0
	// Re-open the capture cycle for the same question.
	e.writeEvent(protocol.EventSTTReady, gin.H{})
}

func (e *examSession) loadQuestion(ctx context.Context, index int) {
	// A navigate landing mid-recording abandons that recording; the
	// client must see its window closed.
	if e.recording {
		e.recording = false
		e.writeEvent(protocol.EventRecordingStopped, gin.H{})
	}
	e.current = index
	e.audioBytes = 0

	existing, err := e.storage.GetAnswer(ctx, e.test.ID, e.userID, index)
	if err != nil {
		e.log.Error().Err(err).Msg("Answer lookup failed")
	}

	e.writeEvent(protocol.EventQuestionLoaded, protocol.QuestionLoadedPayload{
		QuestionIndex:  index,
		QuestionText:   e.test.Questions[index],
		ExistingAnswer: existing,
	})
}

func (e *examSession) complete(ctx context.Context) {
	answers, err := e.storage.ListAnswers(ctx, e.test.ID, e.userID)
	if err != nil {
		e.log.Error().Err(err).Msg("Answer list failed")
		answers = map[int]string{}
	}

	e.writeEvent(protocol.EventTestCompleted, protocol.CompletionPayload{
		Message: "All questions answered. Your responses have been recorded.",
		Answers: answers,
	})
	e.log.Info().Int("answers", len(answers)).Msg("Test completed")
}

func (e *examSession) writeEvent(ev protocol.Event, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Error().Err(err).Msg("Payload marshal failed")
		return
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := e.conn.WriteJSON(protocol.Envelope{Event: ev, Data: data}); err != nil {
		e.log.Debug().Err(err).Str("event", string(ev)).Msg("Event write failed")
	}
}
