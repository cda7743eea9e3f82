//go:build e2e
// +build e2e

// Package e2e runs the full exam client against an in-process devserver:
// real REST login, real WebSocket protocol, scripted speech pipeline.
package e2e

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/voxexam-client/internal/api"
	"github.com/stemsi/voxexam-client/internal/apperr"
	"github.com/stemsi/voxexam-client/internal/audio"
	"github.com/stemsi/voxexam-client/internal/config"
	"github.com/stemsi/voxexam-client/internal/devserver"
	"github.com/stemsi/voxexam-client/internal/playback"
	"github.com/stemsi/voxexam-client/internal/proctor"
	"github.com/stemsi/voxexam-client/internal/protocol"
	"github.com/stemsi/voxexam-client/internal/session"
)

const (
	e2eUserID   = "e2e-candidate"
	e2ePassword = "password123"
	e2eTestID   = "e2e-test"
)

var e2eQuestions = []string{
	"Tell me about yourself.",
	"Describe a recent project.",
	"Why this role?",
}

type testEnv struct {
	srv     *httptest.Server
	storage *devserver.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	storage, err := devserver.OpenStorage(":memory:")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte(e2ePassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if err := storage.CreateCandidate(ctx, e2eUserID, "E2E Candidate", string(hash)); err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
	if err := storage.SeedTest(ctx, devserver.StoredTest{
		ID:        e2eTestID,
		Title:     "E2E Voice Interview",
		Questions: e2eQuestions,
	}); err != nil {
		t.Fatalf("seed test: %v", err)
	}

	cfg := &config.ServerConfig{
		GinMode:    "test",
		JWTSecret:  "e2e-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: bcrypt.MinCost,
		AudioDir:   t.TempDir(),
	}
	srv := httptest.NewServer(devserver.NewServer(cfg, storage, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, storage: storage}
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	client := api.NewClient(e.srv.URL+"/api/v1", "", zerolog.Nop())
	tok, err := client.Login(context.Background(), e2eUserID, e2ePassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return tok
}

type silentNotifier struct{}

func (silentNotifier) Notify(apperr.Severity, string) {}

// runExam drives a complete session the way cmd/examclient does: record
// for a fixed window, confirm manually when asked, stop at completion.
func runExam(t *testing.T, env *testEnv, wsQuery string) session.Snapshot {
	t.Helper()

	tok := env.login(t)
	log := zerolog.Nop()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	apiClient := api.NewClient(env.srv.URL+"/api/v1", tok, log)

	// Pose verification gates the exam, exactly as in cmd/examclient.
	checker := proctor.NewChecker(&proctor.NoiseCamera{}, proctor.StaticClassifier{Match: true}, proctor.VarianceClarity{}, apiClient, log)
	if err := checker.RunSequence(ctx, e2eTestID); err != nil {
		t.Fatalf("pose verification: %v", err)
	}

	wsBase := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/v1" + wsQuery
	socket, err := protocol.Dial(ctx, wsBase, tok, e2eTestID, e2eUserID, log)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer socket.Close()

	// Fast pacing so prompt narration does not dominate the test run.
	player := &playback.PacedPlayer{BytesPerSecond: 1 << 20, CharsPerSecond: 500, Log: log}
	coordinator := playback.NewCoordinator(player, apiClient, socket.State(), 10*time.Second, log)
	pipeline := audio.NewPipeline(&audio.SineSource{}, socket, socket.State(), 16000, 2048, log)

	controller := session.NewController(apiClient, pipeline, coordinator, silentNotifier{}, log)
	if err := controller.LoadExam(ctx, e2eTestID, e2eUserID); err != nil {
		t.Fatalf("load exam: %v", err)
	}
	defer controller.Shutdown()

	controller.Bind(socket)
	go socket.Run(ctx)
	if err := controller.AttachSocket(socket); err != nil {
		t.Fatalf("attach socket: %v", err)
	}

	const recordFor = 700 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var recordingSince time.Time
	for {
		select {
		case <-ctx.Done():
			t.Fatalf("exam timed out in phase %s", controller.Snapshot().Phase)
		case <-socket.Done():
			snap := controller.Snapshot()
			if !snap.Completed {
				t.Fatalf("connection lost before completion, phase %s", snap.Phase)
			}
			return snap
		case <-ticker.C:
			snap := controller.Snapshot()
			switch snap.Phase {
			case session.PhaseRecording:
				if recordingSince.IsZero() {
					recordingSince = time.Now()
				} else if time.Since(recordingSince) >= recordFor {
					recordingSince = time.Time{}
					if err := controller.StopRecording(); err != nil {
						t.Logf("stop recording: %v", err)
					}
				}
			case session.PhaseConfirming:
				recordingSince = time.Time{}
				if snap.Confirmation != nil && snap.Confirmation.Mode == session.ConfirmManual {
					if err := controller.SubmitAnswer(); err != nil {
						t.Logf("submit: %v", err)
					}
				}
			case session.PhaseCompleted:
				return snap
			default:
				recordingSince = time.Time{}
			}
		}
	}
}

func assertAllAnswersPersisted(t *testing.T, env *testEnv) {
	t.Helper()
	answers, err := env.storage.ListAnswers(context.Background(), e2eTestID, e2eUserID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	if len(answers) != len(e2eQuestions) {
		t.Fatalf("persisted answers = %d, want %d: %v", len(answers), len(e2eQuestions), answers)
	}
	for i := range e2eQuestions {
		want := fmt.Sprintf("Scripted answer for question %d", i+1)
		if answers[i] != want {
			t.Errorf("answers[%d] = %q, want %q", i, answers[i], want)
		}
	}
}

func TestFullExamManualConfirmation(t *testing.T) {
	env := newTestEnv(t)

	snap := runExam(t, env, "")

	if !snap.Completed || snap.Phase != session.PhaseCompleted {
		t.Fatalf("not completed: phase=%s", snap.Phase)
	}
	if len(snap.Summary) != len(e2eQuestions) {
		t.Errorf("summary entries = %d, want %d", len(snap.Summary), len(e2eQuestions))
	}
	assertAllAnswersPersisted(t, env)

	n, err := env.storage.CountPoseImages(context.Background(), e2eTestID, e2eUserID)
	if err != nil {
		t.Fatalf("count pose images: %v", err)
	}
	if n != 3 {
		t.Errorf("persisted pose images = %d, want 3", n)
	}
}

func TestPoseVerificationRequiresAllPoses(t *testing.T) {
	env := newTestEnv(t)
	tok := env.login(t)
	apiClient := api.NewClient(env.srv.URL+"/api/v1", tok, zerolog.Nop())
	ctx := context.Background()

	// Only one pose uploaded: the aggregate verdict must not pass.
	if err := apiClient.UploadVerificationImage(ctx, e2eTestID, "front", []byte{0xff, 0xd8, 0xff}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp, err := apiClient.VerifyImages(ctx, e2eTestID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	passed := 0
	for _, r := range resp.Results {
		if r.Passed {
			passed++
		}
	}
	if passed != 1 {
		t.Errorf("passed poses = %d, want 1", passed)
	}
}

func TestFullExamAIConfirmation(t *testing.T) {
	env := newTestEnv(t)

	snap := runExam(t, env, "?mode=ai")

	if !snap.Completed {
		t.Fatalf("not completed: phase=%s", snap.Phase)
	}
	assertAllAnswersPersisted(t, env)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	client := api.NewClient(env.srv.URL+"/api/v1", "", zerolog.Nop())

	if _, err := client.Login(context.Background(), e2eUserID, "wrong-password"); err == nil {
		t.Fatal("expected login failure")
	}
	if _, err := client.Login(context.Background(), "ghost", e2ePassword); err == nil {
		t.Fatal("expected login failure for unknown user")
	}
}

func TestGetTestRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	unauthenticated := api.NewClient(env.srv.URL+"/api/v1", "", zerolog.Nop())
	if _, err := unauthenticated.GetTest(context.Background(), e2eTestID); err == nil {
		t.Fatal("expected auth error")
	}

	tok := env.login(t)
	authed := api.NewClient(env.srv.URL+"/api/v1", tok, zerolog.Nop())
	test, err := authed.GetTest(context.Background(), e2eTestID)
	if err != nil {
		t.Fatalf("GetTest: %v", err)
	}
	if test.Title != "E2E Voice Interview" || len(test.Questions) != len(e2eQuestions) {
		t.Errorf("test = %+v", test)
	}
	if _, err := authed.GetTest(context.Background(), "missing"); apperr.CodeOf(err) != apperr.CodeTestNotFound {
		t.Errorf("missing test code = %s, want TEST_NOT_FOUND", apperr.CodeOf(err))
	}
}
