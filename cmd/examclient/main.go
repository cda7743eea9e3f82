package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/stemsi/voxexam-client/internal/api"
	"github.com/stemsi/voxexam-client/internal/apperr"
	"github.com/stemsi/voxexam-client/internal/audio"
	"github.com/stemsi/voxexam-client/internal/config"
	"github.com/stemsi/voxexam-client/internal/logger"
	"github.com/stemsi/voxexam-client/internal/playback"
	"github.com/stemsi/voxexam-client/internal/proctor"
	"github.com/stemsi/voxexam-client/internal/protocol"
	"github.com/stemsi/voxexam-client/internal/session"
	"github.com/stemsi/voxexam-client/internal/store"
	"github.com/stemsi/voxexam-client/internal/token"
)

func main() {
	cfg := config.LoadClient()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	st := store.New(cfg.StateFile)

	var err error
	switch cmd {
	case "login":
		err = login(cfg, st, log)
	case "logout":
		err = st.Clear()
	case "run":
		err = run(cfg, st, log)
	default:
		fmt.Fprintf(os.Stderr, "usage: examclient [login|logout|run]\n")
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("Command failed")
	}
}

// login prompts for credentials, obtains a bearer token, and persists it
// together with the exam identifiers.
func login(cfg *config.ClientConfig, st *store.Store, log zerolog.Logger) error {
	userID := os.Getenv("USER_ID")
	if userID == "" {
		fmt.Print("User ID: ")
		if _, err := fmt.Scanln(&userID); err != nil {
			return err
		}
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}

	client := api.NewClient(cfg.APIBaseURL, "", log)
	signed, err := client.Login(context.Background(), userID, string(password))
	if err != nil {
		return err
	}

	state := store.State{
		Token:  signed,
		Role:   string(token.RoleCandidate),
		UserID: userID,
		TestID: os.Getenv("TEST_ID"),
	}
	if err := st.Save(state); err != nil {
		return err
	}

	log.Info().Str("user_id", userID).Msg("Logged in")
	return nil
}

// run drives one exam session end to end.
func run(cfg *config.ClientConfig, st *store.Store, log zerolog.Logger) error {
	state, err := st.Load()
	if err != nil {
		return err
	}
	if testID := os.Getenv("TEST_ID"); testID != "" {
		state.TestID = testID
	}
	if state.Token == "" {
		return fmt.Errorf("no stored token; run `examclient login` first")
	}

	claims, err := token.PeekClaims(state.Token)
	if err != nil {
		return err
	}
	if claims.Expired() {
		st.Clear()
		return fmt.Errorf("stored token expired; run `examclient login` again")
	}
	if state.UserID == "" {
		state.UserID = claims.UserID
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiClient := api.NewClient(cfg.APIBaseURL, state.Token, log)
	notifier := &logNotifier{log: log}

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	socket, err := protocol.Dial(dialCtx, cfg.WSBaseURL, state.Token, state.TestID, state.UserID, log)
	dialCancel()
	if err != nil {
		return err
	}
	defer socket.Close()

	player := &playback.PacedPlayer{Log: log}
	coordinator := playback.NewCoordinator(player, apiClient, socket.State(), cfg.PlaybackFallbackTimeout, log)

	mic := &audio.SineSource{}
	pipeline := audio.NewPipeline(mic, socket, socket.State(), cfg.TargetSampleRate, cfg.ChunkSize, log)

	controller := session.NewController(apiClient, pipeline, coordinator, notifier, log)
	if err := controller.LoadExam(ctx, state.TestID, state.UserID); err != nil {
		if apperr.SeverityOf(apperr.CodeOf(err)) == apperr.SeverityFatal {
			return err
		}
	}
	defer controller.Shutdown()

	// Pre-exam pose verification gates the exam itself. The synthetic
	// camera keeps the runner headless; a UI build swaps in the real one.
	checker := proctor.NewChecker(&proctor.NoiseCamera{}, proctor.StaticClassifier{Match: true}, proctor.VarianceClarity{}, apiClient, log)
	if err := checker.RunSequence(ctx, state.TestID); err != nil {
		return err
	}

	controller.Bind(socket)
	go socket.Run(ctx)

	if err := controller.AttachSocket(socket); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Headless drive loop: stop a recording after a fixed utterance
	// window and confirm manually when the server asks. A real UI wires
	// these to buttons instead.
	recordFor := 3 * time.Second
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var recordingSince time.Time
	for {
		select {
		case sig := <-quit:
			log.Info().Str("signal", sig.String()).Msg("Interrupted, shutting down")
			return nil
		case <-socket.Done():
			snap := controller.Snapshot()
			if snap.Completed {
				printSummary(snap, log)
				return nil
			}
			return fmt.Errorf("connection lost before completion")
		case <-ticker.C:
			snap := controller.Snapshot()
			switch snap.Phase {
			case session.PhaseRecording:
				if recordingSince.IsZero() {
					recordingSince = time.Now()
				} else if time.Since(recordingSince) >= recordFor {
					recordingSince = time.Time{}
					if err := controller.StopRecording(); err != nil {
						log.Warn().Err(err).Msg("Stop recording failed")
					}
				}
			case session.PhaseConfirming:
				recordingSince = time.Time{}
				if snap.Confirmation != nil && snap.Confirmation.Mode == session.ConfirmManual {
					if err := controller.SubmitAnswer(); err != nil {
						log.Warn().Err(err).Msg("Submit failed")
					}
				}
			case session.PhaseCompleted:
				printSummary(snap, log)
				return nil
			default:
				recordingSince = time.Time{}
			}
		}
	}
}

func printSummary(snap session.Snapshot, log zerolog.Logger) {
	log.Info().Int("questions", len(snap.Questions)).Msg("Exam completed")
	for idx, answer := range snap.Summary {
		fmt.Printf("  Q%d: %s\n", idx+1, answer)
	}
}

// logNotifier renders toasts as log lines.
type logNotifier struct {
	log zerolog.Logger
}

func (n *logNotifier) Notify(severity apperr.Severity, message string) {
	switch severity {
	case apperr.SeverityFatal:
		n.log.Error().Msg(message)
	case apperr.SeverityRecording:
		n.log.Warn().Msg(message)
	default:
		n.log.Info().Msg(message)
	}
}
