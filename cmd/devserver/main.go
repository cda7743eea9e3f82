package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/voxexam-client/internal/config"
	"github.com/stemsi/voxexam-client/internal/devserver"
	"github.com/stemsi/voxexam-client/internal/logger"
)

func main() {
	cfg := config.LoadServer()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Msg("Starting VoxExam dev server")

	storage, err := devserver.OpenStorage(cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer storage.Close()

	if err := seed(storage, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Seed failed")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: devserver.NewServer(cfg, storage, log).Router(),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// seed installs a demo candidate and test so a freshly started server is
// immediately usable.
func seed(storage *devserver.Storage, cfg *config.ServerConfig, log zerolog.Logger) error {
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), cfg.BcryptCost)
	if err != nil {
		return err
	}
	if err := storage.CreateCandidate(ctx, "demo-candidate", "Demo Candidate", string(hash)); err != nil {
		return err
	}

	if err := storage.SeedTest(ctx, devserver.StoredTest{
		ID:    "demo-test",
		Title: "Demo Voice Interview",
		Questions: []string{
			"Tell me about yourself and your background.",
			"Describe a project you are proud of.",
			"What would you improve about your last team's process?",
		},
	}); err != nil {
		return err
	}

	log.Info().Str("test_id", "demo-test").Str("user_id", "demo-candidate").Msg("Demo data seeded")
	return nil
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
