// Package devserver is a development stand-in for the production exam
// backend: it implements the REST and WebSocket contracts the client
// engine consumes, with a scripted speech pipeline instead of real
// STT/TTS. The e2e suite runs the client against it.
package devserver

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/voxexam-client/internal/config"
	"github.com/stemsi/voxexam-client/internal/token"
)

// Server bundles the devserver's router and dependencies.
type Server struct {
	cfg     *config.ServerConfig
	storage *Storage
	log     zerolog.Logger
	router  *gin.Engine
}

// NewServer builds the router with all routes registered.
func NewServer(cfg *config.ServerConfig, storage *Storage, log zerolog.Logger) *Server {
	gin.SetMode(cfg.GinMode)

	s := &Server{
		cfg:     cfg,
		storage: storage,
		log:     log.With().Str("component", "devserver").Logger(),
	}

	SetupValidator()

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		respond(c, http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api/v1")
	{
		apiGroup.POST("/auth/login", s.handleLogin)

		authed := apiGroup.Group("")
		authed.Use(s.requireCandidate())
		{
			authed.GET("/tests/:id", s.handleGetTest)
			authed.HEAD("/tests/:id/question-audio/:n", s.handleQuestionAudioHead)
			authed.GET("/tests/:id/question-audio/:n", s.handleQuestionAudio)
			authed.POST("/tests/upload-image-verification", s.handleUploadImage)
			authed.POST("/tests/verify-image", s.handleVerifyImage)
		}
	}

	wsGroup := router.Group("/ws/v1")
	wsGroup.Use(s.requireCandidateWS())
	{
		wsGroup.GET("/exam/stream", s.handleExamStream)
	}

	s.router = router
	return s
}

// Router exposes the underlying engine for http.Server and tests.
func (s *Server) Router() *gin.Engine { return s.router }

// ─── Auth ───────────────────────────────────────────────────────────

type loginRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if fields := Bind(c, &req); fields != nil {
		failWithFields(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed.", fields)
		return
	}

	hash, err := s.storage.CandidateHash(c.Request.Context(), req.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			fail(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Unknown user or wrong password.")
			return
		}
		s.log.Error().Err(err).Msg("Candidate lookup failed")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error.")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		fail(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Unknown user or wrong password.")
		return
	}

	signed, err := token.Sign(s.cfg.JWTSecret, token.RoleCandidate, req.UserID, s.cfg.JWTExpiry)
	if err != nil {
		s.log.Error().Err(err).Msg("Token signing failed")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error.")
		return
	}

	respond(c, http.StatusOK, gin.H{"token": signed, "role": string(token.RoleCandidate)})
}

const contextKeyClaims = "claims"

func (s *Server) requireCandidate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			abortFail(c, http.StatusUnauthorized, "TOKEN_REQUIRED", "Authentication token required.")
			return
		}
		claims, err := token.Validate(s.cfg.JWTSecret, tokenStr)
		if err != nil || claims.Role != token.RoleCandidate {
			abortFail(c, http.StatusUnauthorized, "TOKEN_INVALID", "Authentication token invalid.")
			return
		}
		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// requireCandidateWS validates the ?token= query param used by
// WebSocket upgrade requests, which cannot carry headers.
func (s *Server) requireCandidateWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			abortFail(c, http.StatusUnauthorized, "TOKEN_REQUIRED", "Authentication token required.")
			return
		}
		claims, err := token.Validate(s.cfg.JWTSecret, tokenStr)
		if err != nil || claims.Role != token.RoleCandidate {
			abortFail(c, http.StatusUnauthorized, "TOKEN_INVALID", "Authentication token invalid.")
			return
		}
		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *token.Claims {
	val, ok := c.Get(contextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := val.(*token.Claims)
	return claims
}

func bearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return c.Query("token")
}

// ─── Tests ──────────────────────────────────────────────────────────

func (s *Server) handleGetTest(c *gin.Context) {
	t, err := s.storage.GetTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			fail(c, http.StatusNotFound, "NOT_FOUND", "Test not found.")
			return
		}
		s.log.Error().Err(err).Msg("Test lookup failed")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error.")
		return
	}

	questions := make([]gin.H, len(t.Questions))
	for i, q := range t.Questions {
		questions[i] = gin.H{"text": q}
	}
	respond(c, http.StatusOK, gin.H{"id": t.ID, "title": t.Title, "questions": questions})
}

func (s *Server) audioPath(testID string, n int) string {
	return filepath.Join(s.cfg.AudioDir, fmt.Sprintf("%s-q%d.wav", testID, n))
}

func (s *Server) handleQuestionAudioHead(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(s.audioPath(c.Param("id"), n)); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleQuestionAudio(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid question number.")
		return
	}
	path := s.audioPath(c.Param("id"), n)
	if _, err := os.Stat(path); err != nil {
		fail(c, http.StatusNotFound, "NOT_FOUND", "No narration for this question.")
		return
	}
	c.File(path)
}

// ─── Image verification ─────────────────────────────────────────────

func (s *Server) handleUploadImage(c *gin.Context) {
	claims := claimsFrom(c)
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		fail(c, http.StatusBadRequest, "FILE_REQUIRED", "Image file required.")
		return
	}
	defer file.Close()

	position := c.PostForm("position")
	testID := c.PostForm("test_id")
	if position == "" || testID == "" {
		fail(c, http.StatusBadRequest, "INVALID_PAYLOAD", "position and test_id are required.")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		fail(c, http.StatusBadRequest, "INVALID_PAYLOAD", "Unreadable image upload.")
		return
	}

	if err := s.storage.SavePoseImage(c.Request.Context(), testID, claims.UserID, position, data); err != nil {
		s.log.Error().Err(err).Msg("Pose image save failed")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error.")
		return
	}
	respond(c, http.StatusOK, gin.H{"status": "uploaded", "position": position})
}

type verifyRequest struct {
	TestID string `json:"test_id" binding:"required"`
}

func (s *Server) handleVerifyImage(c *gin.Context) {
	claims := claimsFrom(c)
	var req verifyRequest
	if fields := Bind(c, &req); fields != nil {
		failWithFields(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed.", fields)
		return
	}

	n, err := s.storage.CountPoseImages(c.Request.Context(), req.TestID, claims.UserID)
	if err != nil {
		s.log.Error().Err(err).Msg("Pose image count failed")
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error.")
		return
	}

	// Dev policy: every uploaded pose passes; missing poses fail.
	results := make([]gin.H, 0, 3)
	for i := 0; i < 3; i++ {
		results = append(results, gin.H{"passed": i < n})
	}
	msg := "Verification passed."
	if n < 3 {
		msg = "Not all poses were uploaded."
	}
	respond(c, http.StatusOK, gin.H{"message": msg, "results": results})
}

// ─── Response envelope ──────────────────────────────────────────────

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"data": data, "metadata": gin.H{"timestamp": time.Now().Format(time.RFC3339)}})
}

func fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"data": nil, "error": errorBody{Code: code, Message: message}})
}

func failWithFields(c *gin.Context, status int, code, message string, fields map[string]string) {
	c.JSON(status, gin.H{"data": nil, "error": errorBody{Code: code, Message: message, Fields: fields}})
}

func abortFail(c *gin.Context, status int, code, message string) {
	fail(c, status, code, message)
	c.Abort()
}
