// Package api is the REST accessor for test metadata, question audio,
// and image verification.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/voxexam-client/internal/apperr"
)

// Test is the metadata returned for one test.
type Test struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Question is one exam prompt. Immutable once loaded.
type Question struct {
	Text string `json:"text"`
}

// VerifyResult is the outcome of one pose-image check.
type VerifyResult struct {
	Passed bool `json:"passed"`
}

// VerifyResponse is the aggregate image-verification outcome.
type VerifyResponse struct {
	Message string         `json:"message"`
	Results []VerifyResult `json:"results"`
}

// envelope matches the server's standard response shape.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the exam REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a Client for the given base URL and bearer token.
func NewClient(baseURL, tokenStr string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   tokenStr,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// GetTest fetches test metadata and its ordered question list.
func (c *Client) GetTest(ctx context.Context, testID string) (*Test, error) {
	var test Test
	if err := c.getJSON(ctx, fmt.Sprintf("/tests/%s", testID), &test); err != nil {
		return nil, err
	}
	return &test, nil
}

// PrefetchQuestionAudio issues a HEAD for a question's narration so the
// server can warm its cache before playback is requested. Failures are
// logged, never surfaced: pre-caching is best effort.
func (c *Client) PrefetchQuestionAudio(ctx context.Context, testID string, n int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.QuestionAudioURL(testID, n), nil)
	if err != nil {
		return
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Int("question", n).Msg("Audio prefetch failed")
		return
	}
	resp.Body.Close()
}

// QuestionAudioURL builds the narration URL for question n (1-based).
func (c *Client) QuestionAudioURL(testID string, n int) string {
	return fmt.Sprintf("%s/tests/%s/question-audio/%d", c.baseURL, testID, n)
}

// FetchAudio downloads an audio stream. Used by the playback
// coordinator for question narration.
func (c *Client) FetchAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.New(apperr.CodeAudioLoadFailed, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.CodeAudioLoadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.CodeAudioLoadFailed, fmt.Errorf("audio fetch status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

// UploadVerificationImage posts one captured pose frame (multipart:
// image blob, position, test_id).
func (c *Client) UploadVerificationImage(ctx context.Context, testID, position string, image []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", fmt.Sprintf("%s.jpg", position))
	if err != nil {
		return apperr.New(apperr.CodeInternal, err)
	}
	if _, err := part.Write(image); err != nil {
		return apperr.New(apperr.CodeInternal, err)
	}
	mw.WriteField("position", position)
	mw.WriteField("test_id", testID)
	if err := mw.Close(); err != nil {
		return apperr.New(apperr.CodeInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tests/upload-image-verification", &body)
	if err != nil {
		return apperr.New(apperr.CodeInternal, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	return c.do(req, nil)
}

// VerifyImages asks the server to evaluate the uploaded pose images.
func (c *Client) VerifyImages(ctx context.Context, testID string) (*VerifyResponse, error) {
	payload, _ := json.Marshal(map[string]string{"test_id": testID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tests/verify-image", bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var out VerifyResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperr.New(apperr.CodeInternal, err)
	}
	c.authorize(req)
	return c.do(req, dst)
}

// do executes the request and decodes the response envelope, mapping
// HTTP failures to the engine error taxonomy. A server-supplied error
// message is preferred over the generic one.
func (c *Client) do(req *http.Request, dst interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.New(apperr.CodeNetworkBlip, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.New(apperr.CodeNetworkBlip, err)
	}

	var env envelope
	serverMsg := ""
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		serverMsg = env.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.New(apperr.CodeTestNotFound, fmt.Errorf("%s: not found", req.URL.Path)).WithServerMessage(serverMsg)
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.New(apperr.CodeSessionExpired, fmt.Errorf("unauthorized")).WithServerMessage(serverMsg)
	case resp.StatusCode >= 400:
		return apperr.New(apperr.CodeNetworkBlip, fmt.Errorf("status %d", resp.StatusCode)).WithServerMessage(serverMsg)
	}

	if dst == nil {
		return nil
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return apperr.New(apperr.CodeInternal, err)
		}
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.New(apperr.CodeInternal, err)
	}
	return nil
}

// Login exchanges candidate credentials for a bearer token.
func (c *Client) Login(ctx context.Context, userID, password string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"user_id": userID, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", apperr.New(apperr.CodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
