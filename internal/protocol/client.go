package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/voxexam-client/internal/apperr"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 5 * time.Minute
)

// EventHandler consumes the decoded payload of one inbound event.
type EventHandler func(data json.RawMessage)

// Client is the exam channel socket client: one persistent connection
// per exam session, authenticated via bearer token and context
// identifiers passed at connect time. Inbound events are routed through
// a typed dispatch table; outbound actions and binary audio frames go
// through write helpers guarded by a single mutex.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	state   *ConnState
	log     zerolog.Logger

	handlerMu sync.RWMutex
	handlers  map[Event]EventHandler

	// onDisconnect fires once when the read loop exits.
	onDisconnect func(err error)
	closeOnce    sync.Once
	done         chan struct{}
}

// Dial connects to the exam channel. The token and exam identifiers ride
// as query parameters since browsers cannot set headers on WebSocket
// upgrades and the server accepts the same form from native clients.
func Dial(ctx context.Context, baseURL, tokenStr, testID, userID string, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, apperr.New(apperr.CodeConnectionFailed, err)
	}
	u.Path += "/exam/stream"
	q := u.Query()
	q.Set("token", tokenStr)
	q.Set("test_id", testID)
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, apperr.New(apperr.CodeConnectionFailed, fmt.Errorf("dial %s: %w", u.Host, err))
	}

	c := &Client{
		conn:     conn,
		state:    &ConnState{},
		log:      log.With().Str("component", "protocol_client").Logger(),
		handlers: make(map[Event]EventHandler),
		done:     make(chan struct{}),
	}
	c.state.setConnected(true)
	return c, nil
}

// State exposes the connection flags (read-only for callers; mutation
// happens inside the read loop and the playback coordinator).
func (c *Client) State() *ConnState { return c.state }

// On registers the handler for an inbound event, replacing any previous
// one. Registration must complete before Run is started.
func (c *Client) On(ev Event, h EventHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[ev] = h
}

// OnDisconnect registers a callback fired exactly once when the read
// loop exits, with the terminal error (nil on clean close).
func (c *Client) OnDisconnect(fn func(err error)) {
	c.onDisconnect = fn
}

// Run consumes inbound messages until the connection dies or ctx is
// cancelled. Call in a goroutine.
func (c *Client) Run(ctx context.Context) {
	defer c.teardown(nil)

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()

	for {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				c.log.Debug().Msg("Connection closed")
			}
			c.teardown(err)
			return
		}

		if msgType != websocket.TextMessage {
			c.log.Warn().Int("type", msgType).Msg("Ignoring non-text inbound frame")
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("Malformed envelope")
			continue
		}

		c.dispatch(env)
	}
}

// dispatch updates connection flags for lifecycle events, then hands the
// payload to the registered handler. Guard toggling happens here, before
// delegation, so the canSendAudio window is correct even if a handler
// panics or runs slowly.
func (c *Client) dispatch(env Envelope) {
	switch env.Event {
	case EventRecordingStarted:
		c.state.openAudioWindow()
		c.state.setListening(true)
	case EventRecordingStopped:
		c.state.closeAudioWindow()
		c.state.setListening(false)
	case EventEngineDisconnected:
		c.state.closeAudioWindow()
		c.state.setListening(false)
	}

	c.handlerMu.RLock()
	h, ok := c.handlers[env.Event]
	c.handlerMu.RUnlock()
	if !ok {
		c.log.Warn().Str("event", string(env.Event)).Msg("Unknown event")
		return
	}
	h(env.Data)
}

// teardown closes the audio window and the connection, then notifies the
// disconnect callback. Safe to call multiple times.
func (c *Client) teardown(err error) {
	c.closeOnce.Do(func() {
		c.state.closeAudioWindow()
		c.state.setListening(false)
		c.state.setConnected(false)
		c.conn.Close()
		close(c.done)
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
	})
}

// Close tears the connection down. Idempotent.
func (c *Client) Close() error {
	c.teardown(nil)
	return nil
}

// Done is closed when the read loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// ─── Outbound ───────────────────────────────────────────────────────

func (c *Client) send(req Request) error {
	if !c.state.Connected() {
		return apperr.New(apperr.CodeSocketClosed, fmt.Errorf("send %s on closed connection", req.Action))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return apperr.New(apperr.CodeSocketClosed, err)
	}
	return nil
}

// StartTest asks the server to begin the exam session.
func (c *Client) StartTest() error {
	return c.send(Request{Action: ActionStartTest})
}

// Navigate delegates question navigation to the server so per-question
// server state (existing answers) stays authoritative.
func (c *Client) Navigate(index int) error {
	return c.send(Request{Action: ActionNavigate, QuestionIndex: index})
}

// StartRecording requests a recording window. Audio may only flow after
// the server answers with recording-started.
func (c *Client) StartRecording() error {
	return c.send(Request{Action: ActionStartRecording})
}

// StopRecording closes the local audio window immediately, then asks the
// server to close its recording window. Closing locally first means no
// further frames leave the client while the round trip is in flight.
func (c *Client) StopRecording() error {
	c.state.closeAudioWindow()
	return c.send(Request{Action: ActionStopRecording})
}

// SubmitAnswer sends the transcript for the given question.
func (c *Client) SubmitAnswer(index int, transcript string) error {
	return c.send(Request{Action: ActionSubmitAnswer, QuestionIndex: index, Answer: transcript})
}

// Reanswer asks the server to discard the draft and re-open the
// recording slot for the current question.
func (c *Client) Reanswer() error {
	return c.send(Request{Action: ActionReanswer})
}

// StartSTT signals that prompt playback finished and the server may open
// the next listening window.
func (c *Client) StartSTT() error {
	return c.send(Request{Action: ActionStartSTT})
}

// SendAudio transmits one raw PCM frame. Frames offered outside the
// recording window are dropped, not errors: a chunk can already be in
// flight from the capture callback when recording-stopped lands.
func (c *Client) SendAudio(pcm []byte) error {
	if !c.state.CanSendAudio() {
		c.log.Debug().Int("bytes", len(pcm)).Msg("Dropping audio frame outside recording window")
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		return apperr.New(apperr.CodeSocketClosed, err)
	}
	return nil
}
