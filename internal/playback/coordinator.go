// Package playback serializes spoken prompts — question narration,
// confirmation prompts, AI conversational replies — so that at most one
// plays at a time, and hands control back only after the audio has fully
// ended. That handoff is what keeps the microphone from transcribing the
// system's own speech.
package playback

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Player renders audio to the user. Play blocks until playback ends.
// Speak is the synthesized-speech fallback used when a prompt carries no
// audio payload.
type Player interface {
	Play(ctx context.Context, audio []byte) error
	Speak(ctx context.Context, text string) error
}

// Fetcher resolves question-audio URLs to bytes. Implemented by the REST
// accessor.
type Fetcher interface {
	FetchAudio(ctx context.Context, url string) ([]byte, error)
}

// Indicator mirrors the playing flag into the shared connection state.
type Indicator interface {
	SetTTSPlaying(v bool)
}

// Source is one prompt to speak: a fetchable URL, inline audio bytes, or
// plain text for synthesis, in that order of preference.
type Source struct {
	URL   string
	Audio []byte
	Text  string
}

// Coordinator enforces single-flight playback with a bounded fallback
// timeout so a missing end-of-audio signal can never stall the session.
type Coordinator struct {
	player    Player
	fetcher   Fetcher
	indicator Indicator
	fallback  time.Duration
	log       zerolog.Logger

	busy atomic.Bool
}

// NewCoordinator creates a Coordinator. fallback bounds every playback;
// zero means 30 seconds.
func NewCoordinator(player Player, fetcher Fetcher, indicator Indicator, fallback time.Duration, log zerolog.Logger) *Coordinator {
	if fallback <= 0 {
		fallback = 30 * time.Second
	}
	return &Coordinator{
		player:    player,
		fetcher:   fetcher,
		indicator: indicator,
		fallback:  fallback,
		log:       log.With().Str("component", "playback").Logger(),
	}
}

// Busy reports whether a prompt is currently playing.
func (c *Coordinator) Busy() bool { return c.busy.Load() }

// Play speaks one prompt and then invokes after, which opens the next
// listening window. Overlapping triggers are suppressed: if playback is
// already in progress the call is dropped (returning false) and after is
// not invoked — duplicate tts events from the server must not
// double-play audio. Playback errors are logged, not propagated; after
// runs regardless so the session keeps moving.
func (c *Coordinator) Play(ctx context.Context, src Source, after func()) bool {
	if !c.busy.CompareAndSwap(false, true) {
		// The server can emit a tts event while ai-conversation audio
		// is still playing; the duplicate must be suppressed here.
		c.log.Debug().Msg("Playback already in progress, dropping trigger")
		return false
	}
	defer c.busy.Store(false)

	c.indicator.SetTTSPlaying(true)
	defer c.indicator.SetTTSPlaying(false)

	playCtx, cancel := context.WithTimeout(ctx, c.fallback)
	defer cancel()

	if err := c.render(playCtx, src); err != nil {
		c.log.Warn().Err(err).Msg("Playback failed, continuing anyway")
	}

	if after != nil {
		after()
	}
	return true
}

func (c *Coordinator) render(ctx context.Context, src Source) error {
	switch {
	case src.URL != "":
		audio, err := c.fetcher.FetchAudio(ctx, src.URL)
		if err != nil {
			// Fall back to synthesis when the narration file is
			// unavailable but we know the text.
			if src.Text != "" {
				return c.player.Speak(ctx, src.Text)
			}
			return err
		}
		return c.player.Play(ctx, audio)
	case len(src.Audio) > 0:
		return c.player.Play(ctx, src.Audio)
	default:
		return c.player.Speak(ctx, src.Text)
	}
}
