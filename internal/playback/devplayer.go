package playback

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PacedPlayer is a headless Player: it renders nothing but blocks for a
// duration proportional to the prompt, which keeps the session's
// playback-then-listen handoff realistic without audio hardware.
type PacedPlayer struct {
	// BytesPerSecond models audio playback speed. Zero means 32000
	// (16-bit mono at 16 kHz).
	BytesPerSecond int
	// CharsPerSecond models synthesized speech speed. Zero means 15.
	CharsPerSecond int
	Log            zerolog.Logger
}

func (p *PacedPlayer) Play(ctx context.Context, audio []byte) error {
	bps := p.BytesPerSecond
	if bps == 0 {
		bps = 32000
	}
	return p.wait(ctx, time.Duration(float64(len(audio))/float64(bps)*float64(time.Second)))
}

func (p *PacedPlayer) Speak(ctx context.Context, text string) error {
	cps := p.CharsPerSecond
	if cps == 0 {
		cps = 15
	}
	p.Log.Debug().Str("text", text).Msg("Speaking")
	return p.wait(ctx, time.Duration(float64(len(text))/float64(cps)*float64(time.Second)))
}

func (p *PacedPlayer) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
