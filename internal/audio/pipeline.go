// Package audio turns captured microphone input into the chunked 16-bit
// PCM stream the server-side speech pipeline expects. The pipeline owns
// the capture source exclusively: callers only start and stop it, they
// never touch raw audio buffers.
package audio

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/voxexam-client/internal/apperr"
)

// ErrPermissionDenied is returned by capture sources when the user
// declines microphone access. Recoverable, not fatal to the session.
var ErrPermissionDenied = errors.New("microphone permission denied")

// CaptureSource produces mono floating-point sample frames. Real
// implementations are expected to apply echo cancellation and noise
// suppression before handing frames over.
type CaptureSource interface {
	// Start begins capture and returns the frame channel plus the
	// actual capture sample rate. The channel is closed when capture
	// ends.
	Start(ctx context.Context) (frames <-chan []float32, sampleRate int, err error)
	// Stop releases the underlying device. Must be idempotent.
	Stop() error
}

// Sink receives encoded PCM frames. Implemented by the protocol client.
type Sink interface {
	SendAudio(pcm []byte) error
}

// Guard gates transmission to the open recording window. Implemented by
// the protocol connection state.
type Guard interface {
	CanSendAudio() bool
}

// Pipeline streams decimated, PCM-encoded capture frames to a sink while
// the guard holds. Start and Stop are idempotent; Stop releases the
// source synchronously on every exit path.
type Pipeline struct {
	source     CaptureSource
	sink       Sink
	guard      Guard
	targetRate int
	chunkSize  int
	log        zerolog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPipeline wires a capture source to a sink with the given target
// sample rate and per-frame chunk size (in samples).
func NewPipeline(source CaptureSource, sink Sink, guard Guard, targetRate, chunkSize int, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		source:     source,
		sink:       sink,
		guard:      guard,
		targetRate: targetRate,
		chunkSize:  chunkSize,
		log:        log.With().Str("component", "audio_pipeline").Logger(),
	}
}

// Start acquires the capture source and begins pumping frames. Calling
// Start while already running is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	frames, rate, err := p.source.Start(pumpCtx)
	if err != nil {
		cancel()
		if errors.Is(err, ErrPermissionDenied) {
			return apperr.New(apperr.CodePermissionDenied, err)
		}
		return apperr.New(apperr.CodeInternal, err)
	}

	ratio := DecimationRatio(rate, p.targetRate)
	p.log.Info().
		Int("capture_rate", rate).
		Int("target_rate", p.targetRate).
		Int("ratio", ratio).
		Msg("Capture started")

	p.cancel = cancel
	p.running = true
	p.wg.Add(1)
	go p.pump(frames, ratio)

	return nil
}

// pump accumulates decimated samples and ships full chunks. The guard is
// checked at send time: frames captured outside the recording window are
// discarded, never transmitted.
func (p *Pipeline) pump(frames <-chan []float32, ratio int) {
	defer p.wg.Done()

	buf := make([]float32, 0, p.chunkSize)
	for frame := range frames {
		buf = append(buf, Decimate(frame, ratio)...)
		for len(buf) >= p.chunkSize {
			chunk := buf[:p.chunkSize]
			buf = buf[p.chunkSize:]
			if !p.guard.CanSendAudio() {
				continue
			}
			if err := p.sink.SendAudio(EncodePCM16LE(chunk)); err != nil {
				p.log.Error().Err(err).Msg("Audio send failed")
				return
			}
		}
	}
}

// Stop cancels the pump, releases the capture source, and waits for the
// pump goroutine to exit. Calling Stop when not started is a no-op, not
// an error.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	err := p.source.Stop()
	p.wg.Wait()

	p.log.Info().Msg("Capture stopped")
	return err
}

// Running reports whether the pipeline currently owns the source.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// ─── Sample math ────────────────────────────────────────────────────

// DecimationRatio computes the nearest-integer downsampling ratio from
// the actual capture rate, never less than 1. Computing it per device
// avoids under/over-sampling on hardware that does not capture at 48 kHz.
func DecimationRatio(captureRate, targetRate int) int {
	if targetRate <= 0 || captureRate <= targetRate {
		return 1
	}
	ratio := (captureRate + targetRate/2) / targetRate
	if ratio < 1 {
		return 1
	}
	return ratio
}

// Decimate selects every ratio-th sample. Plain nearest-sample selection
// aliases slightly, which the speech recognizer downstream tolerates; an
// anti-aliasing filter is not worth the latency here.
func Decimate(samples []float32, ratio int) []float32 {
	if ratio <= 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
	out := make([]float32, 0, (len(samples)+ratio-1)/ratio)
	for i := 0; i < len(samples); i += ratio {
		out = append(out, samples[i])
	}
	return out
}

// EncodePCM16LE converts floating-point samples in [-1, 1] to 16-bit
// signed little-endian PCM, clamping out-of-range values.
func EncodePCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7fff)
		}
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
