package audio

import (
	"context"
	"math"
	"sync"
	"time"
)

// SineSource is a synthetic capture source producing a steady tone. It
// stands in for a real microphone in the headless runner and the e2e
// suite, where no audio hardware exists.
type SineSource struct {
	// Rate is the emulated capture rate. Defaults to 48000.
	Rate int
	// Freq is the tone frequency in Hz. Defaults to 440.
	Freq float64
	// FrameSize is samples per emitted frame. Defaults to 1024.
	FrameSize int

	mu      sync.Mutex
	stop    context.CancelFunc
	stopped sync.WaitGroup
}

// Start begins emitting frames at roughly real-time pacing.
func (s *SineSource) Start(ctx context.Context) (<-chan []float32, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := s.Rate
	if rate == 0 {
		rate = 48000
	}
	freq := s.Freq
	if freq == 0 {
		freq = 440
	}
	frameSize := s.FrameSize
	if frameSize == 0 {
		frameSize = 1024
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel

	out := make(chan []float32)
	interval := time.Duration(float64(frameSize) / float64(rate) * float64(time.Second))

	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var phase float64
		step := 2 * math.Pi * freq / float64(rate)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				frame := make([]float32, frameSize)
				for i := range frame {
					frame[i] = float32(0.3 * math.Sin(phase))
					phase += step
				}
				select {
				case out <- frame:
				case <-runCtx.Done():
					return
				}
			}
		}
	}()

	return out, rate, nil
}

// Stop halts frame emission. Idempotent.
func (s *SineSource) Stop() error {
	s.mu.Lock()
	cancel := s.stop
	s.stop = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.stopped.Wait()
	}
	return nil
}

// SliceSource replays a fixed sample buffer once, frame by frame, then
// closes its channel. Used in tests to drive the pipeline with known
// input.
type SliceSource struct {
	Samples   []float32
	Rate      int
	FrameSize int

	mu      sync.Mutex
	stop    context.CancelFunc
	stopped sync.WaitGroup
}

// Start emits the configured samples as fast as the consumer accepts.
func (s *SliceSource) Start(ctx context.Context) (<-chan []float32, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate := s.Rate
	if rate == 0 {
		rate = 48000
	}
	frameSize := s.FrameSize
	if frameSize == 0 {
		frameSize = 1024
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel

	out := make(chan []float32)
	samples := s.Samples

	s.stopped.Add(1)
	go func() {
		defer s.stopped.Done()
		defer close(out)
		for off := 0; off < len(samples); off += frameSize {
			end := off + frameSize
			if end > len(samples) {
				end = len(samples)
			}
			frame := make([]float32, end-off)
			copy(frame, samples[off:end])
			select {
			case out <- frame:
			case <-runCtx.Done():
				return
			}
		}
	}()

	return out, rate, nil
}

// Stop halts replay. Idempotent.
func (s *SliceSource) Stop() error {
	s.mu.Lock()
	cancel := s.stop
	s.stop = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.stopped.Wait()
	}
	return nil
}
