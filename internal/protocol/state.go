package protocol

import "sync/atomic"

// ConnState tracks the socket session plus audio pipeline status. The
// flags are read from audio-processing callbacks and written from socket
// event handlers, so each is individually atomic.
type ConnState struct {
	connected    atomic.Bool
	listening    atomic.Bool
	canSendAudio atomic.Bool
	ttsPlaying   atomic.Bool
}

// Connected reports whether the socket session is up.
func (s *ConnState) Connected() bool { return s.connected.Load() }

// Listening reports whether the server is actively streaming STT.
func (s *ConnState) Listening() bool { return s.listening.Load() }

// CanSendAudio reports whether the recording window is open. Audio
// frames must never leave the client while this is false: sending before
// the server acknowledges readiness corrupts its speech-recognition
// session.
func (s *ConnState) CanSendAudio() bool { return s.canSendAudio.Load() }

// TTSPlaying reports whether a prompt is currently being spoken.
func (s *ConnState) TTSPlaying() bool { return s.ttsPlaying.Load() }

func (s *ConnState) setConnected(v bool) { s.connected.Store(v) }

func (s *ConnState) setListening(v bool) { s.listening.Store(v) }

// openAudioWindow is called on recording-started.
func (s *ConnState) openAudioWindow() { s.canSendAudio.Store(true) }

// closeAudioWindow is called on recording-stopped, engine disconnect,
// and socket teardown.
func (s *ConnState) closeAudioWindow() { s.canSendAudio.Store(false) }

// SetTTSPlaying toggles the playback indicator. Owned by the playback
// coordinator.
func (s *ConnState) SetTTSPlaying(v bool) { s.ttsPlaying.Store(v) }
