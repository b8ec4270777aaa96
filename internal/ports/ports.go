package ports

import (
	"context"
	"io"
	"time"

	"posecall/internal/domain"
)

// RecognitionConfig describes how a recognition engine should listen.
type RecognitionConfig struct {
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interimResults"`
	Language       string `json:"lang"`
}

// DefaultRecognitionConfig is continuous, final-results-only, US English.
func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{Continuous: true, InterimResults: false, Language: "en-US"}
}

// RecognitionService is an external speech engine with a single session handle.
// Start returns an error when the engine refuses synchronously (for example
// when a session is already running). All other outcomes arrive as
// notifications, in the order the engine raises them.
type RecognitionService interface {
	Start() error
	Stop() error
	Abort() error
	Notifications() <-chan domain.Notification
}

// Scheduler runs f once after d. The returned cancel reports whether it
// stopped the callback before it fired.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func() bool)
}

// PhraseMatcher resolves an utterance to a catalog pose.
type PhraseMatcher interface {
	Match(utterance string) (domain.PoseEntry, bool)
}

// Normalizer rewrites an utterance before matching.
type Normalizer interface {
	Apply(text string) (string, error)
}

// EventSink receives a snapshot after every controller change. Sinks are
// called with the controller lock held and must not call back into it
// synchronously.
type EventSink interface {
	SnapshotChanged(snapshot domain.Snapshot)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	Language       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}
