package domain

// SessionState models the continuous-listening lifecycle.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateListening SessionState = "listening"
	SessionStateError     SessionState = "error"
)

// ErrorKind classifies a surfaced error or status message.
type ErrorKind string

const (
	ErrorKindServiceUnavailable ErrorKind = "service_unavailable"
	ErrorKindStartRejected      ErrorKind = "start_rejected"
	ErrorKindTransient          ErrorKind = "transient_warning"
	ErrorKindNoMatch            ErrorKind = "no_match"
)

// Recognition engine error codes, as raised by the Web Speech API.
const (
	EngineErrorNoSpeech             = "no-speech"
	EngineErrorAborted              = "aborted"
	EngineErrorAudioCapture         = "audio-capture"
	EngineErrorNetwork              = "network"
	EngineErrorNotAllowed           = "not-allowed"
	EngineErrorServiceNotAllowed    = "service-not-allowed"
	EngineErrorBadGrammar           = "bad-grammar"
	EngineErrorLanguageNotSupported = "language-not-supported"
)

// ErrorInfo is the most recent error or status message shown to the user.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
}

// Recoverable reports whether the message clears itself once listening resumes.
func (e *ErrorInfo) Recoverable() bool {
	if e == nil {
		return true
	}
	return e.Kind == ErrorKindTransient || e.Kind == ErrorKindNoMatch
}

// PoseEntry is one catalog pose with the phrases that select it.
type PoseEntry struct {
	ID           string   `json:"id" yaml:"id"`
	MatchPhrases []string `json:"matchPhrases" yaml:"phrases"`
	DisplayLabel string   `json:"displayLabel" yaml:"label"`
	ImageKey     string   `json:"imageKey" yaml:"image"`
}

// LastResult holds the outcome of the latest utterance or error.
type LastResult struct {
	Transcript  string     `json:"transcript"`
	MatchedPose *PoseEntry `json:"matchedPose,omitempty"`
	Error       *ErrorInfo `json:"error,omitempty"`
}

// Snapshot is a read-only copy of controller state for presentation.
type Snapshot struct {
	SessionID        string       `json:"sessionId,omitempty"`
	State            SessionState `json:"state"`
	ServiceAvailable bool         `json:"serviceAvailable"`
	LastResult       LastResult   `json:"lastResult"`
	DisplayedPose    *PoseEntry   `json:"displayedPose,omitempty"`
	RestartPending   bool         `json:"restartPending"`
}

// Listening reports whether the session is actively requesting audio.
func (s Snapshot) Listening() bool {
	return s.State == SessionStateListening
}

// NotificationKind identifies a recognition engine notification.
type NotificationKind string

const (
	NotificationStart  NotificationKind = "start"
	NotificationResult NotificationKind = "result"
	NotificationError  NotificationKind = "error"
	NotificationEnd    NotificationKind = "end"
)

// Notification is one asynchronous event raised by a recognition engine.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	Transcript string           `json:"transcript,omitempty"`
	ErrorCode  string           `json:"error,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// StartNotification and friends build notifications for engines and tests.
func StartNotification() Notification { return Notification{Kind: NotificationStart} }

func ResultNotification(transcript string) Notification {
	return Notification{Kind: NotificationResult, Transcript: transcript}
}

func ErrorNotification(code string, message string) Notification {
	return Notification{Kind: NotificationError, ErrorCode: code, Message: message}
}

func EndNotification() Notification { return Notification{Kind: NotificationEnd} }

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a streaming provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}
