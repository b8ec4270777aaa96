package webspeech

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"posecall/internal/domain"
	"posecall/internal/ports"
)

var (
	ErrNoPeer         = errors.New("no speech recognition page is connected")
	ErrAlreadyStarted = errors.New("recognition has already started")
)

// Command types sent to the page.
const (
	CommandStart = "start"
	CommandStop  = "stop"
	CommandAbort = "abort"
)

// Message types received from the page.
const (
	MessageHello  = "hello"
	MessageStart  = "start"
	MessageResult = "result"
	MessageError  = "error"
	MessageEnd    = "end"
)

// Command asks the page to drive its SpeechRecognition object.
type Command struct {
	Type    string                  `json:"type"`
	Command string                  `json:"command"`
	Config  ports.RecognitionConfig `json:"config"`
}

// Message is a SpeechRecognition event relayed by the page. A hello message
// announces whether the page can host recognition at all.
type Message struct {
	Type       string `json:"type"`
	Speech     bool   `json:"speech,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      string `json:"error,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Peer is a page that hosts the browser speech engine.
type Peer interface {
	Send(cmd Command) error
}

// Bridge implements ports.RecognitionService on top of the Web Speech API
// running in a connected page. Only the most recently attached peer is used.
type Bridge struct {
	cfg    ports.RecognitionConfig
	logger *zap.Logger

	mu      sync.Mutex
	peer    Peer
	running bool

	notifications chan domain.Notification
	closed        chan struct{}
	closeOnce     sync.Once
}

func NewBridge(cfg ports.RecognitionConfig, logger *zap.Logger) *Bridge {
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		cfg:           cfg,
		logger:        logger,
		notifications: make(chan domain.Notification, 64),
		closed:        make(chan struct{}),
	}
}

// Attach makes p the recognition host. A session running on a previous
// peer is aborted and reported as ended.
func (b *Bridge) Attach(p Peer) {
	b.mu.Lock()
	previous := b.peer
	wasRunning := b.running
	b.peer = p
	b.running = false
	b.mu.Unlock()

	b.logger.Info("speech recognition page attached")
	if previous != nil && previous != p && wasRunning {
		if err := previous.Send(b.command(CommandAbort)); err != nil {
			b.logger.Debug("abort on replaced page failed", zap.Error(err))
		}
		b.emit(domain.EndNotification())
	}
}

// Detach forgets p. A session running on it ends with a network error.
func (b *Bridge) Detach(p Peer) {
	b.mu.Lock()
	if b.peer != p {
		b.mu.Unlock()
		return
	}
	wasRunning := b.running
	b.peer = nil
	b.running = false
	b.mu.Unlock()

	b.logger.Info("speech recognition page detached", zap.Bool("wasRunning", wasRunning))
	if wasRunning {
		b.emit(domain.ErrorNotification(domain.EngineErrorNetwork, "speech recognition page disconnected"))
		b.emit(domain.EndNotification())
	}
}

// Attached reports whether a recognition host is connected.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peer != nil
}

// Deliver relays an event raised by p's SpeechRecognition object. Events from
// peers other than the attached one are dropped.
func (b *Bridge) Deliver(p Peer, msg Message) {
	b.mu.Lock()
	if b.peer != p {
		b.mu.Unlock()
		b.logger.Debug("dropping event from inactive page", zap.String("type", msg.Type))
		return
	}

	var n domain.Notification
	switch msg.Type {
	case MessageStart:
		b.running = true
		n = domain.StartNotification()
	case MessageResult:
		n = domain.ResultNotification(msg.Transcript)
	case MessageError:
		n = domain.ErrorNotification(msg.Error, msg.Message)
	case MessageEnd:
		b.running = false
		n = domain.EndNotification()
	default:
		b.mu.Unlock()
		b.logger.Debug("ignoring page message", zap.String("type", msg.Type))
		return
	}
	b.mu.Unlock()

	b.emit(n)
}

// Start implements ports.RecognitionService.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.peer == nil {
		return ErrNoPeer
	}
	if b.running {
		return ErrAlreadyStarted
	}
	if err := b.peer.Send(b.command(CommandStart)); err != nil {
		return fmt.Errorf("failed to send start command: %w", err)
	}
	b.running = true
	return nil
}

// Stop implements ports.RecognitionService.
func (b *Bridge) Stop() error {
	return b.sendIfRunning(CommandStop)
}

// Abort implements ports.RecognitionService.
func (b *Bridge) Abort() error {
	return b.sendIfRunning(CommandAbort)
}

// Notifications implements ports.RecognitionService.
func (b *Bridge) Notifications() <-chan domain.Notification {
	return b.notifications
}

// Close stops delivering notifications.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}

func (b *Bridge) sendIfRunning(command string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.peer == nil || !b.running {
		return nil
	}
	if err := b.peer.Send(b.command(command)); err != nil {
		return fmt.Errorf("failed to send %s command: %w", command, err)
	}
	return nil
}

func (b *Bridge) command(name string) Command {
	return Command{Type: "command", Command: name, Config: b.cfg}
}

func (b *Bridge) emit(n domain.Notification) {
	select {
	case b.notifications <- n:
	case <-b.closed:
	}
}
