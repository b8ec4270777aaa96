package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"posecall/internal/domain"
	"posecall/internal/ports"
)

var (
	ErrServiceUnavailable = errors.New("speech recognition service unavailable")
	ErrStartRejected      = errors.New("speech recognition start rejected")
	ErrControllerClosed   = errors.New("listening controller is closed")
)

const DefaultRestartDelay = 500 * time.Millisecond

// Config controls listening-session behavior.
type Config struct {
	RestartDelay time.Duration
	// ExampleLabel names a known pose in no-match messages.
	ExampleLabel string
}

type pendingRestart struct {
	generation uint64
	cancel     func() bool
}

// ListeningController owns one continuous recognition session: it starts and
// stops the engine, folds engine notifications into session state, restarts
// after unexpected ends and feeds finalized utterances to the matcher.
type ListeningController struct {
	service    ports.RecognitionService
	matcher    ports.PhraseMatcher
	normalizer ports.Normalizer
	scheduler  ports.Scheduler
	events     ports.EventSink
	logger     *zap.Logger
	cfg        Config

	mu              sync.Mutex
	state           domain.SessionState
	sessionID       string
	available       bool
	manuallyStopped bool
	closed          bool
	pending         *pendingRestart
	generation      uint64
	last            domain.LastResult
	displayed       *domain.PoseEntry

	done chan struct{}
}

// NewListeningController builds an idle controller. A nil service means the
// platform has no speech recognition; the controller then reports itself
// unavailable. normalizer may be nil.
func NewListeningController(
	service ports.RecognitionService,
	matcher ports.PhraseMatcher,
	normalizer ports.Normalizer,
	scheduler ports.Scheduler,
	events ports.EventSink,
	logger *zap.Logger,
	cfg Config,
) *ListeningController {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.ExampleLabel == "" {
		cfg.ExampleLabel = "a known pose"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &ListeningController{
		service:         service,
		matcher:         matcher,
		normalizer:      normalizer,
		scheduler:       scheduler,
		events:          events,
		logger:          logger,
		cfg:             cfg,
		state:           domain.SessionStateIdle,
		available:       service != nil,
		manuallyStopped: true,
		done:            make(chan struct{}),
	}
	if service == nil {
		c.state = domain.SessionStateError
		c.last.Error = &domain.ErrorInfo{
			Kind:    domain.ErrorKindServiceUnavailable,
			Message: "Speech recognition is not supported on this platform.",
		}
	}
	return c
}

// Start handles a user request to begin listening.
func (c *ListeningController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}
	if !c.available {
		c.setError(domain.ErrorKindServiceUnavailable, "", "Speech recognition not available or permission denied. Cannot change state.")
		c.publish()
		return ErrServiceUnavailable
	}

	// A user start supersedes any restart left by an earlier unexpected end.
	c.cancelPending()
	c.manuallyStopped = false
	if err := c.startLocked(); err != nil {
		c.publish()
		return err
	}
	c.last = domain.LastResult{}
	c.displayed = nil
	c.publish()
	return nil
}

// Stop handles a user request to stop listening. Calling it while already
// idle with nothing pending has no effect.
func (c *ListeningController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}
	if c.manuallyStopped && c.pending == nil && c.state != domain.SessionStateListening {
		return nil
	}

	c.manuallyStopped = true
	c.cancelPending()

	if c.state == domain.SessionStateError {
		c.publish()
		return nil
	}

	if err := c.service.Stop(); err != nil {
		c.logger.Warn("recognition stop failed", zap.String("sessionID", c.sessionID), zap.Error(err))
	}
	c.state = domain.SessionStateIdle
	if !c.available {
		c.state = domain.SessionStateError
	}
	c.logger.Info("listening stopped by user", zap.String("sessionID", c.sessionID))
	c.publish()
	return nil
}

// Reenable marks the service usable again after an external fix, such as a
// microphone permission grant. It does not start listening.
func (c *ListeningController) Reenable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrControllerClosed
	}
	if c.service == nil {
		return ErrServiceUnavailable
	}
	if c.available && c.state != domain.SessionStateError {
		return nil
	}

	c.available = true
	c.manuallyStopped = true
	c.state = domain.SessionStateIdle
	c.last.Error = nil
	c.logger.Info("recognition service re-enabled")
	c.publish()
	return nil
}

// Close tears the controller down: any pending restart is cancelled, the
// engine is aborted and later notifications are ignored.
func (c *ListeningController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.manuallyStopped = true
	c.cancelPending()
	c.closed = true
	close(c.done)

	if c.service == nil {
		return nil
	}
	if err := c.service.Abort(); err != nil {
		c.logger.Warn("recognition abort failed", zap.Error(err))
		return fmt.Errorf("abort recognition: %w", err)
	}
	c.logger.Debug("listening controller closed")
	return nil
}

// Run delivers engine notifications to Handle until ctx is done, the
// controller is closed or the engine closes its channel.
func (c *ListeningController) Run(ctx context.Context) {
	if c.service == nil {
		return
	}
	notifications := c.service.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			c.Handle(n)
		}
	}
}

// Handle processes one engine notification.
func (c *ListeningController) Handle(n domain.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	switch n.Kind {
	case domain.NotificationStart:
		c.onStart()
	case domain.NotificationResult:
		c.onResult(n.Transcript)
	case domain.NotificationError:
		c.onError(n.ErrorCode, n.Message)
	case domain.NotificationEnd:
		c.onEnd()
	default:
		c.logger.Warn("ignoring unknown notification", zap.String("kind", string(n.Kind)))
		return
	}
	c.publish()
}

// Snapshot returns the current state.
func (c *ListeningController) Snapshot() domain.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *ListeningController) startLocked() error {
	if !c.available {
		c.setError(domain.ErrorKindServiceUnavailable, "", "Speech recognition not supported or permission denied.")
		return ErrServiceUnavailable
	}
	if c.last.Error.Recoverable() {
		c.last.Error = nil
	}

	c.sessionID = uuid.NewString()
	c.logger.Debug("requesting recognition start", zap.String("sessionID", c.sessionID))
	if err := c.service.Start(); err != nil {
		c.manuallyStopped = true
		c.setError(domain.ErrorKindStartRejected, "", fmt.Sprintf("Error starting listening: %v.", err))
		c.logger.Warn("recognition start rejected", zap.String("sessionID", c.sessionID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrStartRejected, err)
	}
	return nil
}

func (c *ListeningController) onStart() {
	c.state = domain.SessionStateListening
	if c.last.Error.Recoverable() {
		c.last.Error = nil
	}
	c.logger.Info("listening started", zap.String("sessionID", c.sessionID))
}

func (c *ListeningController) onEnd() {
	c.cancelPending()
	if c.available {
		c.state = domain.SessionStateIdle
	} else {
		c.state = domain.SessionStateError
	}

	if !c.available || c.manuallyStopped {
		c.logger.Debug("recognition ended; not restarting",
			zap.String("sessionID", c.sessionID),
			zap.Bool("available", c.available),
			zap.Bool("manuallyStopped", c.manuallyStopped))
		return
	}
	c.scheduleRestart()
}

func (c *ListeningController) scheduleRestart() {
	if c.scheduler == nil {
		return
	}
	c.generation++
	generation := c.generation
	cancel := c.scheduler.AfterFunc(c.cfg.RestartDelay, func() {
		c.fireRestart(generation)
	})
	c.pending = &pendingRestart{generation: generation, cancel: cancel}
	c.logger.Debug("recognition ended unexpectedly; restart scheduled",
		zap.String("sessionID", c.sessionID),
		zap.Duration("delay", c.cfg.RestartDelay))
}

func (c *ListeningController) fireRestart(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || c.pending.generation != generation {
		return
	}
	c.pending = nil

	if c.closed || !c.available || c.manuallyStopped || c.state == domain.SessionStateListening {
		c.logger.Debug("restart conditions no longer met")
		c.publish()
		return
	}
	c.logger.Info("restarting recognition")
	_ = c.startLocked()
	c.publish()
}

func (c *ListeningController) cancelPending() {
	if c.pending == nil {
		return
	}
	c.pending.cancel()
	c.pending = nil
}

func (c *ListeningController) setError(kind domain.ErrorKind, code string, message string) {
	c.last.Error = &domain.ErrorInfo{Kind: kind, Code: code, Message: message}
}

func (c *ListeningController) publish() {
	if c.events == nil {
		return
	}
	c.events.SnapshotChanged(c.snapshotLocked())
}

func (c *ListeningController) snapshotLocked() domain.Snapshot {
	snapshot := domain.Snapshot{
		SessionID:        c.sessionID,
		State:            c.state,
		ServiceAvailable: c.available,
		LastResult:       domain.LastResult{Transcript: c.last.Transcript},
		RestartPending:   c.pending != nil,
	}
	if c.last.MatchedPose != nil {
		pose := clonePose(*c.last.MatchedPose)
		snapshot.LastResult.MatchedPose = &pose
	}
	if c.last.Error != nil {
		info := *c.last.Error
		snapshot.LastResult.Error = &info
	}
	if c.displayed != nil {
		pose := clonePose(*c.displayed)
		snapshot.DisplayedPose = &pose
	}
	return snapshot
}

func clonePose(pose domain.PoseEntry) domain.PoseEntry {
	pose.MatchPhrases = append([]string(nil), pose.MatchPhrases...)
	return pose
}
