package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"posecall/internal/domain"
	"posecall/internal/ports"
)

var (
	ErrAlreadyStarted = errors.New("recognition has already started")
	errAudioSend      = errors.New("failed to stream audio")
)

// RecognizerConfig controls a microphone-to-Deepgram recognition session.
type RecognizerConfig struct {
	Audio       ports.AudioConfig
	Stream      ports.StreamingConfig
	ChunkSize   int
	StopTimeout time.Duration
}

// Recognizer implements ports.RecognitionService by streaming captured
// microphone audio to a transcription provider. Final transcripts become
// result notifications; every session that starts also ends.
type Recognizer struct {
	capture  ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      RecognizerConfig
	logger   *zap.Logger

	mu     sync.Mutex
	active *recognition

	notifications chan domain.Notification
	closed        chan struct{}
	closeOnce     sync.Once
}

type recognition struct {
	cancel   context.CancelFunc
	audio    ports.AudioSession
	stopping bool
	aborted  bool
}

func NewRecognizer(capture ports.AudioCapture, provider ports.TranscriptionProvider, cfg RecognizerConfig, logger *zap.Logger) *Recognizer {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	if cfg.Stream.Encoding == "" {
		cfg.Stream.Encoding = "linear16"
	}
	if cfg.Stream.SampleRate <= 0 {
		cfg.Stream.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Stream.Channels <= 0 {
		cfg.Stream.Channels = cfg.Audio.Channels
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{
		capture:       capture,
		provider:      provider,
		cfg:           cfg,
		logger:        logger,
		notifications: make(chan domain.Notification, 64),
		closed:        make(chan struct{}),
	}
}

// Start implements ports.RecognitionService. Setup failures are reported
// asynchronously as an error followed by end.
func (r *Recognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recognition{cancel: cancel}
	r.active = rec
	go r.run(ctx, rec)
	return nil
}

// Stop ends capture and lets the provider flush pending finals.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	rec := r.active
	if rec == nil || rec.stopping {
		r.mu.Unlock()
		return nil
	}
	rec.stopping = true
	audio := rec.audio
	r.mu.Unlock()

	if audio != nil {
		go r.stopAudio(audio)
	}
	return nil
}

// Abort tears the session down without waiting for pending results.
func (r *Recognizer) Abort() error {
	r.mu.Lock()
	rec := r.active
	if rec == nil {
		r.mu.Unlock()
		return nil
	}
	rec.stopping = true
	rec.aborted = true
	r.mu.Unlock()

	rec.cancel()
	return nil
}

// Notifications implements ports.RecognitionService.
func (r *Recognizer) Notifications() <-chan domain.Notification {
	return r.notifications
}

// Close aborts any running session and stops delivering notifications.
func (r *Recognizer) Close() error {
	err := r.Abort()
	r.closeOnce.Do(func() { close(r.closed) })
	return err
}

func (r *Recognizer) run(ctx context.Context, rec *recognition) {
	defer rec.cancel()

	stream, err := r.provider.StartStreaming(ctx, r.cfg.Stream)
	if err != nil {
		r.logger.Warn("failed to start transcription stream", zap.Error(err))
		r.finish(rec, r.setupFailure(rec, err, streamErrorCode(err)))
		return
	}

	audio, err := r.capture.Start(ctx, r.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		r.logger.Warn("failed to start audio capture", zap.Error(err))
		r.finish(rec, r.setupFailure(rec, err, domain.EngineErrorAudioCapture))
		return
	}

	r.mu.Lock()
	rec.audio = audio
	stopRequested := rec.stopping
	r.mu.Unlock()

	r.emit(domain.StartNotification())
	if stopRequested {
		go r.stopAudio(audio)
	}

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- pumpAudioChunks(audio, stream, r.cfg.ChunkSize)
		_ = stream.CloseSend()
		time.AfterFunc(r.cfg.StopTimeout, func() { _ = stream.Close() })
	}()

	for event := range stream.Events() {
		if event.Kind != domain.TranscriptKindFinal || event.Text == "" {
			continue
		}
		r.emit(domain.ResultNotification(event.Text))
	}
	streamErr := stream.Wait()

	var pumpErr error
	pumpFinishedFirst := false
	select {
	case pumpErr = <-pumpDone:
		pumpFinishedFirst = true
		r.stopAudio(audio)
	default:
		r.stopAudio(audio)
		<-pumpDone
	}

	r.mu.Lock()
	stopping, aborted := rec.stopping, rec.aborted
	r.mu.Unlock()

	var failure *domain.Notification
	switch {
	case aborted:
		n := domain.ErrorNotification(domain.EngineErrorAborted, "recognition aborted")
		failure = &n
	case streamErr != nil && !stopping:
		r.logger.Warn("transcription stream failed", zap.Error(streamErr))
		n := domain.ErrorNotification(domain.EngineErrorNetwork, streamErr.Error())
		failure = &n
	case pumpFinishedFirst && !stopping && errors.Is(pumpErr, errAudioSend):
		r.logger.Warn("transcription stream rejected audio", zap.Error(pumpErr))
		n := domain.ErrorNotification(domain.EngineErrorNetwork, pumpErr.Error())
		failure = &n
	case pumpFinishedFirst && !stopping:
		if pumpErr == nil {
			pumpErr = errors.New("microphone stream ended")
		}
		r.logger.Warn("audio capture ended unexpectedly", zap.Error(pumpErr))
		n := domain.ErrorNotification(domain.EngineErrorAudioCapture, pumpErr.Error())
		failure = &n
	}
	r.finish(rec, failure)
}

func (r *Recognizer) setupFailure(rec *recognition, err error, code string) *domain.Notification {
	r.mu.Lock()
	aborted := rec.aborted
	r.mu.Unlock()
	if aborted {
		code = domain.EngineErrorAborted
	}
	n := domain.ErrorNotification(code, err.Error())
	return &n
}

// finish releases the session before the end notification so a restart
// triggered by end can start a new one.
func (r *Recognizer) finish(rec *recognition, failure *domain.Notification) {
	r.mu.Lock()
	if r.active == rec {
		r.active = nil
	}
	r.mu.Unlock()

	if failure != nil {
		r.emit(*failure)
	}
	r.emit(domain.EndNotification())
}

func (r *Recognizer) stopAudio(audio ports.AudioSession) {
	if err := audio.Stop(); err != nil {
		r.logger.Debug("audio capture stop failed", zap.Error(err))
	}
}

func (r *Recognizer) emit(n domain.Notification) {
	select {
	case r.notifications <- n:
	case <-r.closed:
	}
}

func streamErrorCode(err error) string {
	if errors.Is(err, ErrMissingAPIKey) {
		return domain.EngineErrorServiceNotAllowed
	}
	return domain.EngineErrorNetwork
}

// pumpAudioChunks forwards captured audio until capture ends. io.EOF is a
// normal end of capture.
func pumpAudioChunks(audio ports.AudioSession, stream ports.StreamingSession, chunkSize int) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return fmt.Errorf("%w: %v", errAudioSend, sendErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("audio capture error: %w", err)
		}
	}
}
