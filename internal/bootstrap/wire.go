package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"posecall/internal/audio"
	"posecall/internal/catalog"
	"posecall/internal/config"
	"posecall/internal/images"
	"posecall/internal/logging"
	"posecall/internal/matcher"
	"posecall/internal/ports"
	"posecall/internal/presenter"
	"posecall/internal/providers/deepgram"
	"posecall/internal/providers/webspeech"
	"posecall/internal/rules"
	"posecall/internal/schedule"
	"posecall/internal/usecase"
)

type engine interface {
	ports.RecognitionService
	Close() error
}

// Services is the assembled runtime graph. The controller is created by
// NewController once the presentation surface exists.
type Services struct {
	Config    config.Config
	Logger    *zap.Logger
	Catalog   *catalog.Catalog
	Presenter *presenter.Presenter
	// Bridge is set when recognition runs in a browser page.
	Bridge *webspeech.Bridge

	engine     engine
	matcher    *matcher.Matcher
	normalizer *rules.Reloader
	scheduler  ports.Scheduler
	controller *usecase.ListeningController

	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// Build wires all backend dependencies for the current runtime.
func Build() (*Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return BuildWith(cfg)
}

// BuildWith wires dependencies from an already loaded configuration.
func BuildWith(cfg config.Config) (*Services, error) {
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}

	poses, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	normalizer, err := rules.NewReloader(cfg.Rules.Path, cfg.Rules.IterationLimit, logger.Named("rules"))
	if err != nil {
		return nil, err
	}

	resolver, err := images.NewResolver(cfg.Images.URLTemplate)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Config:     cfg,
		Logger:     logger,
		Catalog:    poses,
		Presenter:  presenter.New(poses, resolver),
		matcher:    matcher.New(poses.All()),
		normalizer: normalizer,
		scheduler:  schedule.New(nil),
	}

	recognition := ports.DefaultRecognitionConfig()
	recognition.Language = cfg.Recognition.Language

	switch cfg.Recognition.Engine {
	case config.EngineDeepgram:
		var keywords []string
		if cfg.Deepgram.BoostPhrases {
			keywords = poses.Phrases()
		}
		s.engine = deepgram.NewRecognizer(
			audio.NewMicrophone(cfg.Audio.RecorderCommand),
			deepgram.NewProvider(deepgram.Config{
				APIKey:      cfg.Deepgram.APIKey,
				APIBaseURL:  cfg.Deepgram.APIBaseURL,
				Model:       cfg.Deepgram.Model,
				Language:    cfg.Recognition.Language,
				SmartFormat: cfg.Deepgram.SmartFormat,
				Keywords:    keywords,
				Endpointing: cfg.Deepgram.Endpointing,
				KeepAlive:   cfg.Deepgram.KeepAlive,
			}),
			deepgram.RecognizerConfig{
				Audio: ports.AudioConfig{
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
				},
				Stream: ports.StreamingConfig{
					SampleRate:     cfg.Audio.SampleRate,
					Channels:       cfg.Audio.Channels,
					Encoding:       "linear16",
					Language:       recognition.Language,
					InterimResults: recognition.InterimResults,
				},
				ChunkSize: cfg.Audio.ChunkSize,
			},
			logger.Named("deepgram"),
		)
	default:
		s.Bridge = webspeech.NewBridge(recognition, logger.Named("webspeech"))
		s.engine = s.Bridge
	}

	if cfg.Rules.Watch {
		s.watchRules()
	}

	logger.Info("services built",
		zap.String("engine", string(cfg.Recognition.Engine)),
		zap.Int("poses", poses.Len()),
		zap.Int("rules", normalizer.Len()),
		zap.Duration("restartDelay", cfg.Recognition.RestartDelay))
	return s, nil
}

// NewController creates the listening controller publishing to sink. It may
// only be called once.
func (s *Services) NewController(sink ports.EventSink) (*usecase.ListeningController, error) {
	if s.controller != nil {
		return nil, errors.New("controller already created")
	}

	example := ""
	if labels := s.Catalog.Examples(1); len(labels) > 0 {
		example = labels[0]
	}
	s.controller = usecase.NewListeningController(
		s.engine,
		s.matcher,
		s.normalizer,
		s.scheduler,
		sink,
		s.Logger.Named("listening"),
		usecase.Config{
			RestartDelay: s.Config.Recognition.RestartDelay,
			ExampleLabel: example,
		},
	)
	return s.controller, nil
}

func (s *Services) watchRules() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel
	s.watchDone = make(chan struct{})
	go func() {
		defer close(s.watchDone)
		if err := s.normalizer.Watch(ctx); err != nil {
			s.Logger.Warn("rules watcher unavailable", zap.Error(err))
		}
	}()
}

// Close stops the rules watcher, the controller and the recognition engine.
func (s *Services) Close() error {
	var errs []error
	if s.stopWatch != nil {
		s.stopWatch()
		<-s.watchDone
	}
	if s.controller != nil {
		if err := s.controller.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recognition engine: %w", err))
		}
	}
	if s.Logger != nil {
		_ = s.Logger.Sync()
	}
	return errors.Join(errs...)
}
