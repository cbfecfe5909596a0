package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"pirwatch/internal/auth"
	"pirwatch/internal/camera"
	"pirwatch/internal/clock"
	"pirwatch/internal/config"
	"pirwatch/internal/database"
	"pirwatch/internal/detection"
	"pirwatch/internal/energy"
	"pirwatch/internal/filestore"
	"pirwatch/internal/history"
	"pirwatch/internal/kafka"
	"pirwatch/internal/media"
	"pirwatch/internal/pipeline"
	"pirwatch/internal/profiling"
	"pirwatch/internal/s3"
	"pirwatch/internal/sensor"
	"pirwatch/internal/services"
	"pirwatch/internal/stream"
	"pirwatch/internal/telegram"
	"pirwatch/internal/ws"
)

func main() {
	// Define command line flags, add any other flag required to configure the
	// service.
	var (
		configF = flag.String("config", "", "Path to an optional YAML config file")
		envF    = flag.String("env", ".env", "Path to the .env file")
		dbgF    = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[pirwatch] ", log.Ltime)
	}

	cfg, err := config.Load(*configF, *envF)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	clk := clock.RealClock{}

	// Persistence: history and runtime settings go to the same store.
	store, db, err := openStore(cfg.Storage)
	if err != nil {
		logger.Fatalf("failed to open %s store: %v", cfg.Storage.Backend, err)
	}
	if db != nil {
		defer db.Close()
	}
	ledger := history.NewLedger(ctx, cfg.Detection.MaxHistory, store)

	// Devices and the classifier.
	pir, err := openSensor(cfg.Sensor, clk)
	if err != nil {
		logger.Fatalf("failed to open %s sensor: %v", cfg.Sensor.Type, err)
	}
	defer pir.Close()

	cam := camera.New(camera.Config{
		Sources:        cfg.Camera.Sources,
		Width:          cfg.Camera.Width,
		Height:         cfg.Camera.Height,
		FFmpegPath:     cfg.Camera.FFmpegPath,
		RpicamPath:     cfg.Camera.RpicamPath,
		CaptureTimeout: cfg.Camera.CaptureTimeout,
		Clock:          clk,
	})

	classifier, checks, closeClassifier, err := newClassifier(cfg.Classifier)
	if err != nil {
		logger.Fatalf("failed to create %s classifier: %v", cfg.Classifier.Type, err)
	}
	defer closeClassifier()

	exporter, err := media.NewExporter(cfg.Storage.MediaDir, clk, cfg.Detection.GIFFrameDelay)
	if err != nil {
		logger.Fatalf("failed to create media exporter: %v", err)
	}

	// Notifications. Stored settings override the static config.
	bot := telegram.NewTelegramBot(telegram.Config{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
		Enabled:  cfg.Telegram.Enabled,
		APIBase:  cfg.Telegram.APIBase,
		Timeout:  cfg.Detection.NotifyTimeout,
	})
	configSvc := services.NewConfigService(ctx, bot, store, cfg.TelegramDefaults())

	monitor := energy.NewMonitor(clk)

	var profiler *profiling.Logger
	if cfg.Profiling.Enabled {
		profiler, err = profiling.NewLogger(cfg.Profiling.Path, profiling.NewHostSampler(cfg.Profiling.ProcRoot, cfg.Profiling.ThermalPath))
		if err != nil {
			logger.Fatalf("failed to open profiling log: %v", err)
		}
		defer profiler.Close()
	}

	// Viewers: websocket clients and MJPEG readers get every rendered frame.
	bus := pipeline.NewEventBus()
	hub := ws.NewDetectionHub()
	mjpeg := stream.NewMJPEGStream()
	display := ws.NewDisplay(hub, mjpeg)

	collaborators := pipeline.Collaborators{
		Clock:      clk,
		Sensor:     pir,
		Camera:     cam,
		Classifier: classifier,
		Exporter:   exporter,
		Notifier:   bot,
		Display:    display,
		Energy:     monitor,
		Ledger:     ledger,
		Bus:        bus,
	}
	if profiler != nil {
		collaborators.Profiler = profiler
	}
	session, err := pipeline.NewSession(collaborators, cfg.Options())
	if err != nil {
		logger.Fatalf("failed to create detection session: %v", err)
	}

	systemSvc := services.NewSystemService(session, bus, configSvc, cfg.Sensor.Type, cfg.Classifier.Type)
	historySvc := services.NewHistoryService(ledger, archiveOf(db))

	// Event subscribers.
	{
		events, _ := bus.SubscribeChannel(64)
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.ForwardEvents(ctx, events)
		}()
	}
	if db != nil {
		finalized, _ := bus.SubscribeChannel(16, pipeline.EventFinalized)
		wg.Add(1)
		go func() {
			defer wg.Done()
			archiveEvents(ctx, db, finalized)
		}()
	}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID)
		if err != nil {
			logger.Fatalf("failed to connect to Kafka: %v", err)
		}
		defer producer.Close()
		events, _ := bus.SubscribeChannel(128,
			pipeline.EventMotionDetected, pipeline.EventWindowClosed, pipeline.EventPersonDetected,
			pipeline.EventFinalized, pipeline.EventError)
		wg.Add(1)
		go func() {
			defer wg.Done()
			producer.Run(ctx, events)
		}()
	}
	if cfg.Archive.Enabled {
		archiver, err := s3.NewMinioArchiver(cfg.Archive.Endpoint, cfg.Archive.AccessKey, cfg.Archive.SecretKey, cfg.Archive.Bucket, cfg.Archive.UseSSL)
		if err != nil {
			logger.Fatalf("failed to create archive client: %v", err)
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			logger.Printf("archive bucket unavailable, uploads will be retried per event: %v", err)
		}
		finalized, _ := bus.SubscribeChannel(16, pipeline.EventFinalized)
		wg.Add(1)
		go func() {
			defer wg.Done()
			archiver.Run(ctx, finalized)
		}()
	}

	if cfg.Telegram.CommandsEnabled {
		commands := telegram.NewCommandHandler(bot, systemSvc, historySvc, configSvc, monitor, cfg.Telegram.PollInterval)
		commands.SetSnapshotSource(display)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := commands.StartPolling(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("telegram command polling stopped: %v", err)
			}
		}()
	}

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Enabled:   cfg.Auth.Enabled,
		Username:  cfg.Auth.Username,
		Password:  cfg.Auth.Password,
		JWTSecret: cfg.Auth.JWTSecret,
		JWTExpiry: cfg.Auth.JWTExpiry,
	})
	if err != nil {
		logger.Fatalf("failed to initialise authentication: %v", err)
	}

	api := &apiServer{
		health:        services.NewHealthService(checks),
		authSvc:       services.NewAuthService(authenticator),
		system:        systemSvc,
		history:       historySvc,
		notifications: configSvc,
		frames:        display,
		energy:        monitor,
		profiler:      profiler,
		mediaDir:      exporter.Dir(),
		live:          ws.NewHandler(hub),
		stream:        mjpeg,
		stopTimeout:   30 * time.Second,
		logger:        logger,
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	// Setup interrupt handler. This optional step configures the process so
	// that SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	handleHTTPServer(ctx, cfg.Addr(), newHandler(api, authenticator, logger, *dbgF || cfg.Server.Debug), &wg, errc, logger)

	if cfg.Detection.AutoStart {
		if err := systemSvc.StartDetection(ctx); err != nil {
			logger.Printf("failed to start detection: %v", err)
		}
	}

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Let the iteration in progress finish before tearing down outputs.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := systemSvc.StopDetection(stopCtx); err != nil {
		logger.Printf("%v", err)
	}
	stopCancel()

	mjpeg.Stop()
	hub.CloseAll()

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()
	bus.Close()
	logger.Println("exited")
}

// persistence is what both storage backends provide.
type persistence interface {
	history.Store
	config.BlobStore
}

// openStore opens the configured backend. The database is returned as
// well when the sqlite backend is used; it also serves the event archive.
func openStore(cfg config.StorageConfig) (persistence, *database.Database, error) {
	switch cfg.Backend {
	case config.StorageSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := database.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, db, nil
	default:
		fs, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, nil, nil
	}
}

func archiveOf(db *database.Database) services.EventArchive {
	if db == nil {
		return nil
	}
	return db
}

// archiveEvents appends finalized records to the long-term event table.
func archiveEvents(ctx context.Context, db *database.Database, ch <-chan pipeline.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Record == nil {
				continue
			}
			if err := db.ArchiveEvent(ctx, *ev.Record); err != nil {
				log.Printf("[Database] Failed to archive event %s: %v", ev.Record.ID, err)
			}
		}
	}
}

type closingSensor interface {
	pipeline.Sensor
	Close() error
}

func openSensor(cfg config.SensorConfig, clk clock.Clock) (closingSensor, error) {
	switch cfg.Type {
	case config.SensorSerial:
		return sensor.OpenSerial(cfg.SerialPort, cfg.BaudRate)
	case config.SensorMock:
		log.Printf("[Sensor] Using mock PIR sensor (interval %s)", cfg.MockInterval)
		return sensor.NewMockSensor(clk, cfg.MockInterval), nil
	default:
		return sensor.OpenGPIO(cfg.GPIOBase, cfg.GPIOPin)
	}
}

// newClassifier creates the configured classifier, its readiness checks
// and a release function.
func newClassifier(cfg config.ClassifierConfig) (pipeline.Classifier, map[string]services.HealthCheck, func() error, error) {
	checks := map[string]services.HealthCheck{}
	switch cfg.Type {
	case config.ClassifierGRPC:
		d, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
			Endpoint: cfg.GRPCAddr,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return d, checks, d.Close, nil
	default:
		d := detection.NewYOLODetector(cfg.Endpoint, cfg.Timeout)
		checks["classifier"] = func(ctx context.Context) error {
			_, err := d.Health(ctx)
			return err
		}
		return d, checks, func() error { return nil }, nil
	}
}
