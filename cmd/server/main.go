package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/binlog"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/binlog/kafka"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/camera"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/camera/opencv"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/config"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/detect/yolo"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/latest"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/logger"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/metrics"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/normalize"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/ocr"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/ocr/tesseract"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/pipeline"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/plate"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/snapshot"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/upload"
	"github.com/dj-oyu/bin-plate-camera/plate-server/internal/webmonitor"
)

var (
	// Command-line flags. Empty values keep the config file setting.
	configPath  = flag.String("config", "", "YAML config file")
	httpAddr    = flag.String("http", "", "HTTP server address (default :8000)")
	metricsAddr = flag.String("metrics", "", "Metrics server address (default :9090)")
	pprofAddr   = flag.String("pprof", "", "pprof server address (disabled when empty)")
	device      = flag.String("device", "", "Camera index or stream URL")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// Server is the plate camera server
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cfg        config.Config
	metrics    *metrics.Metrics
	camera     *camera.Shared
	detector   *yolo.Detector
	reader     ocr.Reader
	sink       binlog.Sink
	dispatcher *pipeline.Dispatcher
	controller *pipeline.Controller
	monitor    *webmonitor.Server

	httpServer    *http.Server
	metricsServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(&cfg)

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor && cfg.Logging.Color)

	logger.Info("Main", "Plate server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	srv.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	if err := srv.Shutdown(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func applyFlags(cfg *config.Config) {
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.HTTP.MetricsAddr = *metricsAddr
	}
	if *pprofAddr != "" {
		cfg.HTTP.PprofAddr = *pprofAddr
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
}

// NewServer opens the camera and model and wires the pipeline. Any
// failure here is fatal for the process.
func NewServer(cfg config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		metrics: metrics.New(),
	}
	if err := s.init(); err != nil {
		s.closeAll()
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	cfg := s.cfg

	dev, err := opencv.Open(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height)
	if err != nil {
		return fmt.Errorf("failed to open camera %q: %w", cfg.Camera.Device, err)
	}
	s.camera = camera.NewShared(dev)

	s.detector, err = yolo.Load(cfg.Detector.ModelPath, yolo.Options{
		InputSize:    cfg.Detector.InputSize,
		NMSThreshold: float32(cfg.Detector.NMSThreshold),
	})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(s.ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	s.reader, err = s.newReader(loadAWS)
	if err != nil {
		return err
	}

	resolver, err := plate.NewResolver(cfg.Plates.Registry, cfg.Plates.Threshold)
	if err != nil {
		return fmt.Errorf("failed to build plate registry: %w", err)
	}

	snapshots, err := snapshot.NewStore(cfg.Snapshot.Dir, cfg.Snapshot.Quality)
	if err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}

	uploader, err := s.newUploader(loadAWS)
	if err != nil {
		return err
	}

	s.sink, err = s.newSink(loadAWS)
	if err != nil {
		return err
	}

	store := latest.NewStore()
	s.dispatcher = pipeline.NewDispatcher(snapshots, uploader, s.sink, store, s.metrics, pipeline.DispatchOptions{
		Folder:     cfg.Upload.Folder,
		Annotate:   cfg.Snapshot.Annotate,
		Async:      cfg.Pipeline.AsyncDispatch,
		QueueSize:  cfg.Pipeline.DispatchQueue,
		LogTimeout: cfg.BinLog.Timeout,
	})

	s.controller = pipeline.NewController(s.camera, s.detector,
		normalize.New(cfg.Normalize.Rotation, cfg.Normalize.BlurSigma),
		s.reader, resolver, s.dispatcher, s.metrics, pipeline.Options{
			MinConfidence: cfg.Detector.MinConfidence,
			RetryDelay:    cfg.Pipeline.RetryDelay,
			CycleDelay:    cfg.Pipeline.CycleDelay,
		})

	s.monitor = webmonitor.NewServer(webmonitor.Config{
		Addr:           cfg.HTTP.Addr,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		StreamInterval: cfg.Camera.StreamInterval,
		ResultInterval: cfg.HTTP.ResultInterval,
		JPEGQuality:    cfg.Camera.JPEGQuality,
		StampLatest:    cfg.Camera.StampLatest,
	}, webmonitor.Deps{
		Frames:     s.camera,
		Latest:     store,
		Metrics:    s.metrics,
		Camera:     s.camera,
		Registry:   resolver,
		Snapshots:  snapshots,
		CaptureDir: snapshots.Dir(),
	})

	s.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           s.monitor.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.HTTP.MetricsAddr != "" {
		s.metricsServer = s.metrics.NewServer(cfg.HTTP.MetricsAddr)
	}
	return nil
}

// newReader returns a nil interface on error so closeAll can test it.
func (s *Server) newReader(loadAWS func() (aws.Config, error)) (ocr.Reader, error) {
	switch s.cfg.OCR.Engine {
	case "rekognition":
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return ocr.NewRekognition(rekognition.NewFromConfig(c)), nil
	default:
		tr, err := tesseract.New(tesseract.Options{
			Language:    s.cfg.OCR.Language,
			PageSegMode: s.cfg.OCR.PageSegMode,
			Whitelist:   s.cfg.OCR.Whitelist,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init OCR: %w", err)
		}
		return tr, nil
	}
}

func (s *Server) newUploader(loadAWS func() (aws.Config, error)) (upload.Uploader, error) {
	switch s.cfg.Upload.Backend {
	case "drive":
		d, err := upload.NewDrive(s.ctx, s.cfg.Upload.DriveCredentials)
		if err != nil {
			return nil, fmt.Errorf("failed to init drive uploader: %w", err)
		}
		return d, nil
	case "s3":
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return upload.NewS3(s3.NewFromConfig(c), s.cfg.Upload.S3Bucket), nil
	default:
		return upload.Nop{}, nil
	}
}

func (s *Server) newSink(loadAWS func() (aws.Config, error)) (binlog.Sink, error) {
	bl := s.cfg.BinLog
	var sinks binlog.Multi
	for _, name := range bl.Sinks {
		var (
			sink binlog.Sink
			err  error
		)
		switch name {
		case "supabase":
			sink = binlog.NewSupabase(bl.Supabase.URL, bl.Supabase.Key, bl.Supabase.Table, bl.Timeout)
		case "postgres":
			sink, err = binlog.OpenPostgres(bl.Postgres.DSN)
		case "kafka":
			sink, err = kafka.NewProducer(bl.Kafka.Brokers, bl.Kafka.Topic)
		case "sqs":
			var c aws.Config
			if c, err = loadAWS(); err == nil {
				sink = binlog.NewSQS(sqs.NewFromConfig(c), bl.SQS.QueueURL)
			}
		case "iot":
			var c aws.Config
			if c, err = loadAWS(); err == nil {
				endpoint := bl.IoT.Endpoint
				if !strings.HasPrefix(endpoint, "https://") {
					endpoint = "https://" + endpoint
				}
				sink = binlog.NewIoT(iotdataplane.NewFromConfig(c, func(o *iotdataplane.Options) {
					o.BaseEndpoint = aws.String(endpoint)
				}), bl.IoT.Topic)
			}
		default:
			err = fmt.Errorf("unknown sink %q", name)
		}
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("failed to init binlog sink %s: %w", name, err)
		}
		logger.Info("Main", "Bin log sink enabled: %s", name)
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		logger.Warn("Main", "No bin log sinks configured; matches are only published locally")
		return binlog.Discard{}, nil
	}
	return sinks, nil
}

// Start starts all server components
func (s *Server) Start() {
	logger.Info("Main", "Starting plate server...")
	logger.Info("Main", "  Camera: %s", s.cfg.Camera.Device)
	logger.Info("Main", "  Model: %s", s.cfg.Detector.ModelPath)
	logger.Info("Main", "  OCR engine: %s", s.cfg.OCR.Engine)
	logger.Info("Main", "  Registry: %d plates (threshold %.2f)", len(s.cfg.Plates.Registry), s.cfg.Plates.Threshold)
	logger.Info("Main", "  HTTP server: %s", s.cfg.HTTP.Addr)
	logger.Info("Main", "  Captures: %s", s.cfg.Snapshot.Dir)

	if s.cfg.HTTP.PprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", s.cfg.HTTP.PprofAddr)
			if err := http.ListenAndServe(s.cfg.HTTP.PprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if s.metricsServer != nil {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	s.monitor.Start()
	go func() {
		logger.Info("Main", "Starting HTTP server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.controller.Run(s.ctx); err != nil {
			logger.Error("Main", "Detection loop stopped: %v", err)
		}
	}()

	logger.Info("Main", "Server started successfully")
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	logger.Info("Main", "Shutting down server...")

	// Stop the detection loop first so no new matches are dispatched
	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	s.monitor.Stop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}

	// Drain pending uploads and log writes before closing the sinks
	s.dispatcher.Close()
	if err := s.closeAll(); err != nil {
		errs = append(errs, err)
	}

	reads, failures := s.camera.Stats()
	logger.Info("Main", "Camera reads: %d (failures: %d), matches: %d",
		reads, failures, s.metrics.Matches.Load())
	return errors.Join(errs...)
}

func (s *Server) closeAll() error {
	var errs []error
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sinks: %w", err))
		}
	}
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ocr: %w", err))
		}
	}
	if s.detector != nil {
		if err := s.detector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close detector: %w", err))
		}
	}
	if s.camera != nil {
		if err := s.camera.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
	}
	return errors.Join(errs...)
}
