package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full runtime configuration of the plate server.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Camera    CameraConfig    `yaml:"camera"`
	Detector  DetectorConfig  `yaml:"detector"`
	OCR       OCRConfig       `yaml:"ocr"`
	Plates    PlatesConfig    `yaml:"plates"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Upload    UploadConfig    `yaml:"upload"`
	BinLog    BinLogConfig    `yaml:"binlog"`
	AWS       AWSConfig       `yaml:"aws"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	PprofAddr      string        `yaml:"pprof_addr"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ResultInterval time.Duration `yaml:"result_interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// CameraConfig selects the capture device. Device is either a numeric
// index ("0") or a file/stream URL.
type CameraConfig struct {
	Device         string        `yaml:"device"`
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	StreamInterval time.Duration `yaml:"stream_interval"`
	JPEGQuality    int           `yaml:"jpeg_quality"`
	StampLatest    bool          `yaml:"stamp_latest"`
}

type DetectorConfig struct {
	ModelPath     string  `yaml:"model_path"`
	InputSize     int     `yaml:"input_size"`
	MinConfidence float64 `yaml:"min_confidence"`
	NMSThreshold  float64 `yaml:"nms_threshold"`
}

type OCRConfig struct {
	Engine      string `yaml:"engine"` // tesseract | rekognition
	Language    string `yaml:"language"`
	PageSegMode int    `yaml:"page_seg_mode"`
	Whitelist   string `yaml:"whitelist"`
}

type PlatesConfig struct {
	Registry  []string `yaml:"registry"`
	Threshold float64  `yaml:"threshold"`
}

type NormalizeConfig struct {
	Rotation  int     `yaml:"rotation"`
	BlurSigma float64 `yaml:"blur_sigma"`
}

type PipelineConfig struct {
	RetryDelay    time.Duration `yaml:"retry_delay"`
	CycleDelay    time.Duration `yaml:"cycle_delay"`
	AsyncDispatch bool          `yaml:"async_dispatch"`
	DispatchQueue int           `yaml:"dispatch_queue"`
}

type SnapshotConfig struct {
	Dir      string `yaml:"dir"`
	Quality  int    `yaml:"quality"`
	Annotate bool   `yaml:"annotate"`
}

type UploadConfig struct {
	Backend          string `yaml:"backend"` // drive | s3 | none
	Folder           string `yaml:"folder"`
	DriveCredentials string `yaml:"drive_credentials"`
	S3Bucket         string `yaml:"s3_bucket"`
}

type BinLogConfig struct {
	Sinks    []string       `yaml:"sinks"` // supabase, postgres, kafka, sqs, iot
	Timeout  time.Duration  `yaml:"timeout"`
	Supabase SupabaseConfig `yaml:"supabase"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	SQS      SQSConfig      `yaml:"sqs"`
	IoT      IoTConfig      `yaml:"iot"`
}

type SupabaseConfig struct {
	URL   string `yaml:"url"`
	Key   string `yaml:"key"`
	Table string `yaml:"table"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type SQSConfig struct {
	QueueURL string `yaml:"queue_url"`
}

type IoTConfig struct {
	Endpoint string `yaml:"endpoint"`
	Topic    string `yaml:"topic"`
}

type AWSConfig struct {
	Region string `yaml:"region"`
}

// DefaultRegistry is the bin fleet the camera was first deployed for.
var DefaultRegistry = []string{
	"BAM 9267", "AAA 4444", "WVX 3589", "WXM 3268", "WSN 5634",
	"IIUM 6763", "VS 2277", "WXS 3465", "BGN 6677", "JFC 2218",
}

// Default returns a config matching the first camera deployment.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:           ":8000",
			MetricsAddr:    ":9090",
			PprofAddr:      "",
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			ResultInterval: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", Color: true},
		Camera: CameraConfig{
			Device:         "0",
			StreamInterval: 33 * time.Millisecond,
			JPEGQuality:    80,
		},
		Detector: DetectorConfig{
			ModelPath:     "weights.onnx",
			InputSize:     640,
			MinConfidence: 0.5,
			NMSThreshold:  0.45,
		},
		OCR: OCRConfig{
			Engine:      "tesseract",
			Language:    "eng",
			PageSegMode: 8,
		},
		Plates: PlatesConfig{
			Registry:  append([]string(nil), DefaultRegistry...),
			Threshold: 0.7,
		},
		Normalize: NormalizeConfig{Rotation: 180},
		Pipeline: PipelineConfig{
			RetryDelay:    100 * time.Millisecond,
			CycleDelay:    100 * time.Millisecond,
			AsyncDispatch: true,
			DispatchQueue: 16,
		},
		Snapshot: SnapshotConfig{Dir: "./captures", Quality: 95},
		Upload:   UploadConfig{Backend: "none"},
		BinLog: BinLogConfig{
			Timeout:  10 * time.Second,
			Supabase: SupabaseConfig{Table: "bin_logs"},
			Kafka:    KafkaConfig{Topic: "bin-plate-matches"},
			IoT:      IoTConfig{Topic: "bins/plate/matches"},
		},
		AWS: AWSConfig{Region: "ap-southeast-1"},
	}
}

// Load builds the config: defaults, then the YAML file at path (if
// any), then .env, then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	cfg.Camera.Device = getEnv("CAMERA_DEVICE", cfg.Camera.Device)
	cfg.Detector.ModelPath = getEnv("MODEL_PATH", cfg.Detector.ModelPath)
	cfg.OCR.Engine = getEnv("OCR_ENGINE", cfg.OCR.Engine)

	if v := getEnv("PLATE_REGISTRY", ""); v != "" {
		cfg.Plates.Registry = splitList(v)
	}
	var err error
	if cfg.Plates.Threshold, err = getEnvFloat("MATCH_THRESHOLD", cfg.Plates.Threshold); err != nil {
		return err
	}
	if cfg.Detector.MinConfidence, err = getEnvFloat("MIN_DETECTION_CONFIDENCE", cfg.Detector.MinConfidence); err != nil {
		return err
	}

	cfg.Upload.Backend = getEnv("UPLOAD_BACKEND", cfg.Upload.Backend)
	cfg.Upload.Folder = getEnv("DRIVE_FOLDER_ID", cfg.Upload.Folder)
	cfg.Upload.DriveCredentials = getEnv("GOOGLE_APPLICATION_CREDENTIALS", cfg.Upload.DriveCredentials)
	cfg.Upload.S3Bucket = getEnv("S3_BUCKET", cfg.Upload.S3Bucket)

	cfg.BinLog.Supabase.URL = getEnv("SUPABASE_URL", cfg.BinLog.Supabase.URL)
	cfg.BinLog.Supabase.Key = getEnv("SUPABASE_KEY", cfg.BinLog.Supabase.Key)
	cfg.BinLog.Postgres.DSN = getEnv("DATABASE_URL", cfg.BinLog.Postgres.DSN)
	cfg.BinLog.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.BinLog.Kafka.Brokers)
	cfg.BinLog.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.BinLog.Kafka.Topic)
	cfg.BinLog.SQS.QueueURL = getEnv("SQS_QUEUE_URL", cfg.BinLog.SQS.QueueURL)
	cfg.BinLog.IoT.Endpoint = getEnv("IOT_ENDPOINT", cfg.BinLog.IoT.Endpoint)
	cfg.BinLog.IoT.Topic = getEnv("IOT_TOPIC", cfg.BinLog.IoT.Topic)
	if v := getEnv("BINLOG_SINKS", ""); v != "" {
		cfg.BinLog.Sinks = splitList(v)
	}

	cfg.AWS.Region = getEnv("AWS_REGION", cfg.AWS.Region)
	return nil
}

// Validate checks the values the pipeline depends on.
func (c Config) Validate() error {
	var errs []error
	if len(c.Plates.Registry) == 0 {
		errs = append(errs, errors.New("plates.registry is empty"))
	}
	for i, p := range c.Plates.Registry {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("plates.registry[%d] is blank", i))
		}
	}
	if c.Plates.Threshold < 0 || c.Plates.Threshold > 1 {
		errs = append(errs, fmt.Errorf("plates.threshold %v outside [0,1]", c.Plates.Threshold))
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("detector.min_confidence %v outside [0,1]", c.Detector.MinConfidence))
	}
	if c.Pipeline.RetryDelay < 0 || c.Pipeline.CycleDelay < 0 {
		errs = append(errs, errors.New("pipeline delays must not be negative"))
	}
	switch c.OCR.Engine {
	case "tesseract", "rekognition":
	default:
		errs = append(errs, fmt.Errorf("ocr.engine %q unknown", c.OCR.Engine))
	}
	switch c.Upload.Backend {
	case "none", "":
	case "drive":
		if c.Upload.DriveCredentials == "" {
			errs = append(errs, errors.New("upload.drive_credentials required for drive backend"))
		}
	case "s3":
		if c.Upload.S3Bucket == "" {
			errs = append(errs, errors.New("upload.s3_bucket required for s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("upload.backend %q unknown", c.Upload.Backend))
	}
	for _, s := range c.BinLog.Sinks {
		if err := c.BinLog.checkSink(s); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func (b BinLogConfig) checkSink(name string) error {
	missing := func(field string) error {
		return fmt.Errorf("binlog sink %s requires %s", name, field)
	}
	switch name {
	case "supabase":
		if b.Supabase.URL == "" || b.Supabase.Key == "" {
			return missing("supabase.url and supabase.key")
		}
	case "postgres":
		if b.Postgres.DSN == "" {
			return missing("postgres.dsn")
		}
	case "kafka":
		if b.Kafka.Brokers == "" || b.Kafka.Topic == "" {
			return missing("kafka.brokers and kafka.topic")
		}
	case "sqs":
		if b.SQS.QueueURL == "" {
			return missing("sqs.queue_url")
		}
	case "iot":
		if b.IoT.Endpoint == "" || b.IoT.Topic == "" {
			return missing("iot.endpoint and iot.topic")
		}
	default:
		return fmt.Errorf("binlog sink %q unknown", name)
	}
	return nil
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, v, err)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
