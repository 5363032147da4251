package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	OCR      OCRConfig      `yaml:"ocr"`
	Tables   TablesConfig   `yaml:"tables"`
	LLM      LLMConfig      `yaml:"llm"`
	Index    IndexConfig    `yaml:"index"`
	Storage  StorageConfig  `yaml:"storage"`
	Intake   IntakeConfig   `yaml:"intake"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string        `yaml:"dsn"` // postgres://... or sqlite:<path>
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// RedisConfig selects the Redis-backed queue and lock table. Empty Addr keeps both in-process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// QueueConfig holds worker pool and delivery settings
type QueueConfig struct {
	Workers           int           `yaml:"workers"`
	Size              int           `yaml:"size"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	MaxDeliveries     int           `yaml:"max_deliveries"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
}

// PipelineConfig holds the retry and concurrency knobs of a run
type PipelineConfig struct {
	PageConcurrency      int           `yaml:"page_concurrency"`
	MaxAttempts          int           `yaml:"max_attempts"`
	BackoffInitial       time.Duration `yaml:"backoff_initial"`
	BackoffMax           time.Duration `yaml:"backoff_max"`
	PersistenceAttempts  int           `yaml:"persistence_attempts"`
	OCRTimeout           time.Duration `yaml:"ocr_timeout"`
	TableTimeout         time.Duration `yaml:"table_timeout"`
	UnderstandingTimeout time.Duration `yaml:"understanding_timeout"`
	ReconcileInterval    time.Duration `yaml:"reconcile_interval"` // 0 disables the periodic pass
	StuckAfter           time.Duration `yaml:"stuck_after"`
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract   string `yaml:"tesseract"`
	Lang        string `yaml:"lang"`
	TessdataDir string `yaml:"tessdata_dir"`
	PSM         int    `yaml:"psm"`
	OEM         int    `yaml:"oem"`
}

type TablesConfig struct {
	Enabled bool `yaml:"enabled"`
	MinRows int  `yaml:"min_rows"`
	MinCols int  `yaml:"min_cols"`
}

// LLMConfig holds document understanding configuration
type LLMConfig struct {
	Provider        string        `yaml:"provider"` // openai | vertex | none
	Model           string        `yaml:"model"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Temperature     float32       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxChars        int           `yaml:"max_chars"`
	MinChars        int           `yaml:"min_chars"`
	AttachFirstPage bool          `yaml:"attach_first_page"`
	VertexProject   string        `yaml:"vertex_project"`
	VertexLocation  string        `yaml:"vertex_location"`
}

// IndexConfig selects the search index backend
type IndexConfig struct {
	Backend  string `yaml:"backend"` // opensearch | sql | memory | none
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StorageConfig selects where rasterized page images are read from
type StorageConfig struct {
	Backend string `yaml:"backend"` // fs | gcs
	Root    string `yaml:"root"`
	Bucket  string `yaml:"bucket"`
}

// IntakeConfig enables the directory watcher that turns dropped page images into documents.
type IntakeConfig struct {
	Dir         string        `yaml:"dir"`
	Debounce    time.Duration `yaml:"debounce"`
	InitialScan bool          `yaml:"initial_scan"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Redis: RedisConfig{Prefix: "docscan:"},
		Queue: QueueConfig{
			Workers:           4,
			Size:              256,
			JobTimeout:        15 * time.Minute,
			VisibilityTimeout: 20 * time.Minute,
			MaxDeliveries:     5,
			LockTTL:           30 * time.Minute,
		},
		Pipeline: PipelineConfig{
			PageConcurrency:      4,
			MaxAttempts:          3,
			BackoffInitial:       500 * time.Millisecond,
			BackoffMax:           10 * time.Second,
			PersistenceAttempts:  3,
			OCRTimeout:           2 * time.Minute,
			TableTimeout:         time.Minute,
			UnderstandingTimeout: 90 * time.Second,
			StuckAfter:           time.Hour,
		},
		OCR: OCRConfig{
			Tesseract: "tesseract",
			Lang:      "eng",
		},
		Tables: TablesConfig{Enabled: true, MinRows: 2, MinCols: 2},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			Timeout:        90 * time.Second,
			MaxChars:       15000,
			MinChars:       10,
			VertexLocation: "us-central1",
		},
		Index: IndexConfig{
			Backend: "memory",
			URL:     "http://localhost:9200",
			Name:    "documents",
		},
		Storage: StorageConfig{Backend: "fs", Root: "./data"},
		Intake:  IntakeConfig{Debounce: 2 * time.Second, InitialScan: true},
		Server: ServerConfig{
			HTTPAddr: ":8081",
			GRPCAddr: ":8080",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig loads configuration from environment variables (and a .env file when present)
func LoadConfig() *Config {
	_ = godotenv.Load()
	return fromEnv(Defaults())
}

// LoadConfigFile reads a YAML file over the defaults; environment variables still win.
func LoadConfigFile(path string) (*Config, error) {
	_ = godotenv.Load()
	base := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &base); err != nil {
			return nil, NewAppError(CodeConfig, "parse "+path, err)
		}
	}
	return fromEnv(base), nil
}

func fromEnv(b Config) *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", b.Database.DSN),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", b.Database.MaxConns),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", b.Database.MinConns),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", b.Database.MaxConnLifetime),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", b.Database.MaxConnIdleTime),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", b.Database.DialTimeout),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", b.Database.StatementTimeout),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", b.Redis.Addr),
			Password: getEnv("REDIS_PASSWORD", b.Redis.Password),
			DB:       getEnvAsInt("REDIS_DB", b.Redis.DB),
			Prefix:   getEnv("REDIS_PREFIX", b.Redis.Prefix),
		},
		Queue: QueueConfig{
			Workers:           getEnvAsInt("WORKERS", b.Queue.Workers),
			Size:              getEnvAsInt("QUEUE_SIZE", b.Queue.Size),
			JobTimeout:        getEnvAsDuration("JOB_TIMEOUT", b.Queue.JobTimeout),
			VisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", b.Queue.VisibilityTimeout),
			MaxDeliveries:     getEnvAsInt("QUEUE_MAX_DELIVERIES", b.Queue.MaxDeliveries),
			LockTTL:           getEnvAsDuration("LOCK_TTL", b.Queue.LockTTL),
		},
		Pipeline: PipelineConfig{
			PageConcurrency:      getEnvAsInt("PAGE_CONCURRENCY", b.Pipeline.PageConcurrency),
			MaxAttempts:          getEnvAsInt("STAGE_MAX_ATTEMPTS", b.Pipeline.MaxAttempts),
			BackoffInitial:       getEnvAsDuration("BACKOFF_INITIAL", b.Pipeline.BackoffInitial),
			BackoffMax:           getEnvAsDuration("BACKOFF_MAX", b.Pipeline.BackoffMax),
			PersistenceAttempts:  getEnvAsInt("PERSISTENCE_MAX_ATTEMPTS", b.Pipeline.PersistenceAttempts),
			OCRTimeout:           getEnvAsDuration("OCR_TIMEOUT", b.Pipeline.OCRTimeout),
			TableTimeout:         getEnvAsDuration("TABLE_TIMEOUT", b.Pipeline.TableTimeout),
			UnderstandingTimeout: getEnvAsDuration("UNDERSTANDING_TIMEOUT", b.Pipeline.UnderstandingTimeout),
			ReconcileInterval:    getEnvAsDuration("RECONCILE_INTERVAL", b.Pipeline.ReconcileInterval),
			StuckAfter:           getEnvAsDuration("RECONCILE_STUCK_AFTER", b.Pipeline.StuckAfter),
		},
		OCR: OCRConfig{
			Tesseract:   getEnv("TESSERACT_BIN", b.OCR.Tesseract),
			Lang:        getEnv("OCR_LANG", b.OCR.Lang),
			TessdataDir: getEnv("TESSDATA_PREFIX", b.OCR.TessdataDir),
			PSM:         getEnvAsInt("OCR_PSM", b.OCR.PSM),
			OEM:         getEnvAsInt("OCR_OEM", b.OCR.OEM),
		},
		Tables: TablesConfig{
			Enabled: getEnvAsBool("TABLES_ENABLED", b.Tables.Enabled),
			MinRows: getEnvAsInt("TABLES_MIN_ROWS", b.Tables.MinRows),
			MinCols: getEnvAsInt("TABLES_MIN_COLS", b.Tables.MinCols),
		},
		LLM: LLMConfig{
			Provider:        getEnv("LLM_PROVIDER", b.LLM.Provider),
			Model:           getEnv("LLM_MODEL", b.LLM.Model),
			APIKey:          getEnv("OPENAI_API_KEY", b.LLM.APIKey),
			BaseURL:         getEnv("OPENAI_BASE_URL", b.LLM.BaseURL),
			Temperature:     getEnvAsFloat32("LLM_TEMPERATURE", b.LLM.Temperature),
			Timeout:         getEnvAsDuration("LLM_TIMEOUT", b.LLM.Timeout),
			MaxChars:        getEnvAsInt("LLM_MAX_CHARS", b.LLM.MaxChars),
			MinChars:        getEnvAsInt("LLM_MIN_CHARS", b.LLM.MinChars),
			AttachFirstPage: getEnvAsBool("LLM_ATTACH_FIRST_PAGE", b.LLM.AttachFirstPage),
			VertexProject:   getEnv("VERTEX_PROJECT", b.LLM.VertexProject),
			VertexLocation:  getEnv("VERTEX_LOCATION", b.LLM.VertexLocation),
		},
		Index: IndexConfig{
			Backend:  getEnv("INDEX_BACKEND", b.Index.Backend),
			URL:      getEnv("OPENSEARCH_URL", b.Index.URL),
			Name:     getEnv("OPENSEARCH_INDEX", b.Index.Name),
			Username: getEnv("OPENSEARCH_USERNAME", b.Index.Username),
			Password: getEnv("OPENSEARCH_PASSWORD", b.Index.Password),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", b.Storage.Backend),
			Root:    getEnv("STORAGE_ROOT", b.Storage.Root),
			Bucket:  getEnv("STORAGE_BUCKET", b.Storage.Bucket),
		},
		Intake: IntakeConfig{
			Dir:         getEnv("INTAKE_DIR", b.Intake.Dir),
			Debounce:    getEnvAsDuration("INTAKE_DEBOUNCE", b.Intake.Debounce),
			InitialScan: getEnvAsBool("INTAKE_INITIAL_SCAN", b.Intake.InitialScan),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", b.Server.HTTPAddr),
			GRPCAddr: getEnv("GRPC_ADDR", b.Server.GRPCAddr),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", b.Log.Level),
			Format: getEnv("LOG_FORMAT", b.Log.Format),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator().
		Field("DB_URL", c.Database.DSN, Required).
		Field("WORKERS", c.Queue.Workers, Positive).
		Field("QUEUE_SIZE", c.Queue.Size, Positive).
		Field("PAGE_CONCURRENCY", c.Pipeline.PageConcurrency, Positive).
		Field("STAGE_MAX_ATTEMPTS", c.Pipeline.MaxAttempts, Positive).
		Field("PERSISTENCE_MAX_ATTEMPTS", c.Pipeline.PersistenceAttempts, Positive).
		Field("LLM_PROVIDER", c.LLM.Provider, OneOf("openai", "vertex", "none", "")).
		Field("INDEX_BACKEND", c.Index.Backend, OneOf("opensearch", "sql", "memory", "none")).
		Field("STORAGE_BACKEND", c.Storage.Backend, OneOf("fs", "gcs"))
	if c.Storage.Backend == "gcs" {
		v.Field("STORAGE_BUCKET", c.Storage.Bucket, Required)
	}
	if c.Index.Backend == "opensearch" {
		v.Field("OPENSEARCH_URL", c.Index.URL, Required)
	}
	if v.HasErrors() {
		return NewAppError(CodeConfig, v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}
