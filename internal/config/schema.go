package config

import "time"

// Config holds scanforge configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Providers ProvidersCfg `mapstructure:"providers" yaml:"providers"`
	Pipeline  PipelineCfg  `mapstructure:"pipeline" yaml:"pipeline"`
	RateLimit RateLimitCfg `mapstructure:"rate_limit" yaml:"rate_limit"`
	Server    ServerCfg    `mapstructure:"server" yaml:"server"`
	Firestore FirestoreCfg `mapstructure:"firestore" yaml:"firestore"`
	GCS       GCSCfg       `mapstructure:"gcs" yaml:"gcs"`
	Watch     WatchCfg     `mapstructure:"watch" yaml:"watch"`
}

// ProvidersCfg selects and configures OCR providers.
type ProvidersCfg struct {
	// Default is the provider used when a request names none.
	Default   string       `mapstructure:"default" yaml:"default"`
	OpenAI    OpenAICfg    `mapstructure:"openai" yaml:"openai"`
	Tesseract TesseractCfg `mapstructure:"tesseract" yaml:"tesseract"`
}

// OpenAICfg configures the vision-model OCR provider.
type OpenAICfg struct {
	Model     string `mapstructure:"model" yaml:"model"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	MaxRetries int   `mapstructure:"max_retries" yaml:"max_retries"`
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// TesseractCfg configures the local Tesseract provider.
type TesseractCfg struct {
	Language      string  `mapstructure:"language" yaml:"language"`
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled"`
}

// PipelineCfg tunes chunking and dispatch.
type PipelineCfg struct {
	TargetPages       int           `mapstructure:"target_pages" yaml:"target_pages"`
	MinPages          int           `mapstructure:"min_pages" yaml:"min_pages"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	WorkerCount       int           `mapstructure:"worker_count" yaml:"worker_count"`
	ChunkTimeout      time.Duration `mapstructure:"chunk_timeout" yaml:"chunk_timeout"`
	StaleThreshold    time.Duration `mapstructure:"stale_threshold" yaml:"stale_threshold"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval"`
	DocumentDeadline  time.Duration `mapstructure:"document_deadline" yaml:"document_deadline"`
}

// RateLimitCfg bounds OCR invocations across workers.
type RateLimitCfg struct {
	Limit  int           `mapstructure:"limit" yaml:"limit"`
	Window time.Duration `mapstructure:"window" yaml:"window"`
	Wait   time.Duration `mapstructure:"wait" yaml:"wait"`
}

// ServerCfg configures the HTTP API server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// FirestoreCfg enables the shared Firestore backend for the ledger,
// document store, and coordination store. When disabled everything runs
// in process memory, which is fine for a single host.
type FirestoreCfg struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Project string `mapstructure:"project" yaml:"project"`
	// Collection prefixes
	LedgerCollection   string `mapstructure:"ledger_collection" yaml:"ledger_collection"`
	DocumentCollection string `mapstructure:"document_collection" yaml:"document_collection"`
	CoordCollection    string `mapstructure:"coord_collection" yaml:"coord_collection"`
}

// GCSCfg enables Cloud Storage for results instead of the local home dir.
type GCSCfg struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Bucket  string `mapstructure:"bucket" yaml:"bucket"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix"`
}

// WatchCfg configures the inbox watcher.
type WatchCfg struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersCfg{
			Default: "tesseract",
			OpenAI: OpenAICfg{
				Model:      "gpt-4o-mini",
				APIKey:     "${OPENAI_API_KEY}",
				MaxRetries: 3,
				Enabled:    true,
			},
			Tesseract: TesseractCfg{
				Language:      "eng",
				MinConfidence: 0.3,
				Enabled:       true,
			},
		},
		Pipeline: PipelineCfg{
			TargetPages:       30,
			MinPages:          10,
			MaxRetries:        3,
			WorkerCount:       4,
			ChunkTimeout:      10 * time.Minute,
			StaleThreshold:    2 * time.Minute,
			ReconcileInterval: 10 * time.Second,
			DocumentDeadline:  2 * time.Hour,
		},
		RateLimit: RateLimitCfg{
			Limit:  30,
			Window: time.Minute,
			Wait:   2 * time.Minute,
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: 8271,
		},
		Firestore: FirestoreCfg{
			LedgerCollection:   "chunk_ledger",
			DocumentCollection: "documents",
			CoordCollection:    "coordination",
		},
		Watch: WatchCfg{
			Enabled: false,
		},
	}
}
