package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Corpus    CorpusConfig    `mapstructure:"corpus"`
	Detectors DetectorsConfig `mapstructure:"detectors"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Phone     PhoneConfig     `mapstructure:"phone"`
	Content   ContentConfig   `mapstructure:"content"`
	Deepfake  DeepfakeConfig  `mapstructure:"deepfake"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type NATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
	Subject    string `mapstructure:"subject"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// CorpusConfig points at the reference database of known attack metadata
type CorpusConfig struct {
	Path string `mapstructure:"path"`
	// Speakers attacked at least this many times count as frequently targeted
	TargetedSpeakerThreshold int `mapstructure:"targeted_speaker_threshold"`
	// Minimum token overlap for a transcript to match a reference text
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// DetectorsConfig enables or disables individual detectors
type DetectorsConfig struct {
	PhoneEnabled    bool `mapstructure:"phone_enabled"`
	DeepfakeEnabled bool `mapstructure:"deepfake_enabled"`
	ContentEnabled  bool `mapstructure:"content_enabled"`
}

// RiskConfig holds aggregation weights and level cutoffs
type RiskConfig struct {
	Weights RiskWeights `mapstructure:"weights"`
	Cutoffs RiskCutoffs `mapstructure:"cutoffs"`
	// FoldHistory folds prior rounds' factors into every reassessment;
	// when false, only the latest round plus the phone verification count.
	FoldHistory bool `mapstructure:"fold_history"`
	// FrequencyWindow is the sliding window for the calls-per-number modifier
	FrequencyWindow    time.Duration `mapstructure:"frequency_window"`
	FrequencyThreshold int           `mapstructure:"frequency_threshold"`
}

type RiskWeights struct {
	Phone    float64 `mapstructure:"phone"`
	Deepfake float64 `mapstructure:"deepfake"`
	Content  float64 `mapstructure:"content"`
}

// RiskCutoffs are the lower bounds of each level above SAFE. A score equal
// to a cutoff lands in that cutoff's level.
type RiskCutoffs struct {
	Low      float64 `mapstructure:"low"`
	Medium   float64 `mapstructure:"medium"`
	High     float64 `mapstructure:"high"`
	Critical float64 `mapstructure:"critical"`
	Maximum  float64 `mapstructure:"maximum"`
}

type PhoneConfig struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	DenylistPath    string        `mapstructure:"denylist_path"`
}

type ContentConfig struct {
	ClassifierTimeout time.Duration `mapstructure:"classifier_timeout"`
	ContextTurns      int           `mapstructure:"context_turns"`
	// Claude or OpenAI credentials for the semantic classifier
	Provider     string `mapstructure:"provider"`
	ClaudeAPIKey string `mapstructure:"claude_api_key"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	Model        string `mapstructure:"model"`
}

type DeepfakeConfig struct {
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	ScorerURL           string        `mapstructure:"scorer_url"`
	ScorerTimeout       time.Duration `mapstructure:"scorer_timeout"`
	NeuralWeight        float64       `mapstructure:"neural_weight"`
	PatternWeight       float64       `mapstructure:"pattern_weight"`
}

type ProvidersConfig struct {
	Numverify  ProviderConfig `mapstructure:"numverify"`
	SpamReport ProviderConfig `mapstructure:"spam_report"`
}

type ProviderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	APIURL  string        `mapstructure:"api_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AlertsConfig struct {
	// Level at or above which an alert is dispatched
	Threshold  string        `mapstructure:"threshold"`
	Language   string        `mapstructure:"language"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
	Burst             int  `mapstructure:"burst"`
}

// setDefaults registers every recognized option with its default value
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "callguard")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "1.0.0")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "callguard:")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "CALLGUARD")
	v.SetDefault("nats.subject", "callguard.events")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("corpus.path", "data/attack_corpus.json")
	v.SetDefault("corpus.targeted_speaker_threshold", 3)
	v.SetDefault("corpus.similarity_threshold", 0.7)

	v.SetDefault("detectors.phone_enabled", true)
	v.SetDefault("detectors.deepfake_enabled", true)
	v.SetDefault("detectors.content_enabled", true)

	v.SetDefault("risk.weights.phone", 0.3)
	v.SetDefault("risk.weights.deepfake", 0.4)
	v.SetDefault("risk.weights.content", 0.3)
	v.SetDefault("risk.cutoffs.low", 0.3)
	v.SetDefault("risk.cutoffs.medium", 0.5)
	v.SetDefault("risk.cutoffs.high", 0.7)
	v.SetDefault("risk.cutoffs.critical", 0.85)
	v.SetDefault("risk.cutoffs.maximum", 0.95)
	v.SetDefault("risk.fold_history", false)
	v.SetDefault("risk.frequency_window", time.Hour)
	v.SetDefault("risk.frequency_threshold", 3)

	v.SetDefault("phone.cache_ttl", time.Hour)
	v.SetDefault("phone.provider_timeout", 5*time.Second)

	v.SetDefault("content.classifier_timeout", 30*time.Second)
	v.SetDefault("content.context_turns", 10)
	v.SetDefault("content.provider", "claude")

	v.SetDefault("deepfake.confidence_threshold", 0.5)
	v.SetDefault("deepfake.scorer_timeout", 10*time.Second)
	v.SetDefault("deepfake.neural_weight", 0.6)
	v.SetDefault("deepfake.pattern_weight", 0.4)

	v.SetDefault("providers.numverify.timeout", 5*time.Second)
	v.SetDefault("providers.spam_report.timeout", 5*time.Second)

	v.SetDefault("alerts.threshold", "HIGH")
	v.SetDefault("alerts.language", "en")
	v.SetDefault("alerts.timeout", 10*time.Second)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_second", 50)
	v.SetDefault("ratelimit.burst", 100)
}

// Validate checks the configuration once at startup
func (c *Config) Validate() error {
	w := c.Risk.Weights
	if w.Phone < 0 || w.Deepfake < 0 || w.Content < 0 {
		return fmt.Errorf("risk weights must be non-negative")
	}
	if w.Phone+w.Deepfake+w.Content == 0 {
		return fmt.Errorf("at least one risk weight must be positive")
	}
	cut := c.Risk.Cutoffs
	if !(cut.Low < cut.Medium && cut.Medium < cut.High && cut.High < cut.Critical && cut.Critical < cut.Maximum) {
		return fmt.Errorf("risk cutoffs must be strictly increasing")
	}
	if c.Deepfake.ConfidenceThreshold < 0 || c.Deepfake.ConfidenceThreshold > 1 {
		return fmt.Errorf("deepfake confidence threshold must be in [0,1]")
	}
	if c.Risk.FrequencyWindow <= 0 {
		return fmt.Errorf("risk frequency window must be positive")
	}
	return nil
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/callguard")
	}

	setDefaults(v)

	v.SetEnvPrefix("CALLGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper doesn't auto-bind nested struct fields
	v.BindEnv("redis.enabled", "CALLGUARD_REDIS_ENABLED")
	v.BindEnv("redis.host", "CALLGUARD_REDIS_HOST")
	v.BindEnv("redis.password", "CALLGUARD_REDIS_PASSWORD")
	v.BindEnv("database.enabled", "CALLGUARD_DATABASE_ENABLED")
	v.BindEnv("database.host", "CALLGUARD_DATABASE_HOST")
	v.BindEnv("database.password", "CALLGUARD_DATABASE_PASSWORD")
	v.BindEnv("nats.enabled", "CALLGUARD_NATS_ENABLED")
	v.BindEnv("content.claude_api_key", "CALLGUARD_CONTENT_CLAUDE_API_KEY")
	v.BindEnv("content.openai_api_key", "CALLGUARD_CONTENT_OPENAI_API_KEY")
	v.BindEnv("app.environment", "CALLGUARD_APP_ENVIRONMENT")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env cover everything
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default search paths
func LoadDefault() (*Config, error) {
	return Load("")
}
