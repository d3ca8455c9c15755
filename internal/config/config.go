package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Telephony TelephonyConfig `mapstructure:"telephony"`
	Dialer    DialerConfig    `mapstructure:"dialer"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Rating    RatingConfig    `mapstructure:"rating"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	HealthQuery     string        `mapstructure:"health_query"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type ScyllaConfig struct {
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	EventTopic      string        `mapstructure:"event_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	ServiceName       string        `mapstructure:"service_name"`
	SampleRatio       float64       `mapstructure:"sample_ratio"`
	TracingEnabled    bool          `mapstructure:"tracing_enabled"`
	Propagators       []string      `mapstructure:"propagators"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CollectorProtocol string        `mapstructure:"collector_protocol"`
}

// TelephonyConfig describes the voice provider account and callback surface.
type TelephonyConfig struct {
	Provider       string        `mapstructure:"provider"`
	AccountSID     string        `mapstructure:"account_sid"`
	AuthToken      string        `mapstructure:"auth_token"`
	APIKeySID      string        `mapstructure:"api_key_sid"`
	APIKeySecret   string        `mapstructure:"api_key_secret"`
	TwimlAppSID    string        `mapstructure:"twiml_app_sid"`
	CallerID       string        `mapstructure:"caller_id"`
	PublicURL      string        `mapstructure:"public_url"`
	APIBaseURL     string        `mapstructure:"api_base_url"`
	MediaBaseURL   string        `mapstructure:"media_base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CallsPerSecond float64       `mapstructure:"calls_per_second"`
	CallBurst      int           `mapstructure:"call_burst"`
}

// DialerConfig tunes routing, prompts and in-memory retention.
type DialerConfig struct {
	OutboundPrefix    string            `mapstructure:"outbound_prefix"`
	InboundPrefix     string            `mapstructure:"inbound_prefix"`
	HoldMusicURL      string            `mapstructure:"hold_music_url"`
	BusyMessage       string            `mapstructure:"busy_message"`
	FailureMessage    string            `mapstructure:"failure_message"`
	ApologyMessage    string            `mapstructure:"apology_message"`
	VoicemailURLs     map[string]string `mapstructure:"voicemail_urls"`
	DefaultVoicemail  string            `mapstructure:"default_voicemail"`
	PrivateKey        string            `mapstructure:"private_key"`
	MetadataRetention time.Duration     `mapstructure:"metadata_retention"`
	MetadataMaxAge    time.Duration     `mapstructure:"metadata_max_age"`
	SweepInterval     time.Duration     `mapstructure:"sweep_interval"`
	TokenTTL          time.Duration     `mapstructure:"token_ttl"`
}

type SpeechConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	LanguageCode   string        `mapstructure:"language_code"`
	SampleRateHz   int           `mapstructure:"sample_rate_hz"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

type RatingConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("SOFTDIALER")
	v.SetEnvKeyReplacer(NewEnvReplacer())
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "softdialer")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	v.SetDefault("postgres.health_query", "SELECT 1")
	v.SetDefault("scylla.consistency", "quorum")
	v.SetDefault("scylla.timeout", 5*time.Second)
	v.SetDefault("kafka.event_topic", "call-events")
	v.SetDefault("kafka.consumer_group_id", "softdialer-event-worker")
	v.SetDefault("kafka.commit_interval", time.Second)

	v.SetDefault("telephony.provider", "twilio")
	v.SetDefault("telephony.api_base_url", "https://api.twilio.com/2010-04-01")
	v.SetDefault("telephony.media_base_url", "https://api.twilio.com")
	v.SetDefault("telephony.request_timeout", 15*time.Second)
	v.SetDefault("telephony.calls_per_second", 1.0)
	v.SetDefault("telephony.call_burst", 5)

	v.SetDefault("dialer.outbound_prefix", "conf_")
	v.SetDefault("dialer.inbound_prefix", "incoming_conf_")
	v.SetDefault("dialer.busy_message", "All agents are busy. Please try again later.")
	v.SetDefault("dialer.failure_message", "The call could not be completed.")
	v.SetDefault("dialer.apology_message", "We are sorry, we could not reach an agent. Please hold.")
	v.SetDefault("dialer.default_voicemail", "male")
	v.SetDefault("dialer.metadata_retention", 10*time.Minute)
	v.SetDefault("dialer.metadata_max_age", 12*time.Hour)
	v.SetDefault("dialer.sweep_interval", time.Minute)
	v.SetDefault("dialer.token_ttl", time.Hour)

	v.SetDefault("speech.endpoint", "https://speech.googleapis.com/v1/speech:recognize")
	v.SetDefault("speech.language_code", "en-US")
	v.SetDefault("speech.sample_rate_hz", 8000)
	v.SetDefault("speech.request_timeout", 30*time.Second)
	v.SetDefault("speech.cache_ttl", 24*time.Hour)
	v.SetDefault("rating.endpoint", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("rating.model", "gemini-1.5-flash")
	v.SetDefault("rating.request_timeout", 30*time.Second)
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
