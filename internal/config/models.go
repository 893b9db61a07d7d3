package config

import (
	"fmt"
	"time"
)

// ServerConfig represents the HTTP API configuration
type ServerConfig struct {
	ListenAddress   string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

// IngestConfig represents the orchestrator limits and timeouts
type IngestConfig struct {
	DefaultLimit   int
	MaxLimit       int
	MessageTimeout time.Duration
	CloseTimeout   time.Duration
}

// IMAPConfig represents the IMAP source configuration
type IMAPConfig struct {
	Port         int
	DefaultHost  string
	DialTimeout  time.Duration
	FetchTimeout time.Duration
	Servers      map[string]string
}

// GmailConfig represents the Gmail API source configuration
type GmailConfig struct {
	Timeout                    time.Duration
	Endpoint                   string
	BreakerMaxRequests         uint32
	BreakerInterval            time.Duration
	BreakerTimeout             time.Duration
	BreakerConsecutiveFailures uint32
}

// NormalizeConfig represents the message normalizer configuration
type NormalizeConfig struct {
	MaxFutureSkew time.Duration
	HTMLFallback  bool
}

// ClassifierConfig represents the classifier selection
type ClassifierConfig struct {
	Provider       string
	VectorizerPath string
	ModelPath      string
	Threshold      float64
	TrustedDomains []string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// StoreConfig represents the message store configuration
type StoreConfig struct {
	Type         string
	SQLiteDriver string
	SQLitePath   string
	MySQLDSN     string
	PostgresDSN  string
}

// AccountConfig is one mailbox polled in the background
type AccountConfig struct {
	Source     string `mapstructure:"source"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Token      string `mapstructure:"token"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	KeyringKey string `mapstructure:"keyring_key"`
	Limit      int    `mapstructure:"limit"`
}

// PollerConfig represents the background poller configuration
type PollerConfig struct {
	Enabled        bool
	Schedule       string
	RunTimeout     time.Duration
	KeyringService string
	KeyringDir     string
	Accounts       []AccountConfig
}

// NotifyConfig represents the RabbitMQ notifier configuration
type NotifyConfig struct {
	Enabled        bool
	AMQPURL        string
	Exchange       string
	RoutingKey     string
	PublishTimeout time.Duration
}

// GetServer returns the HTTP server configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		ListenAddress:   c.GetString("server.listen_address"),
		CORSOrigins:     c.GetStringSlice("server.cors_origins"),
		ShutdownTimeout: c.v.GetDuration("server.shutdown_timeout"),
	}
}

// GetIngest returns the orchestrator configuration
func (c *Config) GetIngest() IngestConfig {
	return IngestConfig{
		DefaultLimit:   c.GetInt("ingest.default_limit"),
		MaxLimit:       c.GetInt("ingest.max_limit"),
		MessageTimeout: c.v.GetDuration("ingest.message_timeout"),
		CloseTimeout:   c.v.GetDuration("ingest.close_timeout"),
	}
}

// GetIMAP returns the IMAP source configuration
func (c *Config) GetIMAP() IMAPConfig {
	return IMAPConfig{
		Port:         c.GetInt("imap.port"),
		DefaultHost:  c.GetString("imap.default_host"),
		DialTimeout:  c.v.GetDuration("imap.dial_timeout"),
		FetchTimeout: c.v.GetDuration("imap.fetch_timeout"),
		Servers:      c.GetStringMapString("imap.servers"),
	}
}

// GetGmail returns the Gmail source configuration
func (c *Config) GetGmail() GmailConfig {
	return GmailConfig{
		Timeout:                    c.v.GetDuration("gmail.timeout"),
		Endpoint:                   c.GetString("gmail.endpoint"),
		BreakerMaxRequests:         c.v.GetUint32("gmail.breaker.max_requests"),
		BreakerInterval:            c.v.GetDuration("gmail.breaker.interval"),
		BreakerTimeout:             c.v.GetDuration("gmail.breaker.timeout"),
		BreakerConsecutiveFailures: c.v.GetUint32("gmail.breaker.consecutive_failures"),
	}
}

// GetNormalize returns the normalizer configuration
func (c *Config) GetNormalize() NormalizeConfig {
	return NormalizeConfig{
		MaxFutureSkew: c.v.GetDuration("normalize.max_future_skew"),
		HTMLFallback:  c.GetBool("normalize.html_fallback"),
	}
}

// GetClassifier returns the classifier configuration
func (c *Config) GetClassifier() ClassifierConfig {
	return ClassifierConfig{
		Provider:       c.GetString("classifier.provider"),
		VectorizerPath: c.GetString("classifier.vectorizer_path"),
		ModelPath:      c.GetString("classifier.model_path"),
		Threshold:      c.GetFloat64("classifier.threshold"),
		TrustedDomains: c.GetStringSlice("classifier.trusted_domains"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetStore returns the message store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:         c.GetString("store.type"),
		SQLiteDriver: c.GetString("store.sqlite_driver"),
		SQLitePath:   c.GetString("store.sqlite_path"),
		MySQLDSN:     c.GetString("store.mysql_dsn"),
		PostgresDSN:  c.GetString("store.postgres_dsn"),
	}
}

// GetPoller returns the poller configuration including its accounts
func (c *Config) GetPoller() (PollerConfig, error) {
	var accounts []AccountConfig
	if err := c.v.UnmarshalKey("poller.accounts", &accounts); err != nil {
		return PollerConfig{}, fmt.Errorf("failed to decode poller accounts: %w", err)
	}
	return PollerConfig{
		Enabled:        c.GetBool("poller.enabled"),
		Schedule:       c.GetString("poller.schedule"),
		RunTimeout:     c.v.GetDuration("poller.run_timeout"),
		KeyringService: c.GetString("poller.keyring_service"),
		KeyringDir:     c.GetString("poller.keyring_dir"),
		Accounts:       accounts,
	}, nil
}

// GetNotify returns the notifier configuration
func (c *Config) GetNotify() NotifyConfig {
	return NotifyConfig{
		Enabled:        c.GetBool("notify.enabled"),
		AMQPURL:        c.GetString("notify.amqp_url"),
		Exchange:       c.GetString("notify.exchange"),
		RoutingKey:     c.GetString("notify.routing_key"),
		PublishTimeout: c.v.GetDuration("notify.publish_timeout"),
	}
}
