package config

import (
	"fmt"
	"strings"
)

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig                `mapstructure:"app"`
	Server       ServerConfig             `mapstructure:"server"`
	Camunda      CamundaConfig            `mapstructure:"camunda"`
	Database     DatabaseConfig           `mapstructure:"database"`
	Draft        DraftConfig              `mapstructure:"draft"`
	Audit        AuditConfig              `mapstructure:"audit"`
	Partners     map[string]PartnerConfig `mapstructure:"partners"`
	Submission   SubmissionConfig         `mapstructure:"submission"`
	Workers      map[string]WorkerConfig  `mapstructure:"workers"`
	Auth         AuthConfig               `mapstructure:"auth"`
	Integrations IntegrationConfig        `mapstructure:"integrations"`
	Logging      LoggingConfig            `mapstructure:"logging"`
	Tracing      TracingConfig            `mapstructure:"tracing"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ReadTimeout     int `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int `mapstructure:"shutdown_timeout"` // milliseconds
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DraftConfig selects where in-progress funnels are saved.
type DraftConfig struct {
	Backend     string `mapstructure:"backend"` // redis | memory
	KeyPrefix   string `mapstructure:"key_prefix"`
	TTL         int    `mapstructure:"ttl"`          // milliseconds, 0 keeps drafts forever
	QuotaBytes  int    `mapstructure:"quota_bytes"`  // memory backend only
	SessionIdle int    `mapstructure:"session_idle"` // milliseconds a session stays in memory without requests
}

// AuditConfig selects the referral audit log backend.
type AuditConfig struct {
	Backend    string `mapstructure:"backend"` // redis | postgres | memory
	MaxEntries int    `mapstructure:"max_entries"`
	Key        string `mapstructure:"key"`
	Table      string `mapstructure:"table"`
	Mirror     struct {
		Enabled bool   `mapstructure:"enabled"`
		Index   string `mapstructure:"index"`
	} `mapstructure:"mirror"`
}

// PartnerConfig holds the signing secret and redirect base of one partner.
// Secrets never leave the server.
type PartnerConfig struct {
	Secret      string `mapstructure:"secret"`
	RedirectURL string `mapstructure:"redirect_url"`
	// CallbackSecret verifies completion callbacks. Falls back to Secret.
	CallbackSecret string `mapstructure:"callback_secret"`
}

// VerificationSecret returns the secret used for inbound callbacks.
func (p PartnerConfig) VerificationSecret() string {
	if p.CallbackSecret != "" {
		return p.CallbackSecret
	}
	return p.Secret
}

// SubmissionConfig points at the internal backend receiving non-referral flows.
type SubmissionConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// AuthConfig holds the Keycloak client protecting the referral API.
type AuthConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Keycloak struct {
		URL          string `mapstructure:"url"`
		Realm        string `mapstructure:"realm"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
	} `mapstructure:"keycloak"`
}

// IntegrationConfig holds settings for CRM, email and event publication.
type IntegrationConfig struct {
	Zoho struct {
		BaseURL   string `mapstructure:"base_url"`
		APIKey    string `mapstructure:"api_key"`
		AuthToken string `mapstructure:"oauth_token"`
	} `mapstructure:"zoho"`

	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
			OpsEmail  string `mapstructure:"ops_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TracingConfig enables the Jaeger span exporter.
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// Partner returns the configuration of a partner, matched case-insensitively.
func (c *Config) Partner(name string) (PartnerConfig, bool) {
	p, ok := c.Partners[strings.ToLower(name)]
	return p, ok
}
