package manualreviewhandoff

import (
	"fmt"
	"time"

	"opz-funnels/internal/common/config"
)

const WorkerName = "manual-review-handoff"

type Config struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxJobsActive  int           `mapstructure:"max_jobs_active"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ZohoBaseURL    string        `mapstructure:"zoho_base_url"`
	ZohoOAuthToken string        `mapstructure:"zoho_oauth_token"`
	LeadSource     string        `mapstructure:"lead_source"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30 * time.Second,
		LeadSource:    "OPZ manual review",
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	if c.ZohoOAuthToken == "" {
		return fmt.Errorf("zoho_oauth_token is required")
	}
	return nil
}

// ConfigFrom reads the worker section and the Zoho integration settings.
func ConfigFrom(appConfig *config.Config) *Config {
	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg
	}
	if workerCfg, ok := appConfig.Workers[WorkerName]; ok {
		cfg.Enabled = workerCfg.Enabled
		if workerCfg.MaxJobsActive > 0 {
			cfg.MaxJobsActive = workerCfg.MaxJobsActive
		}
		if workerCfg.Timeout > 0 {
			cfg.Timeout = time.Duration(workerCfg.Timeout) * time.Millisecond
		}
	}
	cfg.ZohoBaseURL = appConfig.Integrations.Zoho.BaseURL
	cfg.ZohoOAuthToken = appConfig.Integrations.Zoho.AuthToken
	return cfg
}
