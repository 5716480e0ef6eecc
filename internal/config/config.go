package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/nmscd/warroom/internal/domain"
)

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath                    string `json:"db_path" env:"WARROOM_DB_PATH"`
	ListenAddr                string `json:"listen_addr" env:"WARROOM_LISTEN_ADDR"`
	AuthHMACSecret            string `json:"auth_hmac_secret" env:"WARROOM_AUTH_HMAC_SECRET"`
	AuthIssuer                string `json:"auth_issuer" env:"WARROOM_AUTH_ISSUER"`
	CounterOfferCap           int    `json:"counter_offer_cap" env:"WARROOM_COUNTER_OFFER_CAP"`
	NegotiateFromAcknowledged *bool  `json:"negotiate_from_acknowledged" env:"WARROOM_NEGOTIATE_FROM_ACKNOWLEDGED"`
	ActivityFeedRetention     int    `json:"activity_feed_retention" env:"WARROOM_ACTIVITY_FEED_RETENTION"`
	RequestTimeoutSec         int    `json:"request_timeout_sec" env:"WARROOM_REQUEST_TIMEOUT_SEC"`
}

// Load reads a JSON config file, applies environment overrides and defaults,
// and validates. An empty path skips the file and uses environment only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	// Environment variables win over file values.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// AllowAcknowledgedNegotiation reports whether proposals may be filed while a
// conflict is still in the acknowledged state.
func (c *Config) AllowAcknowledgedNegotiation() bool {
	return c.NegotiateFromAcknowledged == nil || *c.NegotiateFromAcknowledged
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9700"
	}
	if c.CounterOfferCap == 0 {
		c.CounterOfferCap = 2
	}
	if c.ActivityFeedRetention == 0 {
		c.ActivityFeedRetention = 500
	}
	if c.RequestTimeoutSec == 0 {
		c.RequestTimeoutSec = 15
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.AuthHMACSecret == "" {
		problems = append(problems, "auth_hmac_secret is required")
	}
	if c.CounterOfferCap < 0 {
		problems = append(problems, "counter_offer_cap must not be negative")
	}
	if c.ActivityFeedRetention < 0 {
		problems = append(problems, "activity_feed_retention must not be negative")
	}

	if len(problems) > 0 {
		return &domain.WarRoomError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
