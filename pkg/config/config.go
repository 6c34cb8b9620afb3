package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Grants       GrantsConfig       `yaml:"grants"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Audit        AuditConfig        `yaml:"audit"`
	JWT          JWTConfig          `yaml:"jwt"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	APIKey      string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            string `yaml:"port"`
	User            string `yaml:"user"`
	DBName          string `yaml:"name"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// LedgerConfig points at the external wallet API holding cash/bank balances.
type LedgerConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Token       string        `yaml:"token"`
	GuildID     string        `yaml:"guild_id"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// GrantsConfig points at the hosting platform's role API.
type GrantsConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	GuildID    string        `yaml:"guild_id"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type ConfirmationConfig struct {
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	TransferTimeout  time.Duration `yaml:"transfer_timeout"`
	ChallengeTimeout time.Duration `yaml:"challenge_timeout"`
	TransferSecret   string        `yaml:"transfer_secret"`
	SelfSensitive    []string      `yaml:"self_sensitive"`
	Approvers        []string      `yaml:"approvers"`
	ProtectedTargets []string      `yaml:"protected_targets"`
	NonPlayerActors  []string      `yaml:"non_player_actors"`
}

type AuditConfig struct {
	AlertThreshold int64 `yaml:"alert_threshold"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size"`
	CheckOrigin     bool          `yaml:"check_origin"`
	PingPeriod      time.Duration `yaml:"ping_period"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		return nil, err
	}

	var config Config
	configData, err := os.ReadFile("./config.yaml")
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(configData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Ledger.MaxAttempts == 0 {
		c.Ledger.MaxAttempts = 5
	}
	if c.Ledger.CacheTTL == 0 {
		c.Ledger.CacheTTL = 5 * time.Second
	}
	if c.Confirmation.ResetTimeout == 0 {
		c.Confirmation.ResetTimeout = 30 * time.Second
	}
	if c.Confirmation.TransferTimeout == 0 {
		c.Confirmation.TransferTimeout = 60 * time.Second
	}
	if c.Confirmation.ChallengeTimeout == 0 {
		c.Confirmation.ChallengeTimeout = 120 * time.Second
	}
	if len(c.Confirmation.SelfSensitive) == 0 {
		c.Confirmation.SelfSensitive = []string{
			"reset", "transfer", "grant_change", "balance_adjust", "sanction_removal",
		}
	}
	if c.Audit.AlertThreshold == 0 {
		c.Audit.AlertThreshold = 100000
	}
}
