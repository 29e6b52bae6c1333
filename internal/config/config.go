// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"solana-action-relay/internal/domain"
)

// SigningMode selects who signs the transaction of an action.
type SigningMode string

// Signing modes
const (
	// SigningCustodial signs with the server-held wallet key and relays.
	SigningCustodial SigningMode = "custodial"
	// SigningClient returns the unsigned payload for the client to sign.
	SigningClient SigningMode = "client"
)

// Config is the service configuration.
type Config struct {
	// Key custody
	MasterPassphrase string `env:"MASTER_PASSPHRASE"`
	VaultSalt        string `env:"VAULT_SALT" envDefault:"solana-action-relay"`

	// Ledger
	RPCEndpoint string `env:"SOLANA_RPC_ENDPOINT"`
	WSEndpoint  string `env:"SOLANA_WS_ENDPOINT"`

	// Storage
	UseMemory      bool          `env:"USE_MEMORY"`
	PostgresDSN    string        `env:"POSTGRES_DSN"`
	ClickhouseDSN  string        `env:"CLICKHOUSE_DSN"`
	RedisAddr      string        `env:"REDIS_ADDR"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	RunMigrations  bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"15s"`

	// Collaborators
	JupiterEndpoint     string        `env:"JUPITER_ENDPOINT" envDefault:"https://quote-api.jup.ag/v6"`
	MintEndpoint        string        `env:"MINT_ENDPOINT"`
	MetadataEndpoint    string        `env:"METADATA_ENDPOINT"`
	CollaboratorTimeout time.Duration `env:"COLLABORATOR_TIMEOUT" envDefault:"10s"`
	SlippageBps         int           `env:"SLIPPAGE_BPS" envDefault:"50"`

	// Sessions
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"10m"`
	// SessionLockTTL bounds how long one turn may hold a shared session key.
	SessionLockTTL time.Duration `env:"SESSION_LOCK_TTL" envDefault:"30s"`

	// Relay
	RelayMaxAttempts  int           `env:"RELAY_MAX_ATTEMPTS" envDefault:"3"`
	RelayInitialDelay time.Duration `env:"RELAY_INITIAL_DELAY" envDefault:"500ms"`
	RelayMaxDelay     time.Duration `env:"RELAY_MAX_DELAY" envDefault:"5s"`

	// Hub
	HubPingInterval   time.Duration `env:"HUB_PING_INTERVAL" envDefault:"30s"`
	HubMaxMissedPongs int           `env:"HUB_MAX_MISSED_PONGS" envDefault:"3"`
	HubMessageRate    float64       `env:"HUB_MESSAGE_RATE" envDefault:"5"`

	// Signing policy per action kind
	SwapSigning   SigningMode `env:"SWAP_SIGNING" envDefault:"custodial"`
	LaunchSigning SigningMode `env:"LAUNCH_SIGNING" envDefault:"client"`

	// Server
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment  bool          `env:"LOG_DEVELOPMENT"`
}

// Load reads envFile if it exists, without overriding variables already set,
// then parses the environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var errs []error
	if c.MasterPassphrase == "" {
		errs = append(errs, errors.New("MASTER_PASSPHRASE is required"))
	}
	if c.RPCEndpoint == "" {
		errs = append(errs, errors.New("SOLANA_RPC_ENDPOINT is required"))
	}
	if !c.UseMemory && (c.PostgresDSN == "" || c.ClickhouseDSN == "") {
		errs = append(errs, errors.New("POSTGRES_DSN and CLICKHOUSE_DSN are required (set USE_MEMORY for in-memory storage)"))
	}
	for name, mode := range map[string]SigningMode{"SWAP_SIGNING": c.SwapSigning, "LAUNCH_SIGNING": c.LaunchSigning} {
		if mode != SigningCustodial && mode != SigningClient {
			errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", name, SigningCustodial, SigningClient, mode))
		}
	}
	if c.RelayMaxAttempts < 1 {
		errs = append(errs, errors.New("RELAY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RedisAddr != "" && c.SessionLockTTL <= c.CollaboratorTimeout {
		errs = append(errs, errors.New("SESSION_LOCK_TTL must exceed COLLABORATOR_TIMEOUT"))
	}
	if c.HubMaxMissedPongs < 1 {
		errs = append(errs, errors.New("HUB_MAX_MISSED_PONGS must be at least 1"))
	}
	return errors.Join(errs...)
}

// Signing returns the signing mode for kind.
func (c *Config) Signing(kind domain.ActionKind) SigningMode {
	switch kind {
	case domain.ActionSwap:
		return c.SwapSigning
	case domain.ActionLaunch:
		return c.LaunchSigning
	}
	return SigningClient
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.MasterPassphrase != "" {
		c.MasterPassphrase = "***"
	}
	if c.RedisPassword != "" {
		c.RedisPassword = "***"
	}
	c.PostgresDSN = redactDSN(c.PostgresDSN)
	c.ClickhouseDSN = redactDSN(c.ClickhouseDSN)
	return c
}

// redactDSN hides the password of a URL-style DSN.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		return dsn[:scheme+3] + creds[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
