// Package daemon holds the process configuration: a TOML file at
// $SHF_HOME/config.toml, overridden by SHF_* environment variables.
//
//	[ledger]
//	subject = "alice"
//	store   = "sqlite"        # memory | sqlite | postgres
//
//	[score]
//	baseline = 600
//
//	[rates]
//	corn = "2"
//	seeds = "0.25"
//
//	[api]
//	port = 8787
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/conversion"
	"github.com/tutu-network/shf/internal/infra/reputation"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Ledger  LedgerConfig      `toml:"ledger"`
	Score   reputation.Scale  `toml:"score"`
	Rates   map[string]string `toml:"rates"`
	Catalog CatalogConfig     `toml:"catalog"`
	API     APIConfig         `toml:"api"`
	Log     LogConfig         `toml:"log"`
}

// LedgerConfig selects the store and the default subject for CLI commands.
type LedgerConfig struct {
	Subject          string `toml:"subject"`
	Store            string `toml:"store"`
	DSN              string `toml:"dsn"`      // postgres only
	DataDir          string `toml:"data_dir"` // sqlite only
	MaxAppendRetries int    `toml:"max_append_retries"`
}

// CatalogConfig points at an operator catalog file. Empty = built-in rules.
type CatalogConfig struct {
	Path string `toml:"path"`
}

// APIConfig configures `shf serve`.
type APIConfig struct {
	Host         string  `toml:"host"`
	Port         int     `toml:"port"`
	RateLimitRPS float64 `toml:"rate_limit_rps"` // 0 disables limiting
	RateBurst    int     `toml:"rate_burst"`
}

// Addr returns host:port.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text | json
}

// envOverrides are applied on top of the file. Unset variables keep the file value.
type envOverrides struct {
	Subject     string `env:"SHF_SUBJECT"`
	Store       string `env:"SHF_STORE"`
	DSN         string `env:"SHF_DSN"`
	DataDir     string `env:"SHF_DATA_DIR"`
	CatalogPath string `env:"SHF_CATALOG"`
	APIHost     string `env:"SHF_API_HOST"`
	APIPort     int    `env:"SHF_API_PORT"`
	LogLevel    string `env:"SHF_LOG_LEVEL"`
	LogFormat   string `env:"SHF_LOG_FORMAT"`
}

// Home returns the shf home directory ($SHF_HOME, default ~/.shf).
func Home() string {
	if h := os.Getenv("SHF_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shf"
	}
	return filepath.Join(home, ".shf")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Ledger: LedgerConfig{
			Subject:          "default",
			Store:            StoreSQLite,
			DataDir:          filepath.Join(Home(), "data"),
			MaxAppendRetries: 5,
		},
		Score: reputation.DefaultScale(),
		Rates: copyRates(conversion.DefaultRates),
		API: APIConfig{
			Host:         "127.0.0.1",
			Port:         8787,
			RateLimitRPS: 20,
			RateBurst:    40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the config file at path (default path when empty), applies
// environment overrides and validates the result. A missing file is not an
// error: defaults are used.
func Load(path string) (Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, &cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// defaults
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays SHF_* environment variables.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Ledger.Subject, o.Subject)
	set(&c.Ledger.Store, o.Store)
	set(&c.Ledger.DSN, o.DSN)
	set(&c.Ledger.DataDir, o.DataDir)
	set(&c.Catalog.Path, o.CatalogPath)
	set(&c.API.Host, o.APIHost)
	set(&c.Log.Level, o.LogLevel)
	set(&c.Log.Format, o.LogFormat)
	if o.APIPort != 0 {
		c.API.Port = o.APIPort
	}
	return nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Ledger.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Ledger.DSN == "" {
			return errors.New("ledger.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("ledger.store %q: want memory, sqlite or postgres", c.Ledger.Store)
	}
	if c.Ledger.Store == StoreSQLite && c.Ledger.DataDir == "" {
		return errors.New("ledger.data_dir is required for the sqlite store")
	}
	if c.Ledger.MaxAppendRetries < 0 {
		return errors.New("ledger.max_append_retries must not be negative")
	}
	if err := c.Score.Validate(); err != nil {
		return fmt.Errorf("score: %w", err)
	}
	if _, err := c.RateTable(); err != nil {
		return fmt.Errorf("rates: %w", err)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.API.RateLimitRPS < 0 {
		return errors.New("api.rate_limit_rps must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// RateTable parses the [rates] section. File entries are merged over the
// default rates.
func (c Config) RateTable() (*conversion.RateTable, error) {
	raw := make(map[domain.Token]string, len(c.Rates))
	for tok, rate := range c.Rates {
		raw[domain.Token(tok)] = rate
	}
	return conversion.NewRateTable(raw)
}

// Save writes the config as TOML, creating the parent directory.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}

func copyRates(in map[domain.Token]string) map[string]string {
	out := make(map[string]string, len(in))
	for tok, rate := range in {
		out[string(tok)] = rate
	}
	return out
}
