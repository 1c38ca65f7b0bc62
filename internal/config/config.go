// Package config loads and merges configuration from a TOML file and
// environment variable overrides, the way the teacher's own config package
// does — first existing file wins, then env vars layer on top.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so BurntSushi/toml can decode "1s"-style
// strings via encoding.TextUnmarshaler.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

type NUTConfig struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	UPS          string   `toml:"ups"` // comma- or whitespace-separated list of UPS names
	Username     string   `toml:"username"`
	Password     string   `toml:"password"`
	PollInterval Duration `toml:"poll_interval"`
}

// UPSList splits UPS on commas and whitespace into individual UPS names,
// per §4.4's "list of UPS names" requirement. A bare single name (the
// common case) yields a one-element slice.
func (n NUTConfig) UPSList() []string {
	names := strings.FieldsFunc(n.UPS, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	list := make([]string, 0, len(names))
	for _, name := range names {
		if name != "" {
			list = append(list, name)
		}
	}
	return list
}

type TLSMode string

const (
	TLSModeRequire TLSMode = "require"
	TLSModePrefer  TLSMode = "prefer"
	TLSModeDisable TLSMode = "disable"
)

type DatabaseConfig struct {
	Host     string  `toml:"host"`
	Port     int     `toml:"port"`
	Username string  `toml:"username"`
	Password string  `toml:"password"`
	Name     string  `toml:"name"`
	TLSMode  TLSMode `toml:"tls_mode"`
}

type RelayConfig struct {
	TenantID   string `toml:"tenant_id"`
	Secret     string `toml:"secret"`
	ServerID   string `toml:"server_id"`
	Deployment string `toml:"deployment"` // "production" selects the production base URL
}

// Config is the top-level configuration struct, covering the full §6.5
// environment-variable surface.
type Config struct {
	APITOKEN       string         `toml:"api_token"`
	DeviceTokenKey string         `toml:"device_token_key"` // base64, decodes to 32 bytes
	Database       DatabaseConfig `toml:"database"`
	Relay          RelayConfig    `toml:"relay"`
	NUT            NUTConfig      `toml:"nut"`
}

// Degraded reports whether APITOKEN is unset, which per §6.5 puts the
// process into degraded mode: only /health, /ready, /metrics are served.
func (c *Config) Degraded() bool {
	return c.APITOKEN == ""
}

// Environment returns the Relay environment implied by VOLTEEC_DEPLOYMENT.
func (c *Config) Environment() string {
	if c.Relay.Deployment == "production" {
		return "production"
	}
	return "sandbox"
}

// Load reads config from the first existing path in paths, then applies
// environment variable overrides. Missing files are skipped silently; a
// malformed file returns an error. Load() with no arguments returns
// defaults plus whatever env vars are set.
func Load(paths ...string) (*Config, error) {
	cfg := defaults()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, statErr := os.Stat(path); statErr == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %q: %w", path, err)
			}
			break // first found file wins
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("checking config path %q: %w", path, statErr)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			Name:    "upsmonitor",
			TLSMode: TLSModePrefer,
		},
		NUT: NUTConfig{
			Host:         "localhost",
			Port:         3493,
			UPS:          "ups",
			PollInterval: Duration{1 * time.Second},
		},
	}
}

// applyEnvOverrides copies any set spec-named environment variables into
// cfg, per §6.5.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.APITOKEN = v
	}
	if v := os.Getenv("DEVICE_TOKEN_KEY"); v != "" {
		cfg.DeviceTokenKey = v
	}

	if v := os.Getenv("DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DATABASE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = p
		} else {
			log.Printf("config: ignoring invalid DATABASE_PORT=%q: %v", v, err)
		}
	}
	if v := os.Getenv("DATABASE_USERNAME"); v != "" {
		cfg.Database.Username = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DATABASE_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DATABASE_TLS_MODE"); v != "" {
		switch TLSMode(v) {
		case TLSModeRequire, TLSModePrefer, TLSModeDisable:
			cfg.Database.TLSMode = TLSMode(v)
		default:
			log.Printf("config: ignoring invalid DATABASE_TLS_MODE=%q", v)
		}
	}

	if v := os.Getenv("RELAY_TENANT_ID"); v != "" {
		cfg.Relay.TenantID = v
	}
	if v := os.Getenv("RELAY_SECRET"); v != "" {
		cfg.Relay.Secret = v
	}
	if v := os.Getenv("RELAY_SERVER_ID"); v != "" {
		cfg.Relay.ServerID = v
	}
	if v := os.Getenv("VOLTEEC_DEPLOYMENT"); v != "" {
		cfg.Relay.Deployment = v
	}

	if v := os.Getenv("NUT_HOST"); v != "" {
		cfg.NUT.Host = v
	}
	if v := os.Getenv("NUT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.NUT.Port = p
		} else {
			log.Printf("config: ignoring invalid NUT_PORT=%q: %v", v, err)
		}
	}
	if v := os.Getenv("NUT_UPS"); v != "" {
		cfg.NUT.UPS = v
	}
	if v := os.Getenv("NUT_USERNAME"); v != "" {
		cfg.NUT.Username = v
	}
	if v := os.Getenv("NUT_PASSWORD"); v != "" {
		cfg.NUT.Password = v
	}
	if v := os.Getenv("NUT_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NUT.PollInterval = Duration{d}
		} else if secs, err2 := strconv.ParseFloat(v, 64); err2 == nil {
			cfg.NUT.PollInterval = Duration{time.Duration(secs * float64(time.Second))}
		} else {
			log.Printf("config: ignoring invalid NUT_POLL_INTERVAL=%q: %v", v, err)
		}
	}
}
