package server

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/zond/usurper"
	"github.com/zond/usurper/game"
	"gopkg.in/yaml.v3"
)

// Config is everything needed to run a server. Values come from
// DefaultConfig, then an optional YAML file, then the environment, then
// command line flags.
type Config struct {
	Dir           string `yaml:"dir" env:"DIR"`
	TCPAddr       string `yaml:"tcp_addr" env:"TCP_ADDR"`
	SSHAddr       string `yaml:"ssh_addr" env:"SSH_ADDR"`
	ControlSocket string `yaml:"control_socket" env:"CONTROL_SOCKET"`
	MetricsAddr   string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	LogFile       string `yaml:"log_file" env:"LOG_FILE"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" env:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `yaml:"log_max_backups" env:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `yaml:"log_max_age_days" env:"LOG_MAX_AGE_DAYS"`

	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	IdleCheckInterval time.Duration `yaml:"idle_check_interval" env:"IDLE_CHECK_INTERVAL"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	DisconnectGrace   time.Duration `yaml:"disconnect_grace" env:"DISCONNECT_GRACE"`
	InviteTimeout     time.Duration `yaml:"invite_timeout" env:"INVITE_TIMEOUT"`
	LoginInterval     time.Duration `yaml:"login_interval" env:"LOGIN_INTERVAL"`
	MaxGroupSize      int           `yaml:"max_group_size" env:"MAX_GROUP_SIZE"`
	MaxLineLength     int           `yaml:"max_line_length" env:"MAX_LINE_LENGTH"`
	TrustPreauth      bool          `yaml:"trust_preauth" env:"TRUST_PREAUTH"`

	// BootstrapAdmins are raised to God at startup if they exist.
	BootstrapAdmins []string `yaml:"bootstrap_admins" env:"BOOTSTRAP_ADMINS" envSeparator:","`
}

const envPrefix = "USURPER_"

func DefaultConfig() Config {
	g := game.DefaultConfig()
	dir := filepath.Join(os.Getenv("HOME"), ".usurper")
	return Config{
		Dir:               dir,
		TCPAddr:           ":4000",
		ControlSocket:     filepath.Join(dir, "control.sock"),
		LogMaxSizeMB:      100,
		LogMaxBackups:     5,
		LogMaxAgeDays:     30,
		IdleTimeout:       g.IdleTimeout,
		IdleCheckInterval: g.IdleCheckInterval,
		HandshakeTimeout:  g.HandshakeTimeout,
		DisconnectGrace:   g.DisconnectGrace,
		InviteTimeout:     g.InviteTimeout,
		LoginInterval:     g.LoginInterval,
		MaxGroupSize:      g.MaxGroupSize,
		MaxLineLength:     g.MaxLineLength,
		TrustPreauth:      g.TrustPreauth,
	}
}

// LoadConfigFile overlays the YAML file at path onto c. Keys missing from
// the file keep their current values.
func (c *Config) LoadConfigFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return usurper.WithStack(err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ParseEnv overlays USURPER_ prefixed environment variables onto c.
func (c *Config) ParseEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Game returns the runtime subset used by the game.
func (c Config) Game() game.Config {
	g := game.DefaultConfig()
	g.IdleTimeout = c.IdleTimeout
	g.IdleCheckInterval = c.IdleCheckInterval
	g.HandshakeTimeout = c.HandshakeTimeout
	g.DisconnectGrace = c.DisconnectGrace
	g.InviteTimeout = c.InviteTimeout
	g.LoginInterval = c.LoginInterval
	g.MaxGroupSize = c.MaxGroupSize
	g.MaxLineLength = c.MaxLineLength
	g.TrustPreauth = c.TrustPreauth
	return g
}
