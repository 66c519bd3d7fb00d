package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/m4xw311/conch/errors"
	"gopkg.in/yaml.v3"
)

// Wrapper holds settings for the conch terminal wrapper.
type Wrapper struct {
	// Shell overrides $SHELL as the program hosted inside the PTY.
	Shell string `yaml:"shell"`
	// Trigger is the character that opens the assistant prompt when typed
	// first on a fresh shell prompt line.
	Trigger string `yaml:"trigger"`
	// HistoryLimit caps the number of records kept in the context store.
	HistoryLimit int `yaml:"history_limit"`
	// RequestTimeoutSecs bounds a single assistant exchange.
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
	LogFile            string `yaml:"log_file"`
}

// RequestTimeout returns the assistant exchange bound as a duration.
func (w Wrapper) RequestTimeout() time.Duration {
	return time.Duration(w.RequestTimeoutSecs) * time.Second
}

// Daemon holds settings for conchd.
type Daemon struct {
	LLMClient string `yaml:"llm"`
	Model     string `yaml:"model"`
	// MaxSessions bounds concurrently attached wrapper sessions.
	MaxSessions int `yaml:"max_sessions"`
	// ContextWindow is how many command dialogues feed the provider prompt.
	ContextWindow int `yaml:"context_window"`
	// AllowedCommands are doublestar patterns; a suggested command is only
	// marked executable when it matches one of them.
	AllowedCommands []string `yaml:"allowed_commands"`
	HistoryDB       string   `yaml:"history_db"`
	LogLevel        string   `yaml:"log_level"`
}

type Config struct {
	// Socket is the unix socket path both binaries rendezvous on.
	Socket  string  `yaml:"socket"`
	Wrapper Wrapper `yaml:"wrapper"`
	Daemon  Daemon  `yaml:"daemon"`
}

const defaultSocket = "/tmp/conchd.sock"

func defaults() *Config {
	return &Config{
		Socket: defaultSocket,
		Wrapper: Wrapper{
			Trigger:            ":",
			HistoryLimit:       256,
			RequestTimeoutSecs: 30,
		},
		Daemon: Daemon{
			MaxSessions:   16,
			ContextWindow: 3,
		},
	}
}

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".conch", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".conch", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	return cfg, nil
}

// LoadFile loads a single config file over the defaults. Used by conchd,
// which takes an explicit -config flag.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading config %s", path)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, giving a simple merge
	// where later files replace earlier ones.
	return yaml.Unmarshal(data, cfg)
}
