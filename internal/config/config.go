package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds shell configuration.
type Config struct {
	Prompt PromptConfig
	Jobs   JobsConfig
	Log    LogConfig
}

// PromptConfig controls the prompt. Format expands %u (user), %h (host)
// and %w (working directory).
type PromptConfig struct {
	Format string
	Color  bool
}

// JobsConfig controls job notifications.
type JobsConfig struct {
	// Notify prints a line before the prompt when a background job finishes or stops.
	Notify bool
}

// LogConfig holds diagnostic logging settings.
type LogConfig struct {
	Level string
}

// Load reads configuration from file, env and flags. Env var overrides use
// prefix JOBSHELL_. A config file given explicitly must exist; the default
// one is optional.
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	v.SetDefault("prompt.format", "%u@%h:%w$ ")
	v.SetDefault("prompt.color", true)
	v.SetDefault("jobs.notify", true)
	v.SetDefault("log.level", "warn")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("JOBSHELL_CONFIG")
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			cfgPath = f.Value.String()
		}
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("log.level", f); err != nil {
				return Config{}, fmt.Errorf("bind flag: %w", err)
			}
		}
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "jobshell"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("JOBSHELL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
