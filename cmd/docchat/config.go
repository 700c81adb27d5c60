package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fwojciec/docchat"
	"gopkg.in/yaml.v3"
)

const (
	defaultServer            = "http://localhost:8080"
	defaultMaxStreamDuration = 2 * time.Minute
)

// config holds the CLI settings. Zero fields are unset.
type config struct {
	Server            string        `yaml:"server"`
	Token             string        `yaml:"token"`
	PageSize          int           `yaml:"page_size"`
	MaxStreamDuration time.Duration `yaml:"max_stream_duration"`
	CacheDir          string        `yaml:"cache_dir"`
	LogFile           string        `yaml:"log_file"`
	MetricsAddr       string        `yaml:"metrics_addr"`
}

// envConfig builds a config from DOCCHAT_* variables looked up with getenv.
func envConfig(getenv func(string) string) (config, error) {
	cfg := config{
		Server:      getenv("DOCCHAT_SERVER"),
		Token:       getenv("DOCCHAT_TOKEN"),
		CacheDir:    getenv("DOCCHAT_CACHE_DIR"),
		LogFile:     getenv("DOCCHAT_LOG_FILE"),
		MetricsAddr: getenv("DOCCHAT_METRICS_ADDR"),
	}
	if v := getenv("DOCCHAT_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return config{}, fmt.Errorf("DOCCHAT_PAGE_SIZE: %w", err)
		}
		cfg.PageSize = n
	}
	if v := getenv("DOCCHAT_MAX_STREAM_DURATION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return config{}, fmt.Errorf("DOCCHAT_MAX_STREAM_DURATION: %w", err)
		}
		cfg.MaxStreamDuration = d
	}
	return cfg, nil
}

// loadConfigFile reads a YAML config file. A missing file is tolerated
// unless it was named explicitly.
func loadConfigFile(path string, explicit bool) (config, error) {
	var cfg config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return cfg, nil
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// resolveConfig merges layers field by field. Earlier layers win, then
// defaults fill whatever is still unset.
func resolveConfig(home string, layers ...config) (config, error) {
	var cfg config
	for i := len(layers) - 1; i >= 0; i-- {
		l := layers[i]
		if l.Server != "" {
			cfg.Server = l.Server
		}
		if l.Token != "" {
			cfg.Token = l.Token
		}
		if l.PageSize != 0 {
			cfg.PageSize = l.PageSize
		}
		if l.MaxStreamDuration != 0 {
			cfg.MaxStreamDuration = l.MaxStreamDuration
		}
		if l.CacheDir != "" {
			cfg.CacheDir = l.CacheDir
		}
		if l.LogFile != "" {
			cfg.LogFile = l.LogFile
		}
		if l.MetricsAddr != "" {
			cfg.MetricsAddr = l.MetricsAddr
		}
	}

	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = docchat.DefaultPageSize
	}
	if cfg.PageSize < 0 {
		return config{}, fmt.Errorf("page size must be positive, got %d", cfg.PageSize)
	}
	if cfg.MaxStreamDuration == 0 {
		cfg.MaxStreamDuration = defaultMaxStreamDuration
	}
	if cfg.MaxStreamDuration < 0 {
		return config{}, fmt.Errorf("max stream duration must be positive, got %s", cfg.MaxStreamDuration)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(home, ".docchat", "cache")
	}
	return cfg, nil
}

func defaultConfigPath(home string) string {
	return filepath.Join(home, ".docchat", "config.yaml")
}
