package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/go-kit/log/level"
	"gopkg.in/yaml.v3"

	"colf/pkg/colf_file"
)

const (
	DefaultListenAddress   = ":8080"
	DefaultDataDir         = "./colf-data"
	DefaultHeaderCacheSize = 256
	DefaultLogLevel        = "info"
)

// Config holds the colf server configuration.
type Config struct {
	Server          ServerConfig `yaml:"server"`
	Codec           CodecConfig  `yaml:"codec"`
	HeaderCacheSize int          `yaml:"header_cache_size"`
	LogLevel        string       `yaml:"log_level"`
}

type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
	// DataDir holds the catalog and every dataset file.
	DataDir string `yaml:"data_dir"`
}

type CodecConfig struct {
	// Compression codec for new files (zlib, zstd, s2, lz4, none)
	Compression string `yaml:"compression"`
}

func prefixConfig(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Server.ListenAddress, prefixConfig(prefix, "server.listen-address"), DefaultListenAddress, "HTTP listen address.")
	f.StringVar(&cfg.Server.DataDir, prefixConfig(prefix, "server.data-dir"), DefaultDataDir, "Directory holding the catalog and dataset files.")
	f.StringVar(&cfg.Codec.Compression, prefixConfig(prefix, "codec.compression"), colf_file.DefaultCompression,
		fmt.Sprintf("Column block compression (%s).", strings.Join(colf_file.CompressorNames(), ", ")))
	f.IntVar(&cfg.HeaderCacheSize, prefixConfig(prefix, "header-cache-size"), DefaultHeaderCacheSize, "Number of parsed file headers kept in memory.")
	f.StringVar(&cfg.LogLevel, prefixConfig(prefix, "log.level"), DefaultLogLevel, "Log level (debug, info, warn, error).")
}

// Load overlays the YAML file at path on top of cfg. Keys missing from the
// file keep their current values.
func (cfg *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (cfg *Config) Validate() error {
	if cfg.Server.ListenAddress == "" {
		return errors.New("server listen address must not be empty")
	}
	if cfg.Server.DataDir == "" {
		return errors.New("server data dir must not be empty")
	}
	if _, err := colf_file.CompressorByName(cfg.Codec.Compression); err != nil {
		return fmt.Errorf("invalid codec config: %w", err)
	}
	if cfg.HeaderCacheSize <= 0 {
		return fmt.Errorf("positive value required for header cache size, got %d", cfg.HeaderCacheSize)
	}
	if _, err := cfg.LevelOption(); err != nil {
		return err
	}
	return nil
}

// LevelOption maps LogLevel to a go-kit level filter.
func (cfg *Config) LevelOption() (level.Option, error) {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return level.AllowDebug(), nil
	case "info", "":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return nil, fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
}
