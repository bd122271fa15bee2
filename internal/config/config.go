package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/adrg/xdg"
	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

const configFileName = "tordisk"

// Preallocation policies accepted in the config file.
const (
	PreallocationNone   = "none"
	PreallocationSparse = "sparse"
	PreallocationFull   = "full"
)

// Config holds the configuration options for the application.
type Config struct {
	// DownloadDir is where completed data lives.
	DownloadDir string `yaml:"downloadDir,omitempty"`
	// IncompleteDir, when set, holds data of torrents that are not finished yet.
	IncompleteDir string `yaml:"incompleteDir,omitempty"`
	// IncompleteFileNaming appends ".part" to files that are not complete.
	IncompleteFileNaming bool   `yaml:"incompleteFileNaming,omitempty"`
	Preallocation        string `yaml:"preallocation,omitempty"`
	OpenFileLimit        int    `yaml:"openFileLimit,omitempty"`
	// CacheSize bounds the block read cache, e.g. "4MB". An explicit 0
	// disables the cache; leaving it out keeps the default.
	CacheSize datasize.ByteSize `yaml:"cacheSize,omitempty"`
	// PrefetchMagnetMetadata keeps a magnet torrent stopped once its
	// metadata has been assembled.
	PrefetchMagnetMetadata bool   `yaml:"prefetchMagnetMetadata,omitempty"`
	VerifyWorkers          int    `yaml:"verifyWorkers,omitempty"`
	StateDir               string `yaml:"stateDir,omitempty"`
	LogFile                string `yaml:"logFile,omitempty"`
	Debug                  bool   `yaml:"debug,omitempty"`
}

// Path returns the location of the configuration file.
func Path() string {
	return filepath.Join(xdg.ConfigHome, configFileName)
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it returns the default configuration.
func GetConfig() (*Config, error) {
	defaults := DefaultConfig()

	b, err := os.ReadFile(Path())
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	// zeroOr cannot tell an explicit 0 from a missing key
	var set struct {
		CacheSize *datasize.ByteSize `yaml:"cacheSize"`
	}
	if err := yaml.Unmarshal(b, &set); err != nil {
		return nil, err
	}

	cacheSize := defaults.CacheSize
	if set.CacheSize != nil {
		cacheSize = *set.CacheSize
	}

	switch cfg.Preallocation {
	case "", PreallocationNone, PreallocationSparse, PreallocationFull:
	default:
		return nil, fmt.Errorf("invalid preallocation %q", cfg.Preallocation)
	}

	return &Config{
		DownloadDir:            zeroOr(cfg.DownloadDir, defaults.DownloadDir),
		IncompleteDir:          zeroOr(cfg.IncompleteDir, defaults.IncompleteDir),
		IncompleteFileNaming:   zeroOr(cfg.IncompleteFileNaming, defaults.IncompleteFileNaming),
		Preallocation:          zeroOr(cfg.Preallocation, defaults.Preallocation),
		OpenFileLimit:          zeroOr(cfg.OpenFileLimit, defaults.OpenFileLimit),
		CacheSize:              cacheSize,
		PrefetchMagnetMetadata: zeroOr(cfg.PrefetchMagnetMetadata, defaults.PrefetchMagnetMetadata),
		VerifyWorkers:          zeroOr(cfg.VerifyWorkers, defaults.VerifyWorkers),
		StateDir:               zeroOr(cfg.StateDir, defaults.StateDir),
		LogFile:                zeroOr(cfg.LogFile, defaults.LogFile),
		Debug:                  zeroOr(cfg.Debug, defaults.Debug),
	}, nil
}

func DefaultConfig() Config {
	return Config{
		DownloadDir:            downloadDir,
		IncompleteFileNaming:   incompleteFileNaming,
		Preallocation:          preallocation,
		OpenFileLimit:          openFileLimit,
		CacheSize:              cacheSize,
		PrefetchMagnetMetadata: prefetchMagnetMetadata,
		VerifyWorkers:          verifyWorkers,
		StateDir:               stateDir,
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
