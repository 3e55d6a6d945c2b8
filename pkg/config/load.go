package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/memtrace/memexport/pkg/compression"
)

// FileConfig is the CLI-facing configuration file schema. Library callers
// use ExportConfig presets directly; the file form exists so the memexport
// binary can be driven by a YAML file plus environment overrides.
type FileConfig struct {
	Export ExportFileConfig `mapstructure:"export"`
	Log    LogConfig        `mapstructure:"log"`
}

// ExportFileConfig mirrors ExportConfig with string-typed enums suitable
// for a config file.
type ExportFileConfig struct {
	Format           string `mapstructure:"format"`
	ChunkSize        int    `mapstructure:"chunk_size"`
	Compression      string `mapstructure:"compression"`
	CompressionLevel int    `mapstructure:"compression_level"`
	Mode             string `mapstructure:"mode"`
	Workers          int    `mapstructure:"workers"`
	ValidateOutput   bool   `mapstructure:"validate_output"`
	MaxMemoryBytes   int64  `mapstructure:"max_memory_bytes"`
	SortByType       bool   `mapstructure:"sort_by_type"`
	StrictCollection bool   `mapstructure:"strict_collection"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

// Load reads configuration from the specified file path. An empty path
// searches the standard locations; a missing file yields defaults.
func Load(configPath string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("memexport")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/memexport")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file, defaults apply.
		} else if os.IsNotExist(err) {
			// Explicit path that doesn't exist, defaults apply.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("MEMEXPORT")
	v.AutomaticEnv()

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("export.format", "chunked")
	v.SetDefault("export.chunk_size", DefaultChunkSize)
	v.SetDefault("export.compression", "zstd")
	v.SetDefault("export.compression_level", int(compression.LevelDefault))
	v.SetDefault("export.mode", "streaming")
	v.SetDefault("export.workers", 0)
	v.SetDefault("export.validate_output", false)
	v.SetDefault("log.level", "info")
}

// ExportConfig converts the file form into a validated ExportConfig,
// starting from the balanced preset so unset fields keep sane values.
func (f *FileConfig) ExportConfig() (ExportConfig, error) {
	cfg := Balanced()

	format, err := ParseFormat(f.Export.Format)
	if err != nil {
		return cfg, err
	}
	cfg.Format = format

	algo, err := compression.ParseAlgorithm(f.Export.Compression)
	if err != nil {
		return cfg, err
	}
	cfg.Compression = algo

	mode, err := ParseProcessingMode(f.Export.Mode)
	if err != nil {
		return cfg, err
	}
	cfg.Mode = mode

	if f.Export.ChunkSize > 0 {
		cfg.ChunkSize = f.Export.ChunkSize
	}
	if f.Export.CompressionLevel > 0 {
		cfg.CompressionLevel = compression.Level(f.Export.CompressionLevel)
	}
	cfg.Workers = f.Export.Workers
	cfg.ValidateOutput = f.Export.ValidateOutput
	cfg.MaxMemoryBytes = f.Export.MaxMemoryBytes
	cfg.SortByType = f.Export.SortByType
	cfg.StrictCollection = f.Export.StrictCollection

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
