package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	limiterrors "limitcli/internal/errors"
	"limitcli/internal/validation"
)

// Config represents the complete run configuration. It is loaded once at
// start-up and treated as read-only afterwards.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Analysis    AnalysisConfig    `yaml:"analysis" envconfig:"ANALYSIS"`
	Optimizer   OptimizerConfig   `yaml:"optimizer" envconfig:"OPTIMIZER"`
	Sensitivity SensitivityConfig `yaml:"sensitivity" envconfig:"SENSITIVITY"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
	Paths       PathsConfig       `yaml:"paths" envconfig:"PATHS"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format      string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output      string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// AnalysisConfig selects the statistical treatment
type AnalysisConfig struct {
	// Mode is the analysis mode providers must match: profile or counting
	Mode             string  `yaml:"mode" envconfig:"MODE" validate:"oneof=profile counting"`
	ConfidenceLevel  float64 `yaml:"confidence_level" envconfig:"CONFIDENCE_LEVEL" validate:"probability"`
	CLs              bool    `yaml:"cls" envconfig:"CLS"`
	FisherCorrection bool    `yaml:"fisher_correction" envconfig:"FISHER_CORRECTION"`
	// TestStatistic is plain (always fit) or qtilde (q=0 below the best fit)
	TestStatistic string `yaml:"test_statistic" envconfig:"TEST_STATISTIC" validate:"oneof=plain qtilde"`
	IntervalMode  string `yaml:"interval_mode" envconfig:"INTERVAL_MODE" validate:"oneof=CI_UP CI_LOW CLS_UP CLS_LOW CI_TWO_SIDED CLS_TWO_SIDED"`
}

// OptimizerConfig configures the default minimizer
type OptimizerConfig struct {
	Method        string  `yaml:"method" envconfig:"METHOD" validate:"oneof=simplex bfgs simplex+bfgs"`
	MaxFuncEvals  int     `yaml:"max_func_evals" envconfig:"MAX_FUNC_EVALS" validate:"min=1"`
	Tolerance     float64 `yaml:"tolerance" envconfig:"TOLERANCE" validate:"gt=0"`
	ComputeErrors bool    `yaml:"compute_errors" envconfig:"COMPUTE_ERRORS"`
}

// SensitivityConfig configures toy studies
type SensitivityConfig struct {
	Toys    int    `yaml:"toys" envconfig:"TOYS" validate:"min=1"`
	Seed    uint64 `yaml:"seed" envconfig:"SEED"`
	Workers int    `yaml:"workers" envconfig:"WORKERS" validate:"min=1,max=256"`
}

// TelemetryConfig configures metrics and tracing
type TelemetryConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
	TracingEnabled bool   `yaml:"tracing_enabled" envconfig:"TRACING_ENABLED"`
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	OutputDir string `yaml:"output_dir" envconfig:"OUTPUT_DIR" validate:"required"`
	LogsDir   string `yaml:"logs_dir" envconfig:"LOGS_DIR" validate:"required"`
}

// Load loads configuration from defaults, the config file named by
// LIMIT_CONFIG (or limit.yaml in the working directory) and LIMIT_*
// environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file. An empty path skips the
// file layer.
func LoadFrom(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, err
		}
	}

	// Fields are only overwritten for variables that are set
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, limiterrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile overlays a YAML file on cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return limiterrors.NewConfigError(fmt.Sprintf("failed to read config file %s", filePath), err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return limiterrors.NewConfigError(fmt.Sprintf("failed to parse config file %s", filePath), err)
	}
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return limiterrors.NewConfigError("config validation failed", err)
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return limiterrors.NewConfigError("logging.file_path is required when logging to a file", nil)
	}
	return nil
}

// getConfigFilePath returns the config file to read, or "" if there is none
func getConfigFilePath() string {
	if path := os.Getenv(ConfigFileEnvVar); path != "" {
		return path
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   DefaultLogOutput,
			FilePath: DefaultLogFile,
		},
		Analysis: AnalysisConfig{
			Mode:             DefaultAnalysisMode,
			ConfidenceLevel:  DefaultConfidenceLevel,
			CLs:              true,
			FisherCorrection: false,
			TestStatistic:    DefaultTestStatistic,
			IntervalMode:     DefaultIntervalMode,
		},
		Optimizer: OptimizerConfig{
			Method:        DefaultOptimizerMethod,
			MaxFuncEvals:  DefaultMaxFuncEvals,
			Tolerance:     DefaultTolerance,
			ComputeErrors: true,
		},
		Sensitivity: SensitivityConfig{
			Toys:    DefaultToys,
			Seed:    DefaultSeed,
			Workers: DefaultWorkers,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: true,
			TracingEnabled: false,
			ServiceName:    DefaultServiceName,
		},
		Paths: PathsConfig{
			OutputDir: DefaultOutputDir,
			LogsDir:   DefaultLogsDir,
		},
	}
}
