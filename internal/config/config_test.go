package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	limiterrors "limitcli/internal/errors"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFrom(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		env         map[string]string
		wantErrType limiterrors.ErrorType
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults without file",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, Default(), cfg)
			},
		},
		{
			name: "file overrides defaults",
			file: `
analysis:
  confidence_level: 0.95
  cls: false
  test_statistic: qtilde
sensitivity:
  toys: 50
  workers: 4
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0.95, cfg.Analysis.ConfidenceLevel)
				assert.False(t, cfg.Analysis.CLs)
				assert.Equal(t, "qtilde", cfg.Analysis.TestStatistic)
				assert.Equal(t, 50, cfg.Sensitivity.Toys)
				assert.Equal(t, 4, cfg.Sensitivity.Workers)
				// untouched keys keep their defaults
				assert.Equal(t, DefaultAnalysisMode, cfg.Analysis.Mode)
				assert.Equal(t, DefaultMaxFuncEvals, cfg.Optimizer.MaxFuncEvals)
			},
		},
		{
			name: "environment overrides file",
			file: `
analysis:
  confidence_level: 0.95
logging:
  level: warn
`,
			env: map[string]string{
				"LIMIT_ANALYSIS_CONFIDENCE_LEVEL": "0.68",
				"LIMIT_SENSITIVITY_SEED":          "42",
				"LIMIT_OPTIMIZER_METHOD":          "bfgs",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 0.68, cfg.Analysis.ConfidenceLevel)
				assert.Equal(t, uint64(42), cfg.Sensitivity.Seed)
				assert.Equal(t, "bfgs", cfg.Optimizer.Method)
				assert.Equal(t, "warn", cfg.Logging.Level)
			},
		},
		{
			name:        "confidence level out of range",
			env:         map[string]string{"LIMIT_ANALYSIS_CONFIDENCE_LEVEL": "1.5"},
			wantErrType: limiterrors.ErrTypeConfig,
		},
		{
			name:        "unknown analysis mode",
			file:        "analysis:\n  mode: bayesian\n",
			wantErrType: limiterrors.ErrTypeConfig,
		},
		{
			name:        "unknown key",
			file:        "analysis:\n  confidence: 0.9\n",
			wantErrType: limiterrors.ErrTypeConfig,
		},
		{
			name:        "malformed environment value",
			env:         map[string]string{"LIMIT_SENSITIVITY_TOYS": "many"},
			wantErrType: limiterrors.ErrTypeConfig,
		},
		{
			name:        "file logging without a path",
			file:        "logging:\n  output: file\n  file_path: \"\"\n",
			wantErrType: limiterrors.ErrTypeConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfigFile(t, tt.file)
			}

			cfg, err := LoadFrom(path)
			if tt.wantErrType != "" {
				require.Error(t, err)
				assert.True(t, limiterrors.IsType(err, tt.wantErrType), "got %v", err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLoad_ConfigFileFromEnvironment(t *testing.T) {
	path := writeConfigFile(t, "sensitivity:\n  toys: 7\n")
	t.Setenv(ConfigFileEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sensitivity.Toys)

	t.Setenv(ConfigFileEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeConfig))
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestResolvePaths(t *testing.T) {
	abs := t.TempDir()
	paths, err := ResolvePaths(PathsConfig{OutputDir: "results", LogsDir: abs})
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "results"), paths.OutputDir)
	assert.Equal(t, abs, paths.LogsDir)

	assert.Equal(t, filepath.Join(wd, "results", "limits.csv"), paths.GetReportPath("limits.csv"))
	assert.Equal(t, "/tmp/elsewhere.csv", paths.GetReportPath("/tmp/elsewhere.csv"))
	assert.Equal(t, filepath.Join(abs, "run.log"), paths.GetLogPath("run.log"))
}

func TestPaths_EnsureDirectories(t *testing.T) {
	base := t.TempDir()
	paths := &Paths{
		WorkingDir: base,
		OutputDir:  filepath.Join(base, "out", "nested"),
		LogsDir:    filepath.Join(base, "logs"),
	}
	require.NoError(t, paths.EnsureDirectories())
	assert.True(t, FileExists(paths.OutputDir))
	assert.True(t, FileExists(paths.LogsDir))
	assert.False(t, FileExists(filepath.Join(base, "missing")))
}
