package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	limiterrors "limitcli/internal/errors"
)

const countingConfig = `
logging:
  level: error
  format: text
analysis:
  mode: counting
  cls: true
sensitivity:
  toys: 20
  workers: 2
`

const profileConfig = `
logging:
  level: error
  format: text
analysis:
  mode: profile
  cls: true
telemetry:
  metrics_enabled: false
`

const analysisFile = `
name: search
poi: {upper: 100}
masses: [10, 50]
experiments:
  - name: run1
    background_uncertainty: 0.1
    bins:
      - {observed: 3, background: 2, signal: 1}
    mass_signal:
      - {mass: 10, signal: [0.5]}
      - {mass: 50, signal: [2]}
counting:
  - {name: screen, conversion: 1, background: 0, observed: 0}
`

// execute runs the CLI with args and returns stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// writeConfig writes a run configuration whose directories live in dir
func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	content += fmt.Sprintf("paths:\n  output_dir: %q\n  logs_dir: %q\n",
		filepath.Join(dir, "results"), filepath.Join(dir, "logs"))
	return writeTemp(t, dir, "limit.yaml", content)
}

func parseCSV(t *testing.T, output string) [][]string {
	t.Helper()
	var rows [][]string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		rows = append(rows, strings.Split(line, ","))
	}
	return rows
}

func TestPoissonCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, countingConfig)

	out, err := execute(t, "poisson", "-c", cfg, "--stdout", "-b", "0", "-n", "0", "--max-observed", "2", "--mode", "CI_UP", "--cl", "0.9")
	require.NoError(t, err)

	rows := parseCSV(t, out)
	require.Len(t, rows, 4)
	assert.Equal(t, intervalColumns, rows[0])

	upper, err := strconv.ParseFloat(rows[1][2], 64)
	require.NoError(t, err)
	assert.InDelta(t, 2.302585, upper, 1e-5, "n=0, b=0 upper limit is ln 10")

	prev := upper
	for _, row := range rows[2:] {
		v, err := strconv.ParseFloat(row[2], 64)
		require.NoError(t, err)
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestPoissonCommand_StreamsReport(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, countingConfig)
	outDir := filepath.Join(dir, "streamed")

	_, err := execute(t, "poisson", "-c", cfg, "-o", outDir, "-b", "1", "--max-observed", "4")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "poisson_interval.csv"))
	require.NoError(t, err)
	rows := parseCSV(t, string(data))
	require.Len(t, rows, 6)
	assert.Equal(t, intervalColumns, rows[0])
	assert.Equal(t, "4", rows[5][0])

	_, err = os.Stat(filepath.Join(outDir, ".write_test"))
	assert.True(t, os.IsNotExist(err))
}

func TestPoissonCommand_InvalidMode(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), countingConfig)
	_, err := execute(t, "poisson", "-c", cfg, "--stdout", "--mode", "BAYES")
	require.Error(t, err)
	assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeValidation))
}

func TestCoverageCommand(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), countingConfig)
	out, err := execute(t, "coverage", "-c", cfg, "--stdout", "-f", "json", "-b", "1", "--sigma-max", "4", "--steps", "4")
	require.NoError(t, err)

	var doc struct {
		Name    string       `json:"name"`
		Columns []string     `json:"columns"`
		Rows    [][]*float64 `json:"rows"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "coverage", doc.Name)
	assert.Equal(t, coverageColumns, doc.Columns)
	require.Len(t, doc.Rows, 5)
	for _, row := range doc.Rows {
		require.NotNil(t, row[1])
		assert.GreaterOrEqual(t, *row[1], 0.9-1e-9, "classical upper limits cover at sigma=%v", *row[0])
	}
}

func TestLimitCommand_WritesReports(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, countingConfig)
	analysis := writeTemp(t, dir, "analysis.yaml", analysisFile)
	outDir := filepath.Join(dir, "results")

	out, err := execute(t, "limit", "-c", cfg, "-a", analysis, "-o", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "screen: estimated 0")

	data, err := os.ReadFile(filepath.Join(outDir, "limits.csv"))
	require.NoError(t, err)
	rows := parseCSV(t, string(data))
	require.Len(t, rows, 2)
	assert.Equal(t, "NaN", rows[1][0])
	upper, err := strconv.ParseFloat(rows[1][3], 64)
	require.NoError(t, err)
	assert.InDelta(t, 2.302585, upper, 1e-5)

	metrics, err := os.ReadFile(filepath.Join(outDir, "metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "limit_limits_total")
}

func TestLimitCommand_Scan(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, profileConfig)
	analysis := writeTemp(t, dir, "analysis.yaml", analysisFile)

	out, err := execute(t, "limit", "-c", cfg, "-a", analysis, "--stdout", "--scan")
	require.NoError(t, err)

	rows := parseCSV(t, out)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"10", "50"}, []string{rows[1][0], rows[2][0]})

	upper10, err := strconv.ParseFloat(rows[1][3], 64)
	require.NoError(t, err)
	upper50, err := strconv.ParseFloat(rows[2][3], 64)
	require.NoError(t, err)
	assert.InDelta(t, upper10, 4*upper50, 1e-2*upper10, "limit scales with the inverse signal yield")
}

func TestSensitivityCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, countingConfig)
	analysis := writeTemp(t, dir, "analysis.yaml", analysisFile)

	out, err := execute(t, "sensitivity", "-c", cfg, "-a", analysis, "--stdout", "--toys", "10")
	require.NoError(t, err)

	rows := parseCSV(t, out)
	require.Len(t, rows, 2)
	assert.Equal(t, "median", rows[0][1])
	// b=0: every toy observes nothing
	median, err := strconv.ParseFloat(rows[1][1], 64)
	require.NoError(t, err)
	assert.InDelta(t, 2.302585, median, 1e-5)
	assert.Equal(t, "0", rows[1][6])
}

func TestFitCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, profileConfig)
	analysis := writeTemp(t, dir, "analysis.yaml", analysisFile)

	out, err := execute(t, "fit", "-c", cfg, "-a", analysis)
	require.NoError(t, err)
	assert.Contains(t, out, "# run1")
	assert.Contains(t, out, "sigma_hat=")
}

func TestCommands_RequireAnalysis(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), countingConfig)
	for _, name := range []string{"limit", "sensitivity", "fit"} {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, name, "-c", cfg, "--stdout")
			require.Error(t, err)
			assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeValidation))
		})
	}
}

func TestUnknownFormat(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), countingConfig)
	_, err := execute(t, "poisson", "-c", cfg, "-f", "parquet", "--stdout")
	assert.True(t, limiterrors.IsType(err, limiterrors.ErrTypeValidation))
}
