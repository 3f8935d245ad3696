package config

// Application constants
const (
	// Application Info
	AppName    = "limit-report"
	AppVersion = "1.0.0"

	// Configuration sources
	EnvPrefix         = "LIMIT"
	ConfigFileEnvVar  = "LIMIT_CONFIG"
	DefaultConfigFile = "limit.yaml"

	// Analysis defaults
	DefaultAnalysisMode    = "profile"
	DefaultConfidenceLevel = 0.90
	DefaultTestStatistic   = "plain"
	DefaultIntervalMode    = "CI_UP"

	// Optimizer defaults
	DefaultOptimizerMethod = "simplex+bfgs"
	DefaultMaxFuncEvals    = 20000
	DefaultTolerance       = 1e-9

	// Sensitivity defaults
	DefaultToys    = 200
	DefaultSeed    = 1
	DefaultWorkers = 1

	// File Paths (relative to the working directory)
	DefaultOutputDir = "results"
	DefaultLogsDir   = "logs"
	DefaultLogFile   = "logs/limit-report.log"

	// Log Settings
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultLogOutput = "console"

	// Telemetry
	DefaultServiceName = "limit-report"

	// Well-known report base names; the exporter adds the format extension
	LimitsReport      = "limits"
	SensitivityReport = "sensitivity"
	PoissonReport     = "poisson_interval"
	CoverageReport    = "coverage"
	MetricsSnapshot   = "metrics.prom"
)
