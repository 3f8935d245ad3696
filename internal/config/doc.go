// Package config provides the run configuration of the limit tools.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. The YAML file named by LIMIT_CONFIG, or limit.yaml in the working directory
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern LIMIT_<SECTION>_<FIELD>:
//
//	LIMIT_ANALYSIS_CONFIDENCE_LEVEL=0.95
//	LIMIT_ANALYSIS_CLS=false
//	LIMIT_SENSITIVITY_WORKERS=8
//	LIMIT_LOGGING_LEVEL=debug
//
// # Validation
//
// Every section carries validator tags; Load fails with a CONFIG error that
// lists each offending field.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//	paths, err := config.ResolvePaths(cfg.Paths)
package config
