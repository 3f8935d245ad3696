// Package validation checks configuration and analysis definitions before a
// run starts.
//
// Struct validates tagged structs with go-playground/validator and reports
// every failing field in one VALIDATION error. FileValidator checks the
// input tables an analysis reads and the output directory results go to.
package validation
