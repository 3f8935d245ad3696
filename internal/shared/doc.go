// Package shared holds helpers used by more than one package's tests.
//
// The testutil subpackage captures slog records so tests can assert on the
// warnings the engine emits for skipped mass points, ignored providers and
// failed toys:
//
//	logger, logs := testutil.NewTestLogger(t)
//	ex, _ := exclusion.New(exclusion.Settings{Logger: logger}, model)
//	...
//	testutil.AssertLogContains(t, logs, slog.LevelWarn, "skipping mass point")
package shared
