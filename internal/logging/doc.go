// Package logging constructs the process-wide zap logger for forestd.
//
// All components receive a *zap.Logger by injection; there is no
// package-level logger. Format is JSON in production and console for
// local debugging.
package logging
