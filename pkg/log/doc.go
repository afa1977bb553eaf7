// Package log wraps zerolog with the agent's conventions: a global JSON (or
// console, for local development) logger plus small helpers that attach
// component and workload context to child loggers.
//
// Call Init once at process start, before any other package logs. Everywhere
// else, either use the package-level Info/Warn/Error helpers or derive a
// component logger with WithComponent and keep it for the lifetime of that
// subsystem.
package log
