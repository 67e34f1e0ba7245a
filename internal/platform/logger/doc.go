// Package logger provides structured logging for the application.
//
// It builds a log/slog logger from LogConfig, and carries loggers and
// request-scoped attributes (run ids, task ids) through context.Context.
package logger
