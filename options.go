package foresight

import (
	"context"
	"io/fs"
	"log/slog"
)

// Executor runs the execution payload of a proposal whose market resolved
// YES. Implementations must be idempotent per proposal: resolution commits
// before invocation and is never rolled back for a payload failure.
// The default executor only logs the approval.
type Executor interface {
	Execute(ctx context.Context, p Proposal) error
}

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	logger          *slog.Logger
	version         string
	executor        Executor
	extraMigrations []fs.FS
}

// WithPort overrides the TCP port from config (FORESIGHT_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithExecutor replaces the default log-only proposal executor.
// Only the last call wins.
func WithExecutor(e Executor) Option {
	return func(o *resolvedOptions) { o.executor = e }
}

// WithExtraMigrations adds an additional SQL migration filesystem to run
// after the embedded migrations. Multiple filesystems may be registered;
// they are applied in registration order.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
