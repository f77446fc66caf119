package ingest

import (
	"context"
	"log/slog"

	"github.com/roach88/punchsync/internal/pipeline"
	"github.com/roach88/punchsync/internal/punch"
)

// Sink accepts transactions without blocking. *pipeline.Pipeline satisfies it.
type Sink interface {
	Submit(t punch.RawTransaction) bool
}

// Adapter is a long-running ingestion source.
type Adapter interface {
	// Name identifies the adapter in logs.
	Name() string
	// Run delivers transactions to the sink until ctx is cancelled.
	Run(ctx context.Context) error
}

// LogMalformed records a record that could not become a transaction.
// Errors that are not malformed-transaction drops are logged at error level.
func LogMalformed(logger *slog.Logger, origin punch.Origin, err error) {
	level := slog.LevelWarn
	if !pipeline.IsMalformed(err) {
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, "transaction dropped",
		"code", string(pipeline.CodeOf(err)),
		"origin", string(origin),
		"error", err,
	)
}
