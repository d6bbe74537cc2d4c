// Package batch runs bulk operations in fixed-size chunks, one store
// transaction per chunk, and reports which chunks failed.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/club-treasury/internal/application/port"
	"github.com/garyjia/club-treasury/internal/domain"
)

// DefaultChunkSize is used when the runner is built with a non-positive size
const DefaultChunkSize = 500

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Runner executes chunked batch operations
type Runner struct {
	txManager port.TransactionManager
	chunkSize int
	logger    Logger
}

// NewRunner creates a batch runner
func NewRunner(txManager port.TransactionManager, chunkSize int, logger Logger) *Runner {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Runner{txManager: txManager, chunkSize: chunkSize, logger: logger}
}

// ChunkSize returns the configured chunk size
func (r *Runner) ChunkSize() int {
	return r.chunkSize
}

// Report summarises a batch run
type Report struct {
	Operation string
	Items     int
	Chunks    int
	Committed int
	Processed int
	Failures  []domain.ChunkFailure
	Cancelled error
}

// Err returns nil when every chunk committed. Otherwise it returns a
// *domain.PartialBatchFailure, the cancellation cause, or both joined.
func (r *Report) Err() error {
	var errs []error
	if len(r.Failures) > 0 {
		errs = append(errs, &domain.PartialBatchFailure{
			Operation: r.Operation,
			Total:     r.Chunks,
			Failures:  r.Failures,
		})
	}
	if r.Cancelled != nil {
		errs = append(errs, fmt.Errorf("%s stopped after %d of %d chunks: %w",
			r.Operation, r.Committed+len(r.Failures), r.Chunks, r.Cancelled))
	}
	return errors.Join(errs...)
}

// Succeeded reports whether chunk i was committed
func (r *Report) Succeeded(i int) bool {
	if i < 0 || i >= r.Committed+len(r.Failures) {
		return false
	}
	for _, f := range r.Failures {
		if f.Index == i {
			return false
		}
	}
	return true
}

// Chunks splits items into consecutive slices of at most size elements
func Chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// Run applies fn to every chunk of items inside its own store transaction.
// A failing chunk is rolled back and recorded; later chunks still run.
// Cancellation is honoured between chunks only.
func Run[T any](ctx context.Context, r *Runner, operation string, items []T, fn func(ctx context.Context, chunk []T) error) *Report {
	return RunIndexed(ctx, r, operation, items, func(ctx context.Context, _ int, chunk []T) error {
		return fn(ctx, chunk)
	}, nil)
}

// RunIndexed is Run with the chunk index passed to fn. When done is set it is
// called once the transaction of each chunk has ended, with nil after a commit
// and the chunk error after a rollback, before the next chunk starts.
func RunIndexed[T any](
	ctx context.Context,
	r *Runner,
	operation string,
	items []T,
	fn func(ctx context.Context, index int, chunk []T) error,
	done func(index int, err error),
) *Report {
	chunks := Chunks(items, r.chunkSize)
	report := &Report{Operation: operation, Items: len(items), Chunks: len(chunks)}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			report.Cancelled = err
			r.logError("Batch cancelled",
				"operation", operation,
				"chunk", i,
				"chunks", len(chunks),
			)
			break
		}

		err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			return fn(txCtx, i, chunk)
		})
		if done != nil {
			done(i, err)
		}
		if err != nil {
			report.Failures = append(report.Failures, domain.ChunkFailure{Index: i, Size: len(chunk), Err: err})
			r.logError("Batch chunk failed",
				"operation", operation,
				"chunk", i,
				"size", len(chunk),
				"error", err,
			)
			continue
		}
		report.Committed++
		report.Processed += len(chunk)
	}

	r.logInfo("Batch finished",
		"operation", operation,
		"items", report.Items,
		"chunks", report.Chunks,
		"committed", report.Committed,
		"failed", len(report.Failures),
	)
	return report
}

func (r *Runner) logInfo(msg string, keysAndValues ...interface{}) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Runner) logError(msg string, keysAndValues ...interface{}) {
	if r.logger != nil {
		r.logger.Error(msg, keysAndValues...)
	}
}
