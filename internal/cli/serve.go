package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"text2sql/internal/mcp"
)

const (
	heartbeatInterval = 15 * time.Second
	latencyRetention  = 7 * 24 * time.Hour
	shutdownGrace     = 30 * time.Second
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the text2sql tool over stdio (JSON-RPC 2.0)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.services(cmd.Context(), true)
			if err != nil {
				return err
			}
			w := &worker{
				id:     fmt.Sprintf("text2sql-%s", uuid.NewString()[:8]),
				svc:    svc,
				server: mcp.NewServer(svc.manager, Version, a.logger),
				logger: a.logger,
			}
			return w.run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// worker owns the stdio server for the lifetime of the process.
type worker struct {
	id     string
	svc    *services
	server *mcp.Server
	logger *zap.Logger
}

func (w *worker) run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	logger := w.logger.With(zap.String("worker_id", w.id))
	defer w.shutdown(logger)

	if n, err := w.svc.manager.Storage().PruneLatencies(ctx, latencyRetention); err != nil {
		logger.Warn("failed to prune latency histogram", zap.Error(err))
	} else if n > 0 {
		logger.Debug("pruned latency histogram", zap.Int64("rows", n))
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.server.Serve(serveCtx, stdin, stdout)
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	logger.Info("worker started")
	w.heartbeat(ctx, logger)

	for {
		select {
		case <-ticker.C:
			w.heartbeat(ctx, logger)
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("stdin closed")
			return nil
		case <-ctx.Done():
			logger.Info("shutdown requested")
			w.drain(logger)
			return nil
		}
	}
}

func (w *worker) heartbeat(ctx context.Context, logger *zap.Logger) {
	if err := w.svc.manager.RecordMetric(ctx, "heartbeat", 1); err != nil {
		logger.Warn("failed to send heartbeat", zap.Error(err))
	}
}

// drain waits for the request in flight so its session is recorded
// before the state database closes.
func (w *worker) drain(logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := w.server.Drain(ctx); err != nil {
		logger.Warn("in-flight request did not finish", zap.Duration("grace", shutdownGrace), zap.Error(err))
	}
}

func (w *worker) shutdown(logger *zap.Logger) {
	if _, err := w.svc.state.Exec("PRAGMA wal_checkpoint(RESTART)"); err != nil {
		logger.Warn("WAL checkpoint failed", zap.Error(err))
	}
	if err := w.svc.Close(); err != nil {
		logger.Warn("failed to close state database", zap.Error(err))
	}
	logger.Info("worker stopped")
}

