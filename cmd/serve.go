package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"orchestrix/internal/bootstrap"
	"orchestrix/internal/bootstrap/logging"
	"orchestrix/internal/domain/orchestrator"
	"orchestrix/internal/errs"
	"orchestrix/internal/infrastructure/orchestration"
	"orchestrix/internal/infrastructure/sourcepoll"
	"orchestrix/internal/infrastructure/webapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the combined queue processor, source poller, and web surface",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "Web surface listen address")
}

// runServe builds its own fx graph and fx.Populate call so it can reach the
// queue, source poller, orchestrator, and web surface components alongside
// the base app.
func runServe(cmd *cobra.Command, args []string) error {
	ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

	addr, _ := cmd.Flags().GetString("addr")

	var (
		app    *bootstrap.App
		queue  *orchestrator.Queue
		poller *sourcepoll.Poller
		orch   *orchestration.Orchestrator
		webSrv *webapi.Server
	)

	fxApp := fx.New(
		bootstrap.Module,
		fx.Provide(func() context.Context { return ctx }),
		fx.Provide(
			fx.Annotate(
				func() string { return cfgFile },
				fx.ResultTags(`name:"configFile"`),
			),
		),
		fx.Populate(&app, &queue, &poller, &orch, &webSrv),
	)

	startCtx, cancelStart := context.WithTimeout(ctx, 10*time.Second)
	defer cancelStart()
	if err := fxApp.Start(startCtx); err != nil {
		logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "start fx application")
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelStop()
		if err := fxApp.Stop(stopCtx); err != nil {
			logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
		}
	}()

	runCtx, cancelRun := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelRun()

	go poller.Run(runCtx)
	go runQueueProcessor(runCtx, ctx, queue, orch)

	server := &http.Server{Addr: addr, Handler: webSrv.Router()}
	serverErr := make(chan error, 1)
	go func() {
		logging.Info(ctx, "web surface listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case <-runCtx.Done():
		logging.Info(ctx, "shutdown signal received, draining")
	case err := <-serverErr:
		if err != nil {
			logging.Error(ctx, "web surface failed", slog.Any("err", errs.Loggable(err)))
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errs.Wrap(err, "shut down web surface")
	}

	return nil
}

// runQueueProcessor dequeues one orchestration run at a time and drives it
// through the Orchestrator, matching the FIFO queue's single-running-at-a-
// time invariant. shutdownCtx stops new dequeues; runCtx (which outlives
// shutdownCtx) is what each in-flight orchestration actually runs under, so
// a shutdown signal drains the current run instead of aborting it mid-flight.
func runQueueProcessor(shutdownCtx, runCtx context.Context, queue *orchestrator.Queue, orch *orchestration.Orchestrator) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	queue.SetProcessing(true)
	defer queue.SetProcessing(false)

	for {
		select {
		case <-shutdownCtx.Done():
			return
		case <-ticker.C:
			id, ok := queue.Dequeue()
			if !ok {
				continue
			}
			started := time.Now()
			err := orch.Start(runCtx, id)
			queue.Finish(err == nil, time.Since(started), time.Now())
			if err != nil {
				logging.Error(runCtx, fmt.Sprintf("orchestration failed for issue #%d", id), slog.Any("err", errs.Loggable(err)))
			}
		}
	}
}
