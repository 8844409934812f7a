package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"retrans/internal/server"
)

var withExecutor bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and optionally the executor)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.Close()

		controller, err := a.controller()
		if err != nil {
			return err
		}
		store, err := a.idempotencyStore(ctx)
		if err != nil {
			return err
		}

		deps := server.Deps{
			Controller:  controller,
			Store:       store,
			Accounts:    a.accounts,
			Balances:    a.balances(),
			Metrics:     a.metrics,
			Logger:      a.log,
			BaseContext: ctx,
		}
		if r := a.resolver(); r != nil {
			deps.ENS = r
		}
		if a.client != nil {
			deps.RPC = a.client
		}

		g, gctx := errgroup.WithContext(ctx)

		if withExecutor || a.cfg.Executor.Enabled {
			exec, queue, err := a.executor(ctx)
			if err != nil {
				return err
			}
			deps.QueueDepth = queue.Len
			g.Go(func() error { return exec.Run(gctx) })
		}

		srv, err := server.NewServer(a.cfg.Service, deps)
		if err != nil {
			return err
		}

		g.Go(srv.Start)
		g.Go(func() error {
			controller.Watch(gctx, a.accounts)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		controller.Wait()
		return err
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withExecutor, "executor", false, "run the job executor in-process")
}
