package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/rommapp/argosy-launcher-sub002/internal/api"
	"github.com/rommapp/argosy-launcher-sub002/internal/logging"
	"github.com/rommapp/argosy-launcher-sub002/internal/sync/scheduler"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(s *session) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the background sync scheduler with a local status API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Address of the status API (default: metrics.listen)",
			},
			&cli.BoolFlag{
				Name:  "offline",
				Usage: "Start with the scheduler offline until PUT /sync/online",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := s.open()
			if err != nil {
				return err
			}
			addr := cmd.String("listen")
			if addr == "" {
				addr = a.cfg.Metrics.Listen
			}

			sched := scheduler.NewScheduler(a.orch, a.engine, &scheduler.SchedulerConfig{
				UploadInterval:   a.cfg.Sync.UploadInterval,
				DownloadInterval: a.cfg.Sync.DownloadInterval,
			})
			if cmd.Bool("offline") {
				sched.SetOnlineStatus(false)
			}
			sched.Start(ctx)
			defer sched.Stop()

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewSyncHandler(ctx, sched, a.orch, a.resolver, a.locks).Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", addr, err)
			}
			fmt.Fprintf(s.out, "%s serving on http://%s\n", success(symbolSuccess), ln.Addr())
			logging.Info("Sync service started", map[string]interface{}{
				"addr":              ln.Addr().String(),
				"server_configured": a.cfg.ServerConfigured(),
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Serve(ln)
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			logging.Info("Sync service stopped")
			return nil
		},
	}
}
