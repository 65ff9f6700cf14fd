package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/programs/internal/cron"
	"github.com/alexanderramin/programs/internal/server"
)

func optionalID(name, input string) (*int64, error) {
	if input == "" {
		return nil, nil
	}
	id, err := parseID(name, input)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func newSyncCmd(a *App) *cobra.Command {
	var (
		program, user string
		accessOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile allocations, completions and course access",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var programID *int64
			if program != "" {
				p, err := resolveProgram(ctx, a, program)
				if err != nil {
					return err
				}
				programID = &p.ID
			}
			userID, err := optionalID("user", user)
			if err != nil {
				return err
			}

			start := time.Now()
			if accessOnly {
				err = a.Engine.Reconciler.FixAccess(ctx, programID, userID)
			} else {
				err = a.Engine.Reconciler.Sync(ctx, programID, userID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&program, "program", "", "Limit to one program (id or idnumber)")
	cmd.Flags().StringVar(&user, "user", "", "Limit to one user id")
	cmd.Flags().BoolVar(&accessOnly, "access-only", false, "Only fix enrolments, groups and calendar events")
	return cmd
}

func (a *App) cronRunner() *cron.Runner {
	e := a.Engine
	return cron.New(e.Reconciler, e.Notifications, e.Certificates, e.Config.Cron.Interval, e.Logger)
}

func newCronCmd(a *App) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Run the periodic sync, notification sweep and certificate issuing",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := a.cronRunner()
			out := cmd.OutOrStdout()
			if once {
				res, err := runner.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Cron done in %s: %d notifications, %d certificates\n",
					res.Duration.Round(time.Millisecond), res.Notifications, res.Certificates)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(out, "Running every %s, Ctrl-C to stop\n", runner.Interval)
			runner.Start(ctx)
			<-ctx.Done()
			runner.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass and exit")
	return cmd
}

func newServeCmd(a *App) *cobra.Command {
	var (
		addr   string
		noCron bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run cron in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.Engine.Config.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner := a.cronRunner()
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.NewRouter(server.NewHandler(a.Engine, runner)),
				ReadHeaderTimeout: 10 * time.Second,
			}
			if !noCron {
				runner.Start(ctx)
				defer runner.Stop()
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			a.Engine.Logger.Info("serving", "addr", addr, "cron", !noCron)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	cmd.Flags().BoolVar(&noCron, "no-cron", false, "Do not run cron in the background")
	return cmd
}
