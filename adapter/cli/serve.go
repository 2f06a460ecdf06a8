package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API until interrupted.

When no message broker is configured the outbox is also drained here and
notifications are dispatched in process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Server == nil {
			return errors.New("server requires database connection")
		}
		return runServer(cmd.Context(), app)
	},
}

func runServer(ctx context.Context, app *App) error {
	g, ctx := errgroup.WithContext(ctx)

	if app.Outbox != nil {
		if err := app.Outbox.Start(ctx); err != nil {
			return err
		}
		defer app.Outbox.Stop()
	}

	g.Go(app.Server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return app.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
