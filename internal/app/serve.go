package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Serve runs the HTTP server and the connection janitor until ctx is done,
// then shuts down within the configured timeout.
func (b *BuildResult) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              b.Config.BindAddr,
		Handler:           b.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	b.Sessions.StartJanitor(gctx, 30*time.Second)

	g.Go(func() error {
		b.Logger.Info().
			Str("addr", b.Config.BindAddr).
			Str("speech", b.Speech.Detail).
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		b.Logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.Config.ShutdownTimeout)
		defer cancel()
		b.API.Shutdown(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			b.Logger.Warn().Err(err).Msg("graceful shutdown failed")
			_ = httpServer.Close()
		}
		return nil
	})

	err := g.Wait()
	if cerr := b.Cleanup(); cerr != nil {
		b.Logger.Warn().Err(cerr).Msg("cleanup failed")
	}
	b.Logger.Info().Msg("shutdown complete")
	return err
}
