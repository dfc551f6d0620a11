package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang-settlement-reconciler/internal/api"
	"golang-settlement-reconciler/pkg/errors"
	"golang-settlement-reconciler/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prediction and reconciliation API over HTTP",
	Long: `Serve starts the HTTP API on --addr. It stops gracefully on SIGINT or SIGTERM.

Examples:
  reconciler serve --addr :8080 --db store.db
  SETTLEMENT_SERVER_ADDR=:9090 reconciler serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default from config: :8080)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, service, err := openService()
	if err != nil {
		return err
	}
	defer store.Close()

	log := logger.GetGlobalLogger().WithComponent("server")
	handlers := api.NewHandlers(service, store, logger.GetGlobalLogger())

	srv := &http.Server{
		Addr:              appConfig.Server.Addr,
		Handler:           api.NewRouter(handlers, appConfig.RouterConfig()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logger.Fields{
			"addr":     srv.Addr,
			"database": appConfig.Database.DSN,
		}).Info("HTTP server listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return errors.InternalError(errors.CodeUnexpectedError, "serve", err).
				WithSuggestion("Check that the listen address is free")
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "shutdown", err)
	}
	return nil
}
