package cmd

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

	"github.com/stefando/largeFileUpload/internal/api"
	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/storage/factory"
	"github.com/stefando/largeFileUpload/internal/upload"
)

const (
	gracefulShutdownTimeout = 30 * time.Second
	readHeaderTimeout       = 10 * time.Second
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := logging.Default()
		ctx, cancelFn := context.WithCancel(cmd.Context())
		defer cancelFn()

		backend, err := factory.BuildBackend(ctx, cfg)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create blockstore adapter")
		}
		svc := upload.NewService(backend.Append, backend.Blocks,
			upload.WithAppendBufferBytes(cfg.Upload.AppendBufferBytes),
			upload.WithMaxBlockBytes(cfg.Upload.MaxBlockBytes),
		)

		if backend.Purger != nil && cfg.Upload.JanitorInterval > 0 {
			janitor := upload.NewJanitor(backend.Purger, cfg.Upload.StagingTTL, cfg.Upload.JanitorInterval)
			go janitor.Run(ctx)
		}

		handler := api.NewRouter(svc, api.RouterOptions{
			MaxBodyBytes:  cfg.Upload.MaxBodyBytes,
			AuditLogLevel: cfg.Logging.AuditLogLevel,
		})

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		logger.WithFields(logging.Fields{
			"listen_address": cfg.ListenAddress,
			"blockstore":     backend.Type,
		}).Info("starting HTTP server")
		server := &http.Server{
			Addr:              cfg.ListenAddress,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Printf("server failed to listen on %s: %v\n", cfg.ListenAddress, err)
				os.Exit(1)
			}
		}()

		gracefulShutdown(cmd.Context(), quit, server)
	},
}

func gracefulShutdown(ctx context.Context, quit <-chan os.Signal, server *http.Server) {
	logger := logging.Default()
	logger.Info("Up and running (^C to shutdown)...")

	<-quit
	logger.Warn("shutting down...")

	ctx, cancel := context.WithTimeout(ctx, gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		fmt.Printf("Error while shutting down server: %s\n", err)
	}
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(serveCmd)
}
