package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/viper"

	"github.com/stefando/largeFileUpload/internal/api"
	"github.com/stefando/largeFileUpload/internal/config"
	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/storage/factory"
	"github.com/stefando/largeFileUpload/internal/upload"
)

// router is built once per container and reused across invocations
var router http.Handler

func init() {
	logger := logging.Default().WithField("phase", "startup")

	// Lambda functions are configured through the environment only
	viper.SetEnvPrefix("LARGEFILES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cfg, err := config.NewConfig()
	if err != nil {
		logger.WithError(err).Fatal("Load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid config")
	}

	backend, err := factory.BuildBackend(context.Background(), cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create blockstore adapter")
	}
	svc := upload.NewService(backend.Append, backend.Blocks,
		upload.WithAppendBufferBytes(cfg.Upload.AppendBufferBytes),
		upload.WithMaxBlockBytes(cfg.Upload.MaxBlockBytes),
	)
	router = api.NewRouter(svc, api.RouterOptions{
		MaxBodyBytes:  cfg.Upload.MaxBodyBytes,
		AuditLogLevel: cfg.Logging.AuditLogLevel,
	})
	logger.WithFields(cfg.ToLoggerFields()).Info("Services initialized")
}

// lambdaHandler is the main Lambda handler function that adapts API Gateway events
// to the Chi router
func lambdaHandler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return serveProxyRequest(ctx, router, req), nil
}

func main() {
	lambda.Start(lambdaHandler)
}
