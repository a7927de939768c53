// cmd/lambda/main.go
package main

import (
	"context"
	"errors"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/app"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/config"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/models"
	"github.com/Saoudyahya/Live-Streaming-Platform-Architecture/services/session-reconciler/internal/service"
)

// errUnexpected is what EventBridge sees for every failure; the cause is only
// logged.
var errUnexpected = errors.New("UnexpectedException")

func main() {
	cfg := config.Load()
	logger := app.NewLogger(cfg.IsProduction())
	defer logger.Sync()

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize reconciler", zap.Error(err))
	}
	defer application.Close()

	lambda.Start(newHandler(application.Reconciler, logger))
}

type reconciler interface {
	Reconcile(ctx context.Context, env models.Envelope) (service.Outcome, error)
}

func newHandler(r reconciler, logger *zap.Logger) func(context.Context, events.CloudWatchEvent) error {
	return func(ctx context.Context, ev events.CloudWatchEvent) error {
		env, err := models.EnvelopeFromCloudWatchEvent(ev)
		if err != nil {
			logger.Error("failed to decode event", zap.String("id", ev.ID), zap.ByteString("detail", ev.Detail), zap.Error(err))
			return errUnexpected
		}

		outcome, err := r.Reconcile(ctx, env)
		if err != nil {
			logger.Error("failed to reconcile envelope",
				zap.String("id", ev.ID),
				zap.String("class", service.Classify(err)),
				zap.Any("envelope", env),
				zap.Error(err),
			)
			return errUnexpected
		}

		logger.Debug("envelope handled", zap.String("id", ev.ID), zap.String("outcome", string(outcome)))
		return nil
	}
}
