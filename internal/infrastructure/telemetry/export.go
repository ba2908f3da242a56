package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// ServiceVersion is reported on every exported span and metric. Binaries
// overwrite it with their build version before creating providers.
var ServiceVersion = "dev"

const (
	defaultExportInterval = time.Minute
	shutdownTimeout       = 10 * time.Second
)

func serviceResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// shutdownProvider flushes and stops one SDK provider within shutdownTimeout.
// A nil stop means the signal was disabled and nothing is exported.
func shutdownProvider(ctx context.Context, signal string, logger *zap.Logger, stop func(context.Context) error) error {
	if stop == nil {
		logger.Debug("Telemetry signal disabled, nothing to flush", zap.String("signal", signal))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := stop(ctx); err != nil {
		logger.Error("Failed to flush telemetry", zap.String("signal", signal), zap.Error(err))
		return fmt.Errorf("failed to shutdown %s provider: %w", signal, err)
	}
	logger.Info("Telemetry flushed", zap.String("signal", signal))
	return nil
}
