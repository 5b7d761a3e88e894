// Package telemetry installs the process logger and, when an OTLP endpoint is
// configured, the OpenTelemetry trace and log providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Config struct {
	ServiceName string
	// Format is "text" or "json".
	Format string
	Level  slog.Level
	// OTLPEndpoint enables export; the exporters read the rest of the
	// OTEL_EXPORTER_OTLP_* variables themselves.
	OTLPEndpoint string
	Blob         BlobConfig
}

func ConfigFromEnv(service string) Config {
	cfg := Config{
		ServiceName:  service,
		Format:       strings.ToLower(os.Getenv("LOG_FORMAT")),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Blob: BlobConfig{
			AccountName: os.Getenv("AZURE_STORAGE_ACCOUNT_NAME"),
			AccountKey:  os.Getenv("AZURE_STORAGE_PRIMARY_ACCOUNT_KEY"),
			Container:   os.Getenv("LOG_BLOB_CONTAINER"),
		},
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		cfg.ServiceName = name
	}
	if err := cfg.Level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		cfg.Level = slog.LevelInfo
	}
	return cfg
}

type Telemetry struct {
	Logger    *slog.Logger
	shutdowns []func(context.Context) error
}

// Setup builds the logger and makes it the default. Call Shutdown before the
// process exits so buffered spans and records are flushed.
func Setup(ctx context.Context, cfg Config, w io.Writer) (*Telemetry, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var console slog.Handler
	if cfg.Format == "json" {
		console = slog.NewJSONHandler(w, opts)
	} else {
		console = slog.NewTextHandler(w, opts)
	}
	handlers := []slog.Handler{console}
	t := &Telemetry{}

	if cfg.OTLPEndpoint != "" {
		lp, err := t.startOTel(ctx, cfg.ServiceName)
		if err != nil {
			return nil, errors.Join(err, t.Shutdown(ctx))
		}
		handlers = append(handlers, otelslog.NewHandler(cfg.ServiceName, otelslog.WithLoggerProvider(lp)))
	}
	if cfg.Blob.Enabled() {
		blob, err := NewBlobHandler(ctx, cfg.Blob)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("log blob sink: %w", err), t.Shutdown(ctx))
		}
		t.shutdowns = append(t.shutdowns, func(context.Context) error { return blob.Close() })
		handlers = append(handlers, blob)
	}

	t.Logger = slog.New(Fanout(cfg.Level, handlers...))
	slog.SetDefault(t.Logger)
	return t, nil
}

func (t *Telemetry) startOTel(ctx context.Context, service string) (*sdklog.LoggerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", service)),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	t.shutdowns = append(t.shutdowns, tp.Shutdown)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("otlp log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
	t.shutdowns = append(t.shutdowns, lp.Shutdown)
	global.SetLoggerProvider(lp)
	return lp, nil
}

// Shutdown flushes and stops every provider, newest first.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		errs = append(errs, t.shutdowns[i](ctx))
	}
	t.shutdowns = nil
	return errors.Join(errs...)
}
