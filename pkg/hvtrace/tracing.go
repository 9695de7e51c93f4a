// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package hvtrace

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	otelTrace "go.opentelemetry.io/otel/trace"
)

// spanLogExporter logs each reported span so trace tests can assert on
// span creation without a collector.
type spanLogExporter struct{}

var _ sdktrace.SpanExporter = (*spanLogExporter)(nil)

func (e *spanLogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		hvTraceLogger.Tracef("Reporting span %+v", span)
	}
	return nil
}

func (e *spanLogExporter) Shutdown(ctx context.Context) error {
	return nil
}

// tracerCloser contains a copy of the closer returned by CreateTracer() which
// is used by StopTracing().
var tracerCloser func()

var hvTraceLogger = logrus.NewEntry(logrus.New())

// tracing determines whether tracing is enabled.
var tracing bool

// SetTracing turns tracing on or off. Called by the configuration.
func SetTracing(isTracing bool) {
	tracing = isTracing
}

// JaegerConfig defines necessary Jaeger config for exporting traces.
type JaegerConfig struct {
	JaegerEndpoint string
	JaegerUser     string
	JaegerPassword string
}

// CreateTracer creates a tracer
func CreateTracer(name string, config *JaegerConfig) (func(), error) {
	if !tracing {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func() {}, nil
	}

	// build a log exporter to record reported span records
	logExporter := &spanLogExporter{}

	// build jaeger exporter
	collectorEndpoint := config.JaegerEndpoint
	if collectorEndpoint == "" {
		collectorEndpoint = "http://localhost:14268/api/traces"
	}

	jaegerExporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(
			jaeger.WithEndpoint(collectorEndpoint),
			jaeger.WithUsername(config.JaegerUser),
			jaeger.WithPassword(config.JaegerPassword),
		),
	)
	if err != nil {
		return nil, err
	}

	// build tracer provider combining both the jaeger exporter and the log exporter.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(logExporter),
		sdktrace.WithSyncer(jaegerExporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", name),
			attribute.String("exporter", "jaeger"),
			attribute.String("lib", "opentelemetry"),
		)),
	)

	tracerCloser = func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			hvTraceLogger.WithError(err).Warn("tracer shutdown failed")
		}
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tracerCloser, nil
}

// StopTracing ends all tracing, reporting the spans to the collector.
func StopTracing(ctx context.Context) {
	if !tracing {
		return
	}

	span := otelTrace.SpanFromContext(ctx)
	if span != nil {
		span.End()
	}

	// report all possible spans to the collector
	if tracerCloser != nil {
		tracerCloser()
	}
}

// Trace creates a new tracing span based on the specified name and parent context.
// It also accepts a logger to record nil context errors and a map of tracing tags.
// Tracing tag keys and values are strings.
func Trace(parent context.Context, logger *logrus.Entry, name string, tags ...map[string]string) (otelTrace.Span, context.Context) {
	if parent == nil {
		if logger == nil {
			logger = hvTraceLogger
		}
		logger.WithField("type", "bug").Error("trace called before context set")
		parent = context.Background()
	}

	var otelTags []attribute.KeyValue
	// do not append tags if tracing is disabled
	if tracing {
		for _, tagSet := range tags {
			for k, v := range tagSet {
				otelTags = append(otelTags, attribute.Key(k).String(v))
			}
		}
	}

	tracer := otel.Tracer("virtsupervisor")
	ctx, span := tracer.Start(parent, name, otelTrace.WithAttributes(otelTags...))

	// This is slightly confusing: when tracing is disabled, trace spans
	// are still created - but the tracer used is a NOP. Therefore, only
	// display the message when tracing is really enabled.
	if tracing {
		hvTraceLogger.Debugf("created span %v", span)
	}

	return span, ctx
}

func addTag(span otelTrace.Span, key string, value interface{}) {
	// do not append tags if tracing is disabled
	if !tracing {
		return
	}
	if value == nil {
		span.SetAttributes(attribute.String(key, "nil"))
		return
	}

	switch value := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, value))
	case bool:
		span.SetAttributes(attribute.Bool(key, value))
	case int:
		span.SetAttributes(attribute.Int(key, value))
	case int8:
		span.SetAttributes(attribute.Int(key, int(value)))
	case int16:
		span.SetAttributes(attribute.Int(key, int(value)))
	case int32:
		span.SetAttributes(attribute.Int(key, int(value)))
	case int64:
		span.SetAttributes(attribute.Int64(key, value))
	case uint:
		span.SetAttributes(attribute.Int64(key, int64(value)))
	case uint8:
		span.SetAttributes(attribute.Int(key, int(value)))
	case uint16:
		span.SetAttributes(attribute.Int(key, int(value)))
	case uint32:
		span.SetAttributes(attribute.Int64(key, int64(value)))
	case uint64:
		span.SetAttributes(attribute.Int64(key, int64(value)))
	case float32:
		span.SetAttributes(attribute.Float64(key, float64(value)))
	case float64:
		span.SetAttributes(attribute.Float64(key, value))
	default:
		content, err := json.Marshal(value)
		if content == nil && err == nil {
			span.SetAttributes(attribute.String(key, "nil"))
		} else if content != nil && err == nil {
			span.SetAttributes(attribute.String(key, string(content)))
		} else {
			hvTraceLogger.WithField("type", "bug").Error("span attribute value error")
		}
	}
}

// AddTags adds additional key-value pairs to a tracing span. This can be used to provide
// dynamic tags that are determined at runtime and tags with a non-string value.
// Must have an even number of keyValues with keys being strings.
func AddTags(span otelTrace.Span, keyValues ...interface{}) {
	if !tracing {
		return
	}
	if len(keyValues) < 2 {
		hvTraceLogger.WithField("type", "bug").Error("not enough inputs for attributes")
		return
	} else if len(keyValues)%2 != 0 {
		hvTraceLogger.WithField("type", "bug").Error("number of attribute keyValues is not even")
		return
	}
	for i := 0; i < len(keyValues); i++ {
		if key, ok := keyValues[i].(string); ok {
			addTag(span, key, keyValues[i+1])
		} else {
			hvTraceLogger.WithField("type", "bug").Error("key in attributes is not a string")
		}
		i++
	}
}
