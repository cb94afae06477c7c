package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Config configures the metrics provider. Metrics are exported only when an
// OTLP endpoint is set.
type Config struct {
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes the pipeline instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	recordsProcessed  metric.Int64Counter
	eventsSkipped     metric.Int64Counter
	enrichmentAllowed metric.Int64Counter
	enrichmentDenied  metric.Int64Counter
	enrichmentErrors  metric.Int64Counter
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// NewProvider configures and registers the global meter provider.
func NewProvider(cfg Config) (metric.MeterProvider, ShutdownFunc, error) {
	if strings.TrimSpace(cfg.ExporterEndpoint) == "" {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	return provider, provider.Shutdown, nil
}

// New creates the pipeline instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "efb-ocr"
	}
	meter := provider.Meter(name)

	recordsProcessed, err := meter.Int64Counter("efb_ocr_records_processed_total")
	if err != nil {
		return nil, err
	}
	eventsSkipped, err := meter.Int64Counter("efb_ocr_events_skipped_total")
	if err != nil {
		return nil, err
	}
	enrichmentAllowed, err := meter.Int64Counter("efb_ocr_enrichment_allowed_total")
	if err != nil {
		return nil, err
	}
	enrichmentDenied, err := meter.Int64Counter("efb_ocr_enrichment_denied_total")
	if err != nil {
		return nil, err
	}
	enrichmentErrors, err := meter.Int64Counter("efb_ocr_enrichment_errors_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		recordsProcessed:  recordsProcessed,
		eventsSkipped:     eventsSkipped,
		enrichmentAllowed: enrichmentAllowed,
		enrichmentDenied:  enrichmentDenied,
		enrichmentErrors:  enrichmentErrors,
	}, nil
}

// RecordProcessed counts a persisted OCR record.
func (m *Metrics) RecordProcessed(ctx context.Context, docType string, needsReview bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("doc_type", strings.TrimSpace(docType)),
		attribute.Bool("needs_review", needsReview),
	)
	m.recordsProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSkipped counts an event that produced no record.
func (m *Metrics) RecordSkipped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.eventsSkipped.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEnrichmentAllowed(ctx context.Context, docType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("doc_type", strings.TrimSpace(docType)))
	m.enrichmentAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEnrichmentDenied(ctx context.Context, docType, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("doc_type", strings.TrimSpace(docType)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.enrichmentDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEnrichmentError(ctx context.Context, docType string, circuitOpened bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("doc_type", strings.TrimSpace(docType)),
		attribute.Bool("circuit_opened", circuitOpened),
	)
	m.enrichmentErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// uid and storage paths are never labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"doc_type":       {},
	"reason":         {},
	"needs_review":   {},
	"circuit_opened": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
