package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	promreg "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/ncecere/voice_translator/internal/config"
)

const namespace = "voice_translator"

// Provider owns tracing and Prometheus metrics. A nil Provider records nothing.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *metric.MeterProvider
	promHandler    http.Handler
	shutdownFuncs  []func(context.Context) error

	httpRequests    *promreg.CounterVec
	httpLatency     *promreg.HistogramVec
	translations    *promreg.CounterVec
	engineLatency   *promreg.HistogramVec
	minutesCharged  *promreg.CounterVec
	creditPurchases *promreg.CounterVec
}

func Setup(ctx context.Context, cfg config.ObservabilityConfig) (*Provider, error) {
	if !cfg.EnableOTLP && !cfg.EnableMetrics {
		return nil, nil
	}

	provider := &Provider{}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName("voice-translator")))
	if err != nil {
		return nil, err
	}

	if cfg.EnableOTLP {
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		var opts []otlptracegrpc.Option
		switch {
		case strings.HasPrefix(endpoint, "https://"):
			endpoint = strings.TrimPrefix(endpoint, "https://")
		default:
			endpoint = strings.TrimPrefix(endpoint, "http://")
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))

		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
		if err != nil {
			return nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		provider.tracerProvider = tp
		provider.shutdownFuncs = append(provider.shutdownFuncs, tp.Shutdown)
	}

	if cfg.EnableMetrics {
		if err := provider.setupMetrics(res); err != nil {
			return nil, err
		}
	}
	return provider, nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	registry := promreg.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return err
	}
	mp := metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
	otel.SetMeterProvider(mp)
	p.meterProvider = mp
	p.promHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)

	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	p.httpRequests = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"method", "route", "status"})
	p.httpLatency = promreg.NewHistogramVec(promreg.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   buckets,
	}, []string{"method", "route", "status"})
	p.translations = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "translations_total",
		Help:      "Translate requests by outcome.",
	}, []string{"tier", "outcome"})
	p.engineLatency = promreg.NewHistogramVec(promreg.HistogramOpts{
		Namespace: namespace,
		Name:      "engine_step_duration_seconds",
		Help:      "Duration of upstream transcription and translation calls.",
		Buckets:   buckets,
	}, []string{"step", "model", "status"})
	p.minutesCharged = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "credit_minutes_charged_total",
		Help:      "Credit minutes deducted from user balances.",
	}, []string{"tier"})
	p.creditPurchases = promreg.NewCounterVec(promreg.CounterOpts{
		Namespace: namespace,
		Name:      "credit_purchases_total",
		Help:      "Applied credit purchases by product.",
	}, []string{"product", "outcome"})

	for _, c := range []promreg.Collector{p.httpRequests, p.httpLatency, p.translations, p.engineLatency, p.minutesCharged, p.creditPurchases} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) PrometheusHandler() http.Handler {
	if p == nil || p.promHandler == nil {
		return nil
	}
	return p.promHandler
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if p == nil || p.httpRequests == nil {
		return
	}
	label := strconv.Itoa(status)
	p.httpRequests.WithLabelValues(method, route, label).Inc()
	p.httpLatency.WithLabelValues(method, route, label).Observe(duration.Seconds())
}

// RecordTranslation counts one translate outcome such as "ok", "replay" or "insufficient_credits".
func (p *Provider) RecordTranslation(tier, outcome string) {
	if p == nil || p.translations == nil {
		return
	}
	p.translations.WithLabelValues(tier, outcome).Inc()
}

func (p *Provider) RecordEngineStep(step, model string, err error, duration time.Duration) {
	if p == nil || p.engineLatency == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.engineLatency.WithLabelValues(step, model, status).Observe(duration.Seconds())
}

func (p *Provider) RecordCharge(tier string, minutes float64) {
	if p == nil || p.minutesCharged == nil || minutes <= 0 {
		return
	}
	p.minutesCharged.WithLabelValues(tier).Add(minutes)
}

func (p *Provider) RecordPurchase(product, outcome string) {
	if p == nil || p.creditPurchases == nil {
		return
	}
	p.creditPurchases.WithLabelValues(product, outcome).Inc()
}

// TracerProvider is nil unless OTLP export is enabled.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	if p == nil {
		return nil
	}
	return p.tracerProvider
}
