package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// WorldCollector bundles the Prometheus metrics of a simulation world and the
// servers around it.
type WorldCollector struct {
	gatherer prometheus.Gatherer

	StepSeconds     prometheus.Histogram
	SyncSeconds     prometheus.Histogram
	Bodies          prometheus.Gauge
	CommandsApplied prometheus.Counter
	Diagnostics     *prometheus.CounterVec
	Events          *prometheus.CounterVec
	Frames          prometheus.Counter
	RPCRequests     *prometheus.CounterVec
	RPCDurations    *prometheus.HistogramVec
}

// NewWorldCollector registers the world metrics against reg, defaulting to
// the global registry when nil. Registering twice against the same registry
// reuses the existing collectors.
func NewWorldCollector(reg prometheus.Registerer) (*WorldCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	stepBuckets := []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.0167, 0.0333, 0.05, 0.1, 0.25}

	step, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "physsync_step_seconds",
		Help:    "Wall time of one backend step including result fetch.",
		Buckets: stepBuckets,
	}), "physsync_step_seconds")
	if err != nil {
		return nil, err
	}
	sync, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "physsync_sync_seconds",
		Help:    "Wall time of one scene synchronization pass.",
		Buckets: stepBuckets,
	}), "physsync_sync_seconds")
	if err != nil {
		return nil, err
	}
	bodies, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "physsync_bodies",
		Help: "Current number of live backend nodes.",
	}), "physsync_bodies")
	if err != nil {
		return nil, err
	}
	commands, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "physsync_commands_applied_total",
		Help: "Total number of body commands applied to the backend.",
	}), "physsync_commands_applied_total")
	if err != nil {
		return nil, err
	}
	diagnostics, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "physsync_diagnostics_total",
		Help: "Recoverable problems reported by the world, labeled by kind.",
	}, []string{"kind"}), "physsync_diagnostics_total")
	if err != nil {
		return nil, err
	}
	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "physsync_events_total",
		Help: "Collision and trigger events dispatched to scene nodes, labeled by type.",
	}, []string{"type"}), "physsync_events_total")
	if err != nil {
		return nil, err
	}
	frames, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "physsync_frames_total",
		Help: "Total number of completed step and sync frames.",
	}), "physsync_frames_total")
	if err != nil {
		return nil, err
	}
	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "physsync_grpc_requests_total",
		Help: "Total number of handled gRPC calls, labeled by service, method, and status code.",
	}, []string{"service", "method", "code"}), "physsync_grpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "physsync_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"service", "method"}), "physsync_grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &WorldCollector{
		gatherer:        gatherer,
		StepSeconds:     step,
		SyncSeconds:     sync,
		Bodies:          bodies,
		CommandsApplied: commands,
		Diagnostics:     diagnostics,
		Events:          events,
		Frames:          frames,
		RPCRequests:     requests,
		RPCDurations:    durations,
	}, nil
}

// The methods below satisfy world.Metrics. All of them tolerate a nil
// collector.

func (c *WorldCollector) ObserveStep(d time.Duration) {
	if c == nil {
		return
	}
	c.StepSeconds.Observe(d.Seconds())
}

func (c *WorldCollector) ObserveSync(d time.Duration) {
	if c == nil {
		return
	}
	c.SyncSeconds.Observe(d.Seconds())
}

func (c *WorldCollector) SetBodies(n int) {
	if c == nil {
		return
	}
	c.Bodies.Set(float64(n))
}

func (c *WorldCollector) AddCommandsApplied(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.CommandsApplied.Add(float64(n))
}

func (c *WorldCollector) Diagnostic(kind string) {
	if c == nil {
		return
	}
	c.Diagnostics.WithLabelValues(kind).Inc()
}

func (c *WorldCollector) Event(typ string) {
	if c == nil {
		return
	}
	c.Events.WithLabelValues(typ).Inc()
}

func (c *WorldCollector) FrameDone() {
	if c == nil {
		return
	}
	c.Frames.Inc()
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *WorldCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		c.RPCRequests.WithLabelValues(service, method, code).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *WorldCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func alreadyRegistered[T any](err error, name string) (T, error) {
	var zero T
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
		return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
	}
	return zero, err
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		return alreadyRegistered[prometheus.Counter](err, name)
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		return alreadyRegistered[*prometheus.CounterVec](err, name)
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		return alreadyRegistered[prometheus.Histogram](err, name)
	}
	return h, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		return alreadyRegistered[*prometheus.HistogramVec](err, name)
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		return alreadyRegistered[prometheus.Gauge](err, name)
	}
	return gauge, nil
}
