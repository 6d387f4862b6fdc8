package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 是 duotronics 专用的指标注册表，避免与全局默认注册表冲突。
var Registry = prometheus.NewRegistry()

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotronics_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"handler", "method", "code"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duotronics_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"handler", "method"},
	)

	stageCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotronics_stage_calls_total",
			Help: "Provider calls issued per pipeline stage.",
		},
		[]string{"stage", "provider", "outcome"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duotronics_stage_duration_seconds",
			Help:    "Provider call latency per pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"stage", "provider"},
	)

	probeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duotronics_probe_results_total",
			Help: "Connectivity probe outcomes per provider.",
		},
		[]string{"provider", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests, httpDuration, stageCalls, stageDuration, probeResults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveHTTPRequest 记录一次 HTTP 请求的状态码与耗时。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveStage 记录一次流水线阶段的厂商调用。
func ObserveStage(stage, provider string, err error, duration time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	stageCalls.WithLabelValues(stage, provider, outcome).Inc()
	stageDuration.WithLabelValues(stage, provider).Observe(duration.Seconds())
}

// ObserveProbe 记录一次连通性探测的结果。
func ObserveProbe(provider string, success bool) {
	probeResults.WithLabelValues(provider, strconv.FormatBool(success)).Inc()
}

// Handler 以 Prometheus 文本格式暴露指标。
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// StartServer 启动独立的 /metrics 服务，直到上下文取消。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
