package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfetch_search_requests_total",
			Help: "Search API page requests by outcome",
		},
		[]string{"provider", "status"},
	)

	ImagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfetch_images_total",
			Help: "Images processed by outcome (saved, download_error, resize_error)",
		},
		[]string{"outcome"},
	)

	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgfetch_download_duration_seconds",
			Help:    "Time to download one image",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)

	DownloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfetch_download_bytes_total",
			Help: "Bytes downloaded before resizing",
		},
		[]string{"host"},
	)

	BlockedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfetch_blocked_total",
			Help: "Downloads refused by a bot-protection vendor",
		},
		[]string{"host", "source"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgfetch_proxy_failures_total",
			Help: "Download failures attributed to a proxy",
		},
		[]string{"proxy_url"},
	)
)

// Outcome labels for ImagesTotal.
const (
	OutcomeSaved         = "saved"
	OutcomeDownloadError = "download_error"
	OutcomeResizeError   = "resize_error"
)

// RecordDownload observes one completed download.
func RecordDownload(host string, d time.Duration, n int) {
	DownloadDuration.WithLabelValues(host).Observe(d.Seconds())
	DownloadBytesTotal.WithLabelValues(host).Add(float64(n))
}

// RecordImage counts one processed search result.
func RecordImage(outcome string) {
	ImagesTotal.WithLabelValues(outcome).Inc()
}

// RecordSearch counts one search page request.
func RecordSearch(provider string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	SearchRequestsTotal.WithLabelValues(provider, status).Inc()
}

// Server exposes /metrics for the lifetime of a run.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start listens on addr (":9090", "127.0.0.1:0", ...) and serves /metrics in
// the background.
func Start(addr string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "err", err)
		}
	}()
	logger.Debug("metrics server listening", "addr", ln.Addr().String())

	return &Server{srv: srv, ln: ln}, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Stop shuts the server down, waiting at most five seconds.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
