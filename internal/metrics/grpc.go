package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Server holds the collectors of a gateway server.
type Server struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewServer creates the server collectors and registers them on reg.
func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pointgw",
			Name:      "requests_total",
			Help:      "Gateway RPCs by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pointgw",
			Name:      "request_duration_seconds",
			Help:      "Gateway RPC latency by method.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method"}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}

	return m
}

// UnaryServerInterceptor counts and times every unary RPC.
func (m *Server) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)

		m.requests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		m.latency.WithLabelValues(info.FullMethod).Observe(time.Since(started).Seconds())

		return resp, err
	}
}
