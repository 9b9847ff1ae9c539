package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"

	"github.com/oshokin/loadshed/internal/api/grpc/pointgw"
	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/discovery"
	"github.com/oshokin/loadshed/internal/logger"
	"github.com/oshokin/loadshed/internal/metrics"
	"github.com/oshokin/loadshed/internal/registry"
	repository "github.com/oshokin/loadshed/internal/repository/state"
	"github.com/oshokin/loadshed/internal/version"
)

// Options controls the pointgw-sim process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// StateFile specifies the path to persist priority arrays.
	StateFile string
	// Advertise publishes the server over mDNS regardless of the configuration.
	Advertise bool
	// AccessLogLevel is the level of the per-request log; empty disables it.
	AccessLogLevel string
	// Ready, when set, receives the bound listen address once serving starts.
	Ready func(address string)
}

// errAccessLogLevel is returned for unknown access log levels.
var errAccessLogLevel = errors.New("unknown access log level")

// Run starts the gRPC server and blocks until context is canceled or server stops.
//
//nolint:cyclop,funlen // Server wiring with optional metrics and discovery.
func Run(ctx context.Context, opts *Options) error {
	// Load configuration first to get simulator settings.
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err = logger.Configure(settings.Log.Level, settings.Log.Format); err != nil {
		return err
	}

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "pointgw-sim")

	// Use StateFile from config unless overridden by command line option.
	stateFile := settings.Simulator.StateFile
	if opts.StateFile != "" {
		stateFile = opts.StateFile
	}

	listenAddress := settings.Simulator.Listen
	if opts.ListenAddress != "" {
		listenAddress = opts.ListenAddress
	}

	reg, err := registry.FromConfig(settings)
	if err != nil {
		return err
	}

	// Initialize state repository for priority array persistence.
	repo := repository.NewFileRepository(stateFile)

	svc, err := newService(ctx, repo, settings.Simulator.Values, reg.Devices())
	if err != nil {
		return fmt.Errorf("initialise service: %w", err)
	}

	chain, err := interceptors(ctx, settings, opts)
	if err != nil {
		return err
	}

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(chain...))
	pointgw.Register(grpcServer, pointgw.NewServer(svc))

	logger.InfoKV(ctx, "Point gateway simulator listening",
		append([]any{"listen_address", lis.Addr().String(), "state_file", stateFile}, version.KV()...)...)

	if settings.Simulator.Advertise || opts.Advertise {
		if tcpAddr, ok := lis.Addr().(*net.TCPAddr); ok {
			advertiser, err := discovery.Advertise(ctx, "pointgw-sim", tcpAddr.Port)
			if err != nil {
				logger.WarnKV(ctx, "mDNS advertisement failed", "error", err)
			}

			defer advertiser.Stop()
		}
	}

	if opts.Ready != nil {
		opts.Ready(lis.Addr().String())
	}

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// interceptors builds the unary chain: metrics when an endpoint is configured,
// then the access log when requested.
func interceptors(ctx context.Context, settings *config.Config, opts *Options) ([]grpc.UnaryServerInterceptor, error) {
	var chain []grpc.UnaryServerInterceptor

	if settings.Metrics.Address != "" {
		promRegistry := metrics.NewRegistry()

		if _, err := metrics.Serve(ctx, settings.Metrics.Address, promRegistry); err != nil {
			return nil, err
		}

		chain = append(chain, metrics.NewServer(promRegistry).UnaryServerInterceptor())
	}

	if opts.AccessLogLevel != "" {
		level, ok := logger.ParseLogLevel(opts.AccessLogLevel)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errAccessLogLevel, opts.AccessLogLevel)
		}

		chain = append(chain, accessLog(logger.WithComponentLevel(ctx, "access", level), level))
	}

	return chain, nil
}

// accessLog logs every RPC at level through the logger of logCtx.
func accessLog(logCtx context.Context, level zapcore.Level) grpc.UnaryServerInterceptor {
	access := logger.FromContext(logCtx)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)

		access.Logw(level, "RPC",
			"method", info.FullMethod,
			"took", time.Since(started),
			"error", err,
		)

		return resp, err
	}
}
