package common

import (
	"context"
	"fmt"

	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/discovery"
	"github.com/oshokin/loadshed/internal/gateway"
	"github.com/oshokin/loadshed/internal/gateway/sim"
	"github.com/oshokin/loadshed/internal/logger"
	"github.com/oshokin/loadshed/internal/registry"
)

// Connect opens the gateway selected by cfg.Gateway.Address: an in-process
// simulator seeded with the registry, a gateway found over mDNS, or a fixed
// address. The returned close function drops the connection without ending
// the gateway session.
func Connect(ctx context.Context, cfg *config.Config, reg *registry.Registry) (gateway.Gateway, func(), error) {
	switch cfg.Gateway.Address {
	case config.AddressInProcess:
		simulator := sim.New()

		if err := simulator.SeedValues(cfg.Simulator.Values); err != nil {
			return nil, nil, err
		}

		for _, d := range reg.Devices() {
			simulator.SeedDevice(d, nil)
		}

		logger.Info(ctx, "Using in-process point gateway simulator")

		return simulator, func() {}, nil
	case config.AddressDiscover:
		browseCtx, cancel := context.WithTimeout(ctx, cfg.Gateway.DiscoveryTimeout)
		defer cancel()

		svc, err := discovery.Browse(browseCtx)
		if err != nil {
			return nil, nil, fmt.Errorf("discover point gateway: %w", err)
		}

		return dial(ctx, svc.Address(), cfg)
	default:
		return dial(ctx, cfg.Gateway.Address, cfg)
	}
}

// dial connects to a remote gateway.
func dial(ctx context.Context, address string, cfg *config.Config) (gateway.Gateway, func(), error) {
	client, err := Dial(ctx, address, WithCallTimeout(cfg.Gateway.Timeout))
	if err != nil {
		return nil, nil, err
	}

	logger.InfoKV(ctx, "Connected to point gateway", "address", address)

	return client, func() {
		_ = client.Close() //nolint:errcheck // Shutdown already closed the connection in most cases.
	}, nil
}
