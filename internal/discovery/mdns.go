package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/enbility/zeroconf/v3"

	"github.com/oshokin/loadshed/internal/logger"
)

// DNS-SD identifiers of the Point Gateway service.
const (
	ServiceType = "_pointgw._tcp"
	Domain      = "local."

	// txtVersion is the TXT key carrying the API version.
	txtVersion = "api"
	// APIVersion is the advertised API version.
	APIVersion = "v1"
)

// ErrNotFound is returned when no gateway answered before the deadline.
var ErrNotFound = errors.New("no point gateway found")

// Service is a discovered gateway.
type Service struct {
	// Instance is the DNS-SD instance name.
	Instance string
	// Host is the advertised host name.
	Host string
	// Port is the gRPC port.
	Port int
	// Addresses lists the IPv4 then IPv6 addresses.
	Addresses []string
	// Version is the advertised API version.
	Version string
}

// Address returns the first address as host:port.
func (s *Service) Address() string {
	if len(s.Addresses) == 0 {
		return net.JoinHostPort(strings.TrimSuffix(s.Host, "."), strconv.Itoa(s.Port))
	}

	return net.JoinHostPort(s.Addresses[0], strconv.Itoa(s.Port))
}

// Advertiser publishes a gateway.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instance on port on every interface.
func Advertise(ctx context.Context, instance string, port int) (*Advertiser, error) {
	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		port,
		[]string{txtVersion + "=" + APIVersion},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", ServiceType, err)
	}

	logger.InfoKV(ctx, "Advertising point gateway", "instance", instance, "port", port)

	return &Advertiser{server: server}, nil
}

// Stop withdraws the advertisement. It is safe to call more than once.
func (a *Advertiser) Stop() {
	if a == nil || a.server == nil {
		return
	}

	a.server.Shutdown()
	a.server = nil
}

// Browse returns the first gateway found before ctx is done.
func Browse(ctx context.Context) (*Service, error) {
	browseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)

	go func() {
		browseErr <- zeroconf.Browse(browseCtx, ServiceType, Domain, entries, removed)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, ErrNotFound
			}

			if svc := toService(entry); svc != nil {
				logger.InfoKV(ctx, "Discovered point gateway", "instance", svc.Instance, "address", svc.Address())

				return svc, nil
			}
		case <-removed:
		case err := <-browseErr:
			if err != nil {
				return nil, fmt.Errorf("browse %s: %w", ServiceType, err)
			}

			browseErr = nil
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNotFound, ctx.Err())
		}
	}
}

// toService converts an entry, dropping ones with another API version.
func toService(entry *zeroconf.ServiceEntry) *Service {
	if entry == nil {
		return nil
	}

	svc := &Service{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
	}

	for _, txt := range entry.Text {
		if key, value, found := strings.Cut(txt, "="); found && key == txtVersion {
			svc.Version = value
		}
	}

	if svc.Version != "" && svc.Version != APIVersion {
		return nil
	}

	svc.Addresses = make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		svc.Addresses = append(svc.Addresses, ip.String())
	}

	for _, ip := range entry.AddrIPv6 {
		svc.Addresses = append(svc.Addresses, ip.String())
	}

	return svc
}
