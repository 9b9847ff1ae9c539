//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/loadshed/internal/api/grpc/pointgw"
	"github.com/oshokin/loadshed/internal/config"
	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/gateway"
)

// Client talks to a remote Point Gateway and implements gateway.Gateway.
type Client struct {
	// conn is the underlying gRPC connection to the gateway.
	conn *grpc.ClientConn

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
	// dialOptions are appended to the defaults when dialing.
	dialOptions []grpc.DialOption
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for gateway calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithDialOptions adds gRPC dial options, such as interceptors.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial creates a client for the gateway at address.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append(
		[]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		client.dialOptions...,
	)

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial point gateway: %w", err)
	}

	client.conn = conn

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Read implements gateway.Gateway.
func (c *Client) Read(ctx context.Context, point shed.PointRef) (shed.Value, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, pointgw.ReadPointMethod, pointgw.PointRequest(point), resp); err != nil {
		return shed.Value{}, fmt.Errorf("read point: %w", pointgw.FromStatus(err))
	}

	value, err := pointgw.ParseValue(resp)
	if err != nil {
		return shed.Value{}, fmt.Errorf("read point: %w", err)
	}

	return value, nil
}

// Write implements gateway.Gateway.
func (c *Client) Write(ctx context.Context, point shed.PointRef, value shed.Value, priority int) error {
	if err := gateway.CheckPriority(priority); err != nil {
		return err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req := pointgw.WriteRequest(point, value, priority)
	if err := c.conn.Invoke(callCtx, pointgw.WritePointMethod, req, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("write point: %w", pointgw.FromStatus(err))
	}

	return nil
}

// Release implements gateway.Gateway.
func (c *Client) Release(ctx context.Context, point shed.PointRef, priority int) error {
	if err := gateway.CheckPriority(priority); err != nil {
		return err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	req := pointgw.ReleaseRequest(point, priority)
	if err := c.conn.Invoke(callCtx, pointgw.ReleasePointMethod, req, new(emptypb.Empty)); err != nil {
		return fmt.Errorf("release point: %w", pointgw.FromStatus(err))
	}

	return nil
}

// Shutdown implements gateway.Gateway. It ends the remote session and closes
// the connection.
func (c *Client) Shutdown(ctx context.Context) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	err := c.conn.Invoke(callCtx, pointgw.ShutdownMethod, new(emptypb.Empty), new(emptypb.Empty))

	if closeErr := c.Close(); closeErr != nil && err == nil {
		return fmt.Errorf("close connection: %w", closeErr)
	}

	if err != nil {
		return fmt.Errorf("shutdown gateway: %w", pointgw.FromStatus(err))
	}

	return nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
