package pointgw

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/loadshed/internal/gateway"
)

// Server implements the PointGateway gRPC API on top of a gateway.
type Server struct {
	// gateway performs the point operations.
	gateway gateway.Gateway
}

// NewServer wires the provided gateway into a gRPC handler.
func NewServer(gw gateway.Gateway) *Server {
	return &Server{
		gateway: gw,
	}
}

// ReadPoint returns the present value of a point.
func (s *Server) ReadPoint(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	point, err := ParsePoint(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	value, err := s.gateway.Read(ctx, point)
	if err != nil {
		return nil, toStatus(err)
	}

	return ValueResponse(value), nil
}

// WritePoint commands a value at a priority.
func (s *Server) WritePoint(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	point, err := ParsePoint(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	priority, err := ParsePriority(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	value, err := ParseValue(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err = s.gateway.Write(ctx, point, value, priority); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// ReleasePoint clears a priority level.
func (s *Server) ReleasePoint(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	point, err := ParsePoint(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	priority, err := ParsePriority(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err = s.gateway.Release(ctx, point, priority); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// Shutdown ends the caller's gateway session.
func (s *Server) Shutdown(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.gateway.Shutdown(ctx); err != nil {
		return nil, toStatus(err)
	}

	return new(emptypb.Empty), nil
}

// toStatus maps gateway errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, gateway.ErrUnknownPoint):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, gateway.ErrInvalidPriority), errors.Is(err, gateway.ErrInvalidValue):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, gateway.ErrClosed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, gateway.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// FromStatus maps gRPC status codes back to gateway errors.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	var sentinel error

	switch st.Code() {
	case codes.NotFound:
		sentinel = gateway.ErrUnknownPoint
	case codes.InvalidArgument:
		sentinel = gateway.ErrInvalidValue
	case codes.FailedPrecondition:
		sentinel = gateway.ErrClosed
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		sentinel = gateway.ErrUnavailable
	default:
		return err
	}

	return &statusError{sentinel: sentinel, cause: err}
}

// statusError keeps the remote status while matching a gateway sentinel.
type statusError struct {
	sentinel error
	cause    error
}

func (e *statusError) Error() string {
	return e.cause.Error()
}

func (e *statusError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}
