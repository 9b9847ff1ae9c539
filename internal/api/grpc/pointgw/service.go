package pointgw

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/loadshed/internal/domain/shed"
)

// Service and method names on the wire.
const (
	ServiceName = "loadshed.v1.PointGateway"

	ReadPointMethod    = "/" + ServiceName + "/ReadPoint"
	WritePointMethod   = "/" + ServiceName + "/WritePoint"
	ReleasePointMethod = "/" + ServiceName + "/ReleasePoint"
	ShutdownMethod     = "/" + ServiceName + "/Shutdown"
)

// Request and response field names.
const (
	FieldDevice   = "device"
	FieldRole     = "role"
	FieldAddress  = "address"
	FieldPoint    = "point"
	FieldValue    = "value"
	FieldPriority = "priority"
)

var (
	// errMissingField is returned when a request lacks a required field.
	errMissingField = errors.New("missing field")
	// errInvalidPriority is returned when the priority is not a whole number.
	errInvalidPriority = errors.New("priority must be a whole number")
)

// PointGatewayServer is the server API of the Point Gateway service.
type PointGatewayServer interface {
	ReadPoint(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	WritePoint(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	ReleasePoint(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	Shutdown(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
}

// ServiceDesc describes the Point Gateway service for grpc.ServiceRegistrar.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PointGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReadPoint", Handler: readPointHandler},
		{MethodName: "WritePoint", Handler: writePointHandler},
		{MethodName: "ReleasePoint", Handler: releasePointHandler},
		{MethodName: "Shutdown", Handler: shutdownHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "loadshed/v1/pointgw.proto",
}

// Register adds the Point Gateway service to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, srv PointGatewayServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

func readPointHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(PointGatewayServer).ReadPoint(ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReadPointMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PointGatewayServer).ReadPoint(ctx, req.(*structpb.Struct)) //nolint:forcetypeassert // Decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

func writePointHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(PointGatewayServer).WritePoint(ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: WritePointMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PointGatewayServer).WritePoint(ctx, req.(*structpb.Struct)) //nolint:forcetypeassert // Decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

func releasePointHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(PointGatewayServer).ReleasePoint(ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ReleasePointMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PointGatewayServer).ReleasePoint(ctx, req.(*structpb.Struct)) //nolint:forcetypeassert // Decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

func shutdownHandler(
	srv any,
	ctx context.Context, //nolint:revive // Signature fixed by grpc.MethodHandler.
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(PointGatewayServer).Shutdown(ctx, in) //nolint:forcetypeassert // Guaranteed by HandlerType.
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ShutdownMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PointGatewayServer).Shutdown(ctx, req.(*emptypb.Empty)) //nolint:forcetypeassert // Decoded above.
	}

	return interceptor(ctx, in, info, handler)
}

// PointRequest builds the request message addressing a point.
func PointRequest(point shed.PointRef) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldDevice:  structpb.NewStringValue(point.Device),
		FieldRole:    structpb.NewStringValue(string(point.Role)),
		FieldAddress: structpb.NewStringValue(point.Address),
		FieldPoint:   structpb.NewStringValue(point.Point),
	}}
}

// WriteRequest builds the WritePoint request message.
func WriteRequest(point shed.PointRef, value shed.Value, priority int) *structpb.Struct {
	req := PointRequest(point)
	req.Fields[FieldValue] = structpb.NewStringValue(value.String())
	req.Fields[FieldPriority] = structpb.NewNumberValue(float64(priority))

	return req
}

// ReleaseRequest builds the ReleasePoint request message.
func ReleaseRequest(point shed.PointRef, priority int) *structpb.Struct {
	req := PointRequest(point)
	req.Fields[FieldPriority] = structpb.NewNumberValue(float64(priority))

	return req
}

// ValueResponse builds the ReadPoint response message.
func ValueResponse(value shed.Value) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldValue: structpb.NewStringValue(value.String()),
	}}
}

// ParsePoint extracts the point reference from a request.
func ParsePoint(req *structpb.Struct) (shed.PointRef, error) {
	fields := req.GetFields()

	point := shed.PointRef{
		Device:  fields[FieldDevice].GetStringValue(),
		Role:    shed.Role(fields[FieldRole].GetStringValue()),
		Address: fields[FieldAddress].GetStringValue(),
		Point:   fields[FieldPoint].GetStringValue(),
	}

	if point.Address == "" {
		return shed.PointRef{}, fmt.Errorf("%w: %s", errMissingField, FieldAddress)
	}

	if point.Point == "" {
		return shed.PointRef{}, fmt.Errorf("%w: %s", errMissingField, FieldPoint)
	}

	return point, nil
}

// ParsePriority extracts the priority from a request. The range is checked
// by the gateway.
func ParsePriority(req *structpb.Struct) (int, error) {
	v, ok := req.GetFields()[FieldPriority]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errMissingField, FieldPriority)
	}

	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a number", errInvalidPriority, FieldPriority)
	}

	f := n.NumberValue
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) ||
		f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %g", errInvalidPriority, f)
	}

	return int(f), nil
}

// ParseValue extracts the value from a request or response.
func ParseValue(msg *structpb.Struct) (shed.Value, error) {
	v, ok := msg.GetFields()[FieldValue]
	if !ok {
		return shed.Value{}, fmt.Errorf("%w: %s", errMissingField, FieldValue)
	}

	return shed.ParseValue(v.GetStringValue())
}
