package pointgw

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/loadshed/internal/domain/shed"
	"github.com/oshokin/loadshed/internal/gateway"
	"github.com/oshokin/loadshed/internal/gateway/sim"
)

var point = shed.PointRef{Device: "zone-1", Role: shed.RoleSetpoint, Address: "10.0.0.1", Point: "av 1"}

func newServer(t *testing.T) (*Server, *sim.Simulator) {
	t.Helper()

	gw := sim.New()
	gw.Seed(point.Address, point.Point, shed.Analog(72))

	return NewServer(gw), gw
}

// TestServer_Validation ensures malformed requests return InvalidArgument errors.
func TestServer_Validation(t *testing.T) {
	t.Parallel()

	srv, _ := newServer(t)
	ctx := context.Background()

	_, err := srv.ReadPoint(ctx, &structpb.Struct{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = srv.WritePoint(ctx, PointRequest(point))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	req := PointRequest(point)
	req.Fields[FieldPriority] = structpb.NewNumberValue(8)
	req.Fields[FieldValue] = structpb.NewStringValue("warm")
	_, err = srv.WritePoint(ctx, req)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = srv.ReleasePoint(ctx, PointRequest(point))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestParsePriority rejects priorities that are not whole numbers instead of
// truncating them.
func TestParsePriority(t *testing.T) {
	t.Parallel()

	req := ReleaseRequest(point, 8)
	got, err := ParsePriority(req)
	require.NoError(t, err)
	require.Equal(t, 8, got)

	for _, bad := range []*structpb.Value{
		structpb.NewNumberValue(8.9),
		structpb.NewNumberValue(math.NaN()),
		structpb.NewNumberValue(math.Inf(1)),
		structpb.NewNumberValue(1e12),
		structpb.NewStringValue("8"),
	} {
		req.Fields[FieldPriority] = bad
		_, err = ParsePriority(req)
		require.ErrorIs(t, err, errInvalidPriority)
	}
}

// TestServer_RejectsFractionalPriority ensures a fractional priority never
// reaches the gateway.
func TestServer_RejectsFractionalPriority(t *testing.T) {
	t.Parallel()

	srv, gw := newServer(t)

	req := WriteRequest(point, shed.Analog(75), 8)
	req.Fields[FieldPriority] = structpb.NewNumberValue(8.9)

	_, err := srv.WritePoint(context.Background(), req)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Empty(t, gw.CallsOf(shed.OpWrite))
}

// TestServer_WriteReadRelease drives a full override through the adapter.
func TestServer_WriteReadRelease(t *testing.T) {
	t.Parallel()

	srv, gw := newServer(t)
	ctx := context.Background()

	_, err := srv.WritePoint(ctx, WriteRequest(point, shed.Analog(75), 8))
	require.NoError(t, err)

	resp, err := srv.ReadPoint(ctx, PointRequest(point))
	require.NoError(t, err)

	value, err := ParseValue(resp)
	require.NoError(t, err)
	require.Equal(t, shed.Analog(75), value)

	_, err = srv.ReleasePoint(ctx, ReleaseRequest(point, 8))
	require.NoError(t, err)

	st, ok := gw.Point(point.Address, point.Point)
	require.True(t, ok)
	require.Equal(t, shed.Analog(72), st.Present())

	_, err = srv.Shutdown(ctx, new(emptypb.Empty))
	require.NoError(t, err)
	require.True(t, gw.Closed())
}

// TestServer_ErrorCodes checks the gateway error mapping in both directions.
func TestServer_ErrorCodes(t *testing.T) {
	t.Parallel()

	srv, gw := newServer(t)
	ctx := context.Background()

	missing := point
	missing.Point = "av 99"

	_, err := srv.ReadPoint(ctx, PointRequest(missing))
	require.Equal(t, codes.NotFound, status.Code(err))
	require.ErrorIs(t, FromStatus(err), gateway.ErrUnknownPoint)

	_, err = srv.WritePoint(ctx, WriteRequest(point, shed.Analog(75), 0))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	gw.Fail(shed.OpRelease, "", "", gateway.ErrUnavailable)
	_, err = srv.ReleasePoint(ctx, ReleaseRequest(point, 8))
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.ErrorIs(t, FromStatus(err), gateway.ErrUnavailable)

	gw.Fail(shed.OpRead, "", "", errors.New("controller fault"))
	_, err = srv.ReadPoint(ctx, PointRequest(point))
	require.Equal(t, codes.Internal, status.Code(err))
	require.Equal(t, codes.Internal, status.Code(FromStatus(err)))

	require.NoError(t, gw.Shutdown(ctx))
	_, err = srv.ReadPoint(ctx, PointRequest(point))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.ErrorIs(t, FromStatus(err), gateway.ErrClosed)

	require.NoError(t, FromStatus(nil))
}
