// Package pointgw implements the gRPC transport for the Point Gateway.
//
// The service is described by hand instead of generated code: requests and
// responses are google.protobuf.Struct and google.protobuf.Empty messages, so
// the wire format stays plain protobuf without a protoc step. Server adapts a
// gateway.Gateway to the service; the client side lives in service/common.
package pointgw
