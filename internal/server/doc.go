// Package server exposes session data over gRPC.
//
// The sessionstore.v1.Sessions service has no generated stubs; its messages
// are well-known protobuf types (structpb.Struct and emptypb.Empty) and the
// service descriptor is declared by hand in service.go. Each RPC runs in
// one storage transaction retried on conflict.
//
// The calling client is identified by the x-client-id metadata key. Writes
// from a caller without an id get a fresh one, returned in the response
// header under the same key.
package server
