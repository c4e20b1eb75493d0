// Package rpc exposes the request engine as the gRPC service
// vmorg.v1.RequestService.
//
// Messages are plain structs carried by a JSON codec registered under the
// "json" content subtype, so no generated code is involved. Clients built with
// Dial select the codec automatically; other clients must send
// content-type application/grpc+json.
//
// Status codes:
//
//	PermissionDenied   requestor not entitled
//	Aborted            build service did not create the machine
//	InvalidArgument    malformed machine envelope
//	ResourceExhausted  per-requestor rate limit
//	Unauthenticated    missing or wrong API key
package rpc
