// Package api implements the local operations HTTP API for ShardLink.
//
// This package provides:
//   - GET /healthz for liveness and dependency checks
//   - GET /metrics in the Prometheus exposition format
//   - REST endpoints to list paired devices and unpair them
//   - GET /api/v1/system with runtime and pairing statistics
//   - Middleware stack (request ID, logging, recovery)
//
// # Security
//
// Responses never include shard material. The listener is meant for
// localhost or a management network; there is no authentication.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
