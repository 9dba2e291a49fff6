// Package api implements the read-only HTTP status API of the NBE bridge.
//
// This package provides:
//   - Bridge health and runtime metrics
//   - The managed resources with their last observed values
//   - Per-resource value history from the local SQLite trail
//   - A WebSocket stream of value changes
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Endpoints
//
//	GET /api/v1/health
//	GET /api/v1/metrics
//	GET /api/v1/resources
//	GET /api/v1/resources/{key}
//	GET /api/v1/resources/{key}/history?limit=N
//	GET /api/v1/ws
//
// # Graceful Degradation
//
// History is optional. Without a database the history endpoint answers
// 503 and every other endpoint keeps working.
//
// Commands are not accepted here. Home Assistant drives the controller
// through MQTT only.
package api
