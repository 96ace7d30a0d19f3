// Package services is the HTTP client for a running bulkup server.
//
// [APIService] wraps every route of the server package with typed methods used by the CLI
// control commands. Raw [APIService.Get] responses expose gjson lookups for `status --query`.
//
// # Errors
//
// Any non-2xx response becomes an [*APIError] carrying the server's {"error"} message. It unwraps
// to [shared.ErrAPIRequest], so callers can check errors.Is without inspecting status codes.
//
// # Event Stream
//
// [APIService.Watch] reads /api/events line by line and hands each complete event to a callback.
// Keep-alive comments are skipped.
package services
