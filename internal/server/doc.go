// Package server exposes the backup manager over HTTP.
//
// # Router
//
// [Server.Routes] builds a chi router. Every request passes through [RequestID], [Logger] and
// [Recovery], applied in that order, so panics are logged with the request id that caused them.
//
// # Routes
//
//	GET  /api/status    current [models.SessionView]
//	POST /api/control   {"action":"start|pause|stop"}
//	POST /api/select    {"directories":[...]}
//	POST /api/retry     {"directories":[...]}
//	POST /api/order     {"order":"name|size"}
//	POST /api/scan      rescan the source root
//	GET  /api/logs      ?limit=N, or ?session=ID for persisted entries
//	GET  /api/history   ?limit=N
//	GET  /api/disk      source and destination usage plus readiness
//	GET  /api/events    server-sent event stream
//
// Control errors map to status codes: invalid transitions are 409, unmet start preconditions
// 412, bad input 400. Bodies are always {"error": "..."}.
//
// # Event Stream
//
// /api/events subscribes to the manager, writes the current snapshot as the first event and then
// relays every published message. Each SSE event is named after the message kind and carries a
// JSON envelope {"type", "seq", "at", "data"}. A slow client loses the oldest messages rather than
// stalling the engine; the next snapshot event resynchronizes it.
package server
