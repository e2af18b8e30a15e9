// Package server provides the HTTP API of the consulting session core.
//
// The server is a chi router with request id, logging, panic recovery,
// real IP, CORS and optional per-client rate limiting middleware. It is a
// thin layer over session.Service: every route resolves a live session
// runtime and calls one of its operations.
//
// # API Endpoints
//
//   - /session: open, inspect and end sessions
//   - /session/{id}/consent: poll and submit consent
//   - /session/{id}/text, /message: the auto-research path and transcript
//   - /session/{id}/widget/{type}/*: widget lifecycle and manual analysis
//   - /session/{id}/widget/{type}/device/*: the client's side of a capture
//     device (prompt answers, frames over HTTP or websocket, stops)
//   - /session/{id}/artifact/{kind}: artifact generation as SSE
//   - /event: bus events as SSE, optionally filtered by ?session=
//
// # Server-Sent Events
//
// Event streams use "event: <type>\ndata: <json>\n\n" framing with a
// ": heartbeat" comment every 30 seconds. /event reads the bus through its
// watermill stream, so slow clients never block in-process subscribers.
package server
