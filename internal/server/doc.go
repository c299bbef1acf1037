// Package server exposes the inboxpilot engine over HTTP.
//
// # Endpoints
//
// Workflow runs stream their events as Server-Sent Events:
//
//	POST   /v1/workflows                      start a run
//	POST   /v1/workflows/{threadID}/resume    resume a suspended run
//
// Every SSE message carries the event sequence number as its id, the event
// type as its event name and the JSON encoded event as its data. A stream
// ends after a done or interrupt event.
//
// Per-user endpoints manage cached tool clients and credentials:
//
//	GET    /v1/users/{userID}/tools           cached tool catalogue
//	DELETE /v1/users/{userID}/cache           drop the cached clients
//	POST   /v1/users/{userID}/cache/rebuild   rebuild the cached clients now
//	POST   /v1/users/{userID}/tokens/refresh  refresh expired tokens (?all=true: every token)
//	GET    /v1/users/{userID}/connections     integration status
//
// # Identity
//
// Authentication happens in front of this server. The authenticated user is
// passed in the X-User-ID header; per-user endpoints reject requests for
// other users.
//
// # Operations
//
// HealthChecker serves /healthz, /readyz and /healthz/detailed for
// Kubernetes probes. MetricsServer serves Prometheus metrics on a separate
// port so operational data is not exposed on the API listener.
package server
