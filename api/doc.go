// Package api documents the VoiceFlow HTTP surface; the handlers live in
// api/handlers.
//
// # Endpoints
//
//	POST /v1/sessions                  create a session (character, voice, language)
//	GET  /v1/sessions/{id}             read a session
//	GET  /v1/sessions/{id}/history     conversation lines, oldest first (?limit=N)
//	GET  /v1/voice/ws?session_id=...   websocket carrying turns and stream events
//	GET  /health, /healthz, /ready     liveness and readiness
//	GET  /version                      build information
//	GET  /metrics                      Prometheus metrics (separate port)
//
// # Authentication
//
// When configured, requests carry either "Authorization: Bearer <jwt>" or
// "X-API-Key: <key>". Browsers cannot set headers on a websocket handshake,
// so ?token= is accepted when allow_query_token is enabled.
//
// # Websocket protocol
//
// Client frames are JSON text messages:
//
//	{"type":"turn","turnId":"optional","text":"hello"}
//	{"type":"turn","audio":"<base64>","audioFormat":"wav"}
//	{"type":"cancel"}
//
// Server frames are stream events:
//
//	{"type":"AUDIO_CHUNK","sessionId":"...","turnId":"...","timestamp":"...","payload":{...}}
//
// Every turn starts with TURN_STARTED and ends with exactly one of
// TURN_COMPLETED or TURN_DISCARDED.
package api
