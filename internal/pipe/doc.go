// Package pipe owns the transport-bound side of the profiling pipe.
//
// Ownership boundary:
//   - Conn: one accepted byte-stream socket; handshake, framed reads and
//     writes, readiness polling, diagnostic echo.
//   - Server: accept loop that pairs every Conn with a session.Negotiator
//     and a dispatch.Dispatcher.
//   - Client: device-side dialer used for smoke tests and probing.
//
// Negotiation state and reply construction live in protocol/session;
// handler fan-out lives in dispatch.
package pipe
