// Package session owns the pipe negotiation shared by both connection
// variants.
//
// Ownership boundary:
//   - stream metadata -> connection ack -> counter directory -> counter
//     selection state machine
//   - packet classification by header code
//   - session timeouts and retry/backoff primitives
package session
