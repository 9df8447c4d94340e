// Package dispatch decouples pipe I/O from packet consumers.
//
// Ownership boundary:
// - handler capability and registration table (universal + indexed)
// - lock-guarded packet queue with timed waits
// - single background worker per connection with drain-on-stop
package dispatch
