// Package protocol owns the profiling pipe wire contract.
//
// Ownership boundary:
// - packet value type and reserved header codes
// - byte-order aware word codec and 8-byte packet header
// - stream metadata and counter selection payloads
// - error taxonomy shared by both connection variants
package protocol
