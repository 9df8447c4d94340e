// Package fileonly runs the pipe negotiation without a transport. Callers
// push whole packets in with WritePacket and pull the host's replies out
// with ReadPacket, which suits replaying captured streams from disk.
package fileonly
