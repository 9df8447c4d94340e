// Package handlers provides stock dispatch handlers: a recorder that
// collects timeline packets and a logger that traces every packet.
package handlers
