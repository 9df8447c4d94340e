package handlers

import (
	"github.com/danmuck/profpipe/internal/dispatch"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/rs/zerolog"
)

// Logger traces every dispatched packet at debug level.
type Logger struct {
	log    zerolog.Logger
	connID string
}

func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

func (*Logger) HeadersAccepted() []uint32 {
	return nil
}

func (l *Logger) SetConnection(c dispatch.Connection) {
	if c != nil {
		l.connID = c.ID()
	}
}

func (l *Logger) HandlePacket(p protocol.Packet) {
	l.log.Debug().
		Str("conn", l.connID).
		Uint32("family", p.Family()).
		Uint32("id", p.ID()).
		Uint32("length", p.Length).
		Msg("handlers.logger packet")
}
