package capture

import (
	"context"
	"time"

	"github.com/danmuck/profpipe/internal/dispatch"
	"github.com/danmuck/profpipe/internal/protocol"
	"github.com/rs/zerolog/log"
)

const appendTimeout = 2 * time.Second

// Handler is a universal dispatch handler that appends every packet it
// sees to a Store as inbound traffic.
type Handler struct {
	store     *Store
	sessionID string
}

func NewHandler(store *Store, sessionID string) *Handler {
	return &Handler{store: store, sessionID: sessionID}
}

func (*Handler) HeadersAccepted() []uint32 {
	return nil
}

// SetConnection adopts the connection id when no session id was given.
func (h *Handler) SetConnection(c dispatch.Connection) {
	if h.sessionID == "" && c != nil {
		h.sessionID = c.ID()
	}
}

func (h *Handler) HandlePacket(p protocol.Packet) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := h.store.Append(ctx, h.sessionID, Inbound, p); err != nil {
		log.Warn().Str("session", h.sessionID).Err(err).Msg("capture.handler append failed")
	}
}
